package core

import (
	"strings"
	"testing"
	"time"
)

func TestEntityReportRollup(t *testing.T) {
	report := EntityReport{
		Entity: Entity{Type: EntityTypeProject, BaseName: "Alpha"},
		Pairs: []PairReport{
			{System: "chat", Outcome: PairOutcomeDone},
			{System: "directory", Outcome: PairOutcomeSkipped},
		},
	}
	report.Rollup()
	if report.Outcome != PairOutcomeDone {
		t.Fatalf("expected DONE, got %s", report.Outcome)
	}

	report.Pairs = append(report.Pairs, PairReport{System: "wiki", Outcome: PairOutcomePartial})
	report.Rollup()
	if report.Outcome != PairOutcomePartial {
		t.Fatalf("expected PARTIAL, got %s", report.Outcome)
	}
}

func TestEntityReportRollupKeepsNotStarted(t *testing.T) {
	report := EntityReport{
		Entity:  Entity{Type: EntityTypeProject, BaseName: "Alpha"},
		Outcome: PairOutcomeNotStarted,
		Reason:  "run cancelled",
	}
	report.Rollup()
	if report.Outcome != PairOutcomeNotStarted {
		t.Fatalf("expected NOT_STARTED preserved, got %s", report.Outcome)
	}
}

func TestRunReportClean(t *testing.T) {
	report := RunReport{
		Entities: []EntityReport{
			{Entity: Entity{Type: EntityTypeProject, BaseName: "Alpha"}, Outcome: PairOutcomeDone},
		},
	}
	if !report.Clean() {
		t.Fatal("expected clean report")
	}
	report.Entities = append(report.Entities, EntityReport{
		Entity:  Entity{Type: EntityTypeProject, BaseName: "Beta"},
		Outcome: PairOutcomePartial,
	})
	if report.Clean() {
		t.Fatal("expected degraded report")
	}
}

func TestRunReportSortEntities(t *testing.T) {
	report := RunReport{
		Entities: []EntityReport{
			{Entity: Entity{Type: EntityTypePole, BaseName: "Tech"}},
			{Entity: Entity{Type: EntityTypeAntenna, BaseName: "Lyon"}},
			{Entity: Entity{Type: EntityTypeAntenna, BaseName: "Brest"}},
		},
	}
	report.SortEntities()
	if report.Entities[0].Entity.BaseName != "Brest" || report.Entities[2].Entity.Type != EntityTypePole {
		t.Fatalf("unexpected order: %v", report.Entities)
	}
}

func TestRunReportSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	report := RunReport{
		RunID:      "run-1",
		Kind:       RunKindReconcile,
		Mode:       string(ModeFull),
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Entities: []EntityReport{
			{
				Entity:  Entity{Type: EntityTypeProject, BaseName: "Alpha"},
				Outcome: PairOutcomePartial,
				Pairs: []PairReport{
					{System: "chat", Variant: VariantStandard, Outcome: PairOutcomeDone, Added: 2},
					{System: "wiki", Variant: VariantStandard, Outcome: PairOutcomePartial, Reason: "1 grant operations failed"},
				},
			},
		},
	}

	summary := report.Summary()
	for _, expected := range []string{
		"run-1",
		"PROJECT/Alpha: PARTIAL",
		"chat/standard: DONE (+2/-0)",
		"wiki/standard: PARTIAL 1 grant operations failed",
	} {
		if !strings.Contains(summary, expected) {
			t.Fatalf("summary missing %q:\n%s", expected, summary)
		}
	}
}

func TestPairReportFailedOperations(t *testing.T) {
	pair := PairReport{
		Operations: []OperationResult{
			{Action: "add", Subject: "alice@example.com"},
			{Action: "remove", Subject: "carol@example.com", Error: "boom"},
		},
	}
	failed := pair.FailedOperations()
	if len(failed) != 1 || failed[0].Subject != "carol@example.com" {
		t.Fatalf("unexpected failed operations: %v", failed)
	}
}
