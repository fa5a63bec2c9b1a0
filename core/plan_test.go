package core

import "testing"

func TestComputePlan(t *testing.T) {
	desired := []Identity{identity("alice@example.com"), identity("bob@example.com")}
	actual := []Identity{identity("bob@example.com"), identity("carol@example.com")}

	plan := ComputePlan(desired, actual, nil)
	if len(plan.ToAdd) != 1 || plan.ToAdd[0].Key() != "alice@example.com" {
		t.Fatalf("unexpected additions: %v", plan.ToAdd)
	}
	if len(plan.ToRemove) != 1 || plan.ToRemove[0].Key() != "carol@example.com" {
		t.Fatalf("unexpected removals: %v", plan.ToRemove)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0].Key() != "bob@example.com" {
		t.Fatalf("unexpected unchanged: %v", plan.Unchanged)
	}
	if plan.Empty() {
		t.Fatal("expected non-empty plan")
	}
}

func TestComputePlanIsCaseInsensitive(t *testing.T) {
	desired := []Identity{identity("Alice@Example.com")}
	actual := []Identity{identity("alice@example.com")}

	plan := ComputePlan(desired, actual, nil)
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got add=%v remove=%v", plan.ToAdd, plan.ToRemove)
	}
}

func TestComputePlanPreservesExcluded(t *testing.T) {
	excluded := ExcludedSet([]string{" Bot@Example.COM "})
	actual := []Identity{identity("bot@example.com"), identity("carol@example.com")}

	plan := ComputePlan(nil, actual, excluded)
	if len(plan.ToRemove) != 1 || plan.ToRemove[0].Key() != "carol@example.com" {
		t.Fatalf("expected only carol removed, got %v", plan.ToRemove)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0].Key() != "bot@example.com" {
		t.Fatalf("expected bot preserved, got %v", plan.Unchanged)
	}
}

func TestComputePlanNeverAddsExcluded(t *testing.T) {
	excluded := ExcludedSet([]string{"bot@example.com"})
	desired := []Identity{identity("bot@example.com"), identity("alice@example.com")}

	plan := ComputePlan(desired, nil, excluded)
	for _, added := range plan.ToAdd {
		if excluded[added.Key()] {
			t.Fatalf("excluded identity scheduled for add: %s", added.Key())
		}
	}
	if len(plan.ToAdd) != 1 || plan.ToAdd[0].Key() != "alice@example.com" {
		t.Fatalf("expected only alice added, got %v", plan.ToAdd)
	}
}

func TestComputePlanDeduplicates(t *testing.T) {
	desired := []Identity{identity("alice@example.com"), identity("ALICE@example.com")}

	plan := ComputePlan(desired, nil, nil)
	if len(plan.ToAdd) != 1 {
		t.Fatalf("expected one addition for duplicated identity, got %d", len(plan.ToAdd))
	}
}

func TestComputePlanIgnoresBlankEmails(t *testing.T) {
	desired := []Identity{{Email: "  "}, identity("alice@example.com")}

	plan := ComputePlan(desired, nil, nil)
	if len(plan.ToAdd) != 1 {
		t.Fatalf("expected blank email ignored, got %v", plan.ToAdd)
	}
}
