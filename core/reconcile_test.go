package core

import (
	"context"
	"fmt"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

func newTestReconciler(t *testing.T, registry Registry, matrix PermissionsMatrix, source MembershipSource, options ...Option) *Reconciler {
	t.Helper()
	base := []Option{
		WithRegistry(registry),
		WithMatrix(&matrix),
		WithMembershipSource(source),
		WithLogger(glog.Nop()),
	}
	reconciler, err := NewReconciler(Config{Concurrency: 2}, append(base, options...)...)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return reconciler
}

// reconcileFixture wires one project entity with seeded chat and wiki
// resources plus a membership source.
type reconcileFixture struct {
	registry  *AdapterRegistry
	chat      *fakeAdapter
	directory *fakeAdapter
	wiki      *fakeAdapter
	source    *fakeMembershipSource
	entity    Entity
	chatRef   ResourceRef
	dirRef    ResourceRef
	wikiRef   ResourceRef
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	fixture := &reconcileFixture{
		registry:  NewAdapterRegistry(),
		chat:      newFakeAdapter("chat", VariantStandard, VariantAdmin),
		directory: newFakeAdapter("directory"),
		wiki:      newFakeAdapter("wiki"),
		source:    newFakeMembershipSource(),
		entity:    Entity{Type: EntityTypeProject, BaseName: "Alpha"},
	}
	for _, adapter := range []*fakeAdapter{fixture.chat, fixture.directory, fixture.wiki} {
		if err := fixture.registry.Register(adapter); err != nil {
			t.Fatalf("register %s: %v", adapter.ID(), err)
		}
	}
	fixture.chatRef = fixture.chat.seedResource("Projet - Alpha", VariantStandard)
	fixture.dirRef = fixture.directory.seedResource("Alpha", VariantStandard)
	fixture.wikiRef = fixture.wiki.seedResource("Alpha", VariantStandard)
	fixture.source.entities = []Entity{fixture.entity}
	return fixture
}

func TestReconcileAdditiveIsMonotonic(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard,
		identity("alice@example.com"), identity("bob@example.com"))
	fixture.wiki.seedGrants(fixture.wikiRef, identity("bob@example.com"), identity("carol@example.com"))
	fixture.directory.seedGrants(fixture.dirRef, identity("carol@example.com"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeAdditive})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean run:\n%s", report.Summary())
	}

	for _, adapter := range []*fakeAdapter{fixture.chat, fixture.directory, fixture.wiki} {
		if removes := adapter.callsWithPrefix("remove:"); len(removes) != 0 {
			t.Fatalf("%s: ADDITIVE issued removals: %v", adapter.ID(), removes)
		}
	}
	grants := fixture.wiki.grantKeys(fixture.wikiRef)
	if len(grants) != 3 {
		t.Fatalf("expected superset of prior grants, got %v", grants)
	}
}

func TestReconcileFullConverges(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard,
		identity("alice@example.com"), identity("bob@example.com"))
	fixture.wiki.seedGrants(fixture.wikiRef, identity("bob@example.com"), identity("carol@example.com"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeFull})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean run:\n%s", report.Summary())
	}

	if adds := fixture.wiki.callsWithPrefix("add:"); len(adds) != 1 || adds[0] != "add:alice@example.com" {
		t.Fatalf("expected exactly one add for alice, got %v", adds)
	}
	if removes := fixture.wiki.callsWithPrefix("remove:"); len(removes) != 1 || removes[0] != "remove:carol@example.com" {
		t.Fatalf("expected exactly one remove for carol, got %v", removes)
	}
	grants := fixture.wiki.grantKeys(fixture.wikiRef)
	if len(grants) != 2 {
		t.Fatalf("expected convergence to desired, got %v", grants)
	}
	for _, key := range grants {
		if key != "alice@example.com" && key != "bob@example.com" {
			t.Fatalf("unexpected grant after convergence: %s", key)
		}
	}
}

func TestReconcilePartialIsolation(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))
	fixture.wiki.seedGrants(fixture.wikiRef, identity("carol@example.com"))
	fixture.wiki.failWith("remove:carol@example.com", transientError("retries exhausted"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeFull})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	wikiPair := findPair(t, report, fixture.entity, "wiki")
	if wikiPair.Outcome != PairOutcomePartial {
		t.Fatalf("expected wiki PARTIAL, got %s", wikiPair.Outcome)
	}
	grants := fixture.wiki.grantKeys(fixture.wikiRef)
	hasAlice := false
	for _, key := range grants {
		if key == "alice@example.com" {
			hasAlice = true
		}
	}
	if !hasAlice {
		t.Fatalf("expected alice added despite remove failure, got %v", grants)
	}

	if dirPair := findPair(t, report, fixture.entity, "directory"); dirPair.Outcome != PairOutcomeDone {
		t.Fatalf("expected directory unaffected, got %s", dirPair.Outcome)
	}
}

func TestReconcileSkipOption(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{
		Mode: ModeAdditive,
		Skip: map[string]bool{"directory": true},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if calls := fixture.directory.callLog(); len(calls) != 0 {
		t.Fatalf("expected zero calls to skipped system, got %v", calls)
	}
	pair := findPair(t, report, fixture.entity, "directory")
	if pair.Outcome != PairOutcomeSkipped {
		t.Fatalf("expected SKIPPED, got %s", pair.Outcome)
	}
}

func TestReconcileScopedAuthFailure(t *testing.T) {
	fixture := newReconcileFixture(t)
	beta := Entity{Type: EntityTypeProject, BaseName: "Beta"}
	fixture.source.entities = []Entity{fixture.entity, beta}
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))
	fixture.source.setMembers(beta, VariantStandard, identity("bob@example.com"))
	fixture.chat.seedResource("Projet - Beta", VariantStandard)
	fixture.directory.seedResource("Beta", VariantStandard)
	fixture.wiki.seedResource("Beta", VariantStandard)
	fixture.wiki.failWith("list", authError("wiki credentials rejected"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeAdditive})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	alphaWiki := findPair(t, report, fixture.entity, "wiki")
	betaWiki := findPair(t, report, beta, "wiki")
	degraded := 0
	for _, pair := range []PairReport{alphaWiki, betaWiki} {
		if pair.Outcome == PairOutcomePartial || pair.Outcome == PairOutcomeNotStarted {
			degraded++
		}
	}
	if degraded != 2 {
		t.Fatalf("expected both wiki pairs degraded, got %s and %s", alphaWiki.Outcome, betaWiki.Outcome)
	}

	// Other systems keep working for both entities.
	if pair := findPair(t, report, fixture.entity, "directory"); pair.Outcome != PairOutcomeDone {
		t.Fatalf("expected alpha directory DONE, got %s", pair.Outcome)
	}
	if pair := findPair(t, report, beta, "directory"); pair.Outcome != PairOutcomeDone {
		t.Fatalf("expected beta directory DONE, got %s", pair.Outcome)
	}
}

func TestReconcileMissingResourceIsWarning(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))
	gamma := Entity{Type: EntityTypeProject, BaseName: "Gamma"}
	fixture.source.entities = []Entity{gamma}

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeFull})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	pair := findPair(t, report, gamma, "wiki")
	if pair.Outcome != PairOutcomeSkipped {
		t.Fatalf("expected missing resource SKIPPED, got %s", pair.Outcome)
	}
	if creates := fixture.wiki.callsWithPrefix("create:"); len(creates) != 0 {
		t.Fatalf("reconciliation must not provision, got %v", creates)
	}
}

func TestReconcileExplicitEntitiesBypassDiscovery(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.entities = nil
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{
		Mode:     ModeAdditive,
		Entities: []Entity{fixture.entity},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.Entities) != 1 {
		t.Fatalf("expected one entity from explicit list, got %d", len(report.Entities))
	}
}

func TestReconcilePreservesExcludedUsers(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))
	fixture.wiki.seedGrants(fixture.wikiRef, identity("bot@example.com"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source,
		WithConfigProvider(NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
			"excluded_users": []string{"bot@example.com"},
		}})))
	if _, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeFull}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if removes := fixture.wiki.callsWithPrefix("remove:"); len(removes) != 0 {
		t.Fatalf("expected excluded user preserved, got %v", removes)
	}
	grants := fixture.wiki.grantKeys(fixture.wikiRef)
	found := false
	for _, key := range grants {
		if key == "bot@example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bot still granted, got %v", grants)
	}
}

func TestReconcileRejectsUnknownMode(t *testing.T) {
	fixture := newReconcileFixture(t)
	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)

	if _, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: "SOFT"}); err == nil {
		t.Fatal("expected unknown mode to be rejected")
	}
}

func TestReconcileCancellationMarksRemainingNotStarted(t *testing.T) {
	fixture := newReconcileFixture(t)
	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := reconciler.Reconcile(ctx, ReconcileRequest{
		Mode:     ModeAdditive,
		Entities: []Entity{fixture.entity},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Entities[0].Outcome != PairOutcomeNotStarted {
		t.Fatalf("expected NOT_STARTED, got %s", report.Entities[0].Outcome)
	}
}

func TestParseReconcileMode(t *testing.T) {
	mode, err := ParseReconcileMode(" full ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mode != ModeFull {
		t.Fatalf("expected FULL, got %s", mode)
	}
	if _, err := ParseReconcileMode("soft"); err == nil {
		t.Fatal("expected unknown mode to fail")
	}
}

func TestReconcileMapsPlainGrantErrorsIntoOperations(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.setMembers(fixture.entity, VariantStandard, identity("alice@example.com"))
	fixture.wiki.failWith("add:alice@example.com", fmt.Errorf("wiki: connection reset"))

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	report, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeAdditive})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	wikiPair := findPair(t, report, fixture.entity, "wiki")
	if wikiPair.Outcome != PairOutcomePartial {
		t.Fatalf("expected wiki PARTIAL, got %s", wikiPair.Outcome)
	}
	failed := wikiPair.FailedOperations()
	if len(failed) != 1 || failed[0].Error == "" {
		t.Fatalf("expected one failed operation with an error message, got %+v", wikiPair.Operations)
	}
	if !strings.Contains(failed[0].Error, "connection reset") {
		t.Fatalf("expected original message preserved, got %q", failed[0].Error)
	}
}

func TestReconcileEnvelopesDiscoveryError(t *testing.T) {
	fixture := newReconcileFixture(t)
	fixture.source.err = fmt.Errorf("team lookup failed")

	reconciler := newTestReconciler(t, fixture.registry, testMatrix(), fixture.source)
	_, err := reconciler.Reconcile(context.Background(), ReconcileRequest{Mode: ModeAdditive})
	if err == nil {
		t.Fatal("expected discovery error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected goerrors envelope, got %T: %v", err, err)
	}
	if richErr.TextCode == "" {
		t.Fatalf("expected text code on envelope, got %+v", richErr)
	}
}
