package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// fakeAdapter is an in-memory Adapter with a call log. Failures are keyed
// by "action:subject" (e.g. "add:carol@example.com") or the catch-all
// action key ("ensure", "list").
type fakeAdapter struct {
	mu        sync.Mutex
	id        string
	variants  []Variant
	resources map[string]ResourceRef
	grants    map[string][]Identity
	calls     []string
	failures  map[string]error
	nextID    int
}

func newFakeAdapter(id string, variants ...Variant) *fakeAdapter {
	if len(variants) == 0 {
		variants = []Variant{VariantStandard}
	}
	return &fakeAdapter{
		id:        id,
		variants:  variants,
		resources: map[string]ResourceRef{},
		grants:    map[string][]Identity{},
		failures:  map[string]error{},
	}
}

func (a *fakeAdapter) ID() string { return a.id }

func (a *fakeAdapter) Variants() []Variant {
	return append([]Variant(nil), a.variants...)
}

func (a *fakeAdapter) failWith(key string, err error) {
	a.mu.Lock()
	a.failures[key] = err
	a.mu.Unlock()
}

func (a *fakeAdapter) failure(keys ...string) error {
	for _, key := range keys {
		if err, ok := a.failures[key]; ok {
			return err
		}
	}
	return nil
}

func (a *fakeAdapter) seedResource(name string, variant Variant) ResourceRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref := ResourceRef{
		System:  a.id,
		Variant: variant,
		ID:      fmt.Sprintf("%s-%d", a.id, a.nextID),
		Name:    name,
	}
	a.resources[resourceKey(name, variant)] = ref
	return ref
}

func (a *fakeAdapter) seedGrants(ref ResourceRef, identities ...Identity) {
	a.mu.Lock()
	a.grants[ref.ID] = append(a.grants[ref.ID], identities...)
	a.mu.Unlock()
}

func (a *fakeAdapter) Resolve(_ context.Context, entity Entity, spec ResourceSpec) (ResourceRef, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := spec.ResourceName(entity)
	a.calls = append(a.calls, "resolve:"+name)
	if err := a.failure("resolve:"+name, "resolve"); err != nil {
		return ResourceRef{}, false, err
	}
	ref, ok := a.resources[resourceKey(name, spec.Variant)]
	return ref, ok, nil
}

func (a *fakeAdapter) EnsureResource(_ context.Context, entity Entity, spec ResourceSpec) (ResourceRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := spec.ResourceName(entity)
	a.calls = append(a.calls, "ensure:"+name)
	if err := a.failure("ensure:"+name, "ensure"); err != nil {
		return ResourceRef{}, err
	}
	if ref, ok := a.resources[resourceKey(name, spec.Variant)]; ok {
		return ref, nil
	}
	a.nextID++
	ref := ResourceRef{
		System:  a.id,
		Variant: spec.Variant,
		ID:      fmt.Sprintf("%s-%d", a.id, a.nextID),
		Name:    name,
	}
	a.resources[resourceKey(name, spec.Variant)] = ref
	a.calls = append(a.calls, "create:"+name)
	return ref, nil
}

func (a *fakeAdapter) ListGrants(_ context.Context, ref ResourceRef) ([]Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "list:"+ref.Name)
	if err := a.failure("list:"+ref.Name, "list"); err != nil {
		return nil, err
	}
	return append([]Identity(nil), a.grants[ref.ID]...), nil
}

func (a *fakeAdapter) AddGrant(_ context.Context, ref ResourceRef, identity Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "add:"+identity.Key())
	if err := a.failure("add:"+identity.Key(), "add"); err != nil {
		return err
	}
	for _, existing := range a.grants[ref.ID] {
		if existing.Key() == identity.Key() {
			return nil
		}
	}
	a.grants[ref.ID] = append(a.grants[ref.ID], identity)
	return nil
}

func (a *fakeAdapter) RemoveGrant(_ context.Context, ref ResourceRef, identity Identity) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "remove:"+identity.Key())
	if err := a.failure("remove:"+identity.Key(), "remove"); err != nil {
		return err
	}
	kept := a.grants[ref.ID][:0]
	for _, existing := range a.grants[ref.ID] {
		if existing.Key() != identity.Key() {
			kept = append(kept, existing)
		}
	}
	a.grants[ref.ID] = kept
	return nil
}

func (a *fakeAdapter) callLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *fakeAdapter) callsWithPrefix(prefix string) []string {
	var matched []string
	for _, call := range a.callLog() {
		if strings.HasPrefix(call, prefix) {
			matched = append(matched, call)
		}
	}
	return matched
}

func (a *fakeAdapter) grantKeys(ref ResourceRef) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.grants[ref.ID]))
	for _, identity := range a.grants[ref.ID] {
		keys = append(keys, identity.Key())
	}
	return keys
}

func resourceKey(name string, variant Variant) string {
	return name + "|" + string(variant)
}

type fakeMembershipSource struct {
	mu       sync.Mutex
	members  map[string][]Identity
	entities []Entity
	err      error
}

func newFakeMembershipSource() *fakeMembershipSource {
	return &fakeMembershipSource{members: map[string][]Identity{}}
}

func (s *fakeMembershipSource) setMembers(entity Entity, variant Variant, identities ...Identity) {
	s.mu.Lock()
	s.members[entity.String()+"|"+string(variant)] = identities
	s.mu.Unlock()
}

func (s *fakeMembershipSource) ChannelMembers(_ context.Context, entity Entity, variant Variant) ([]Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Identity(nil), s.members[entity.String()+"|"+string(variant)]...), nil
}

func (s *fakeMembershipSource) DiscoverEntities(context.Context) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Entity(nil), s.entities...), nil
}

type memoryRunArchive struct {
	mu      sync.Mutex
	reports []RunReport
	err     error
}

func (a *memoryRunArchive) Save(_ context.Context, report RunReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.reports = append(a.reports, report)
	return nil
}

func (a *memoryRunArchive) ListRecent(_ context.Context, limit int) ([]RunReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > len(a.reports) {
		limit = len(a.reports)
	}
	out := make([]RunReport, 0, limit)
	for i := len(a.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.reports[i])
	}
	return out, nil
}

func authError(message string) *goerrors.Error {
	return newSyncError(message, goerrors.CategoryAuth, SyncErrorAuthFailed)
}

func transientError(message string) *goerrors.Error {
	return newSyncError(message, goerrors.CategoryExternal, SyncErrorTransient)
}

func identity(email string) Identity {
	return Identity{Email: email}
}

func testMatrix() PermissionsMatrix {
	return NewPermissionsMatrix(map[EntityType][]ResourceSpec{
		EntityTypeProject: {
			{System: "chat", Variant: VariantStandard, NamePattern: "Projet - {base_name}",
				Attributes: map[string]any{"join_requester": true}},
			{System: "directory", Variant: VariantStandard, NamePattern: "{base_name}"},
			{System: "wiki", Variant: VariantStandard, NamePattern: "{base_name}"},
		},
	})
}

func findPair(t interface {
	Helper()
	Fatalf(format string, args ...any)
}, report RunReport, entity Entity, system string) PairReport {
	t.Helper()
	for _, entityReport := range report.Entities {
		if entityReport.Entity != entity {
			continue
		}
		for _, pair := range entityReport.Pairs {
			if pair.System == system {
				return pair
			}
		}
	}
	t.Fatalf("pair %s/%s not found in report", entity, system)
	return PairReport{}
}
