package membership

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ateliercommun/groupsync/core"
)

const matrixYAML = `
permissions:
  project:
    resources:
      - system: chat
        variant: standard
        name_pattern: "Projet - {base_name}"
      - system: chat
        variant: admin
        name_pattern: "Projet - {base_name} - Admin"
  antenna:
    resources:
      - system: chat
        variant: standard
        name_pattern: "Antenne - {base_name}"
`

type fakeChannelAPI struct {
	channels []Channel
	members  map[string][]core.Identity
	err      error
}

func (f *fakeChannelAPI) ChannelByName(_ context.Context, _ string, slug string) (*Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.channels {
		if f.channels[i].Name == slug {
			return &f.channels[i], nil
		}
	}
	return nil, nil
}

func (f *fakeChannelAPI) ChannelMembers(_ context.Context, channelID string) ([]core.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[channelID], nil
}

func (f *fakeChannelAPI) TeamChannels(_ context.Context, _ string) ([]Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.channels, nil
}

func testSource(t *testing.T, api ChannelAPI, excluded ...string) *Source {
	t.Helper()
	matrix, err := core.ParseMatrix([]byte(matrixYAML))
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	source, err := New(api, Config{
		TeamID:        "team-1",
		Matrix:        &matrix,
		ExcludedUsers: excluded,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return source
}

func projectChannel(base string) Channel {
	display := "Projet - " + base
	return Channel{ID: "ch-" + strings.ToLower(base), Name: core.Slugify(display), DisplayName: display}
}

func TestChannelMembersResolvesBySluggedPattern(t *testing.T) {
	api := &fakeChannelAPI{
		channels: []Channel{projectChannel("Alpha")},
		members: map[string][]core.Identity{
			"ch-alpha": {{Email: "alice@example.com"}, {Email: "bob@example.com"}},
		},
	}
	source := testSource(t, api)
	entity := core.Entity{Type: core.EntityTypeProject, BaseName: "Alpha"}

	members, err := source.ChannelMembers(context.Background(), entity, core.VariantStandard)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two members, got %v", members)
	}
}

func TestChannelMembersMissingChannelIsEmpty(t *testing.T) {
	source := testSource(t, &fakeChannelAPI{})
	entity := core.Entity{Type: core.EntityTypeProject, BaseName: "Ghost"}

	members, err := source.ChannelMembers(context.Background(), entity, core.VariantStandard)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty set, got %v", members)
	}
}

func TestChannelMembersMissingVariantPatternIsEmpty(t *testing.T) {
	source := testSource(t, &fakeChannelAPI{})
	entity := core.Entity{Type: core.EntityTypeAntenna, BaseName: "Nord"}

	members, err := source.ChannelMembers(context.Background(), entity, core.VariantAdmin)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty set for variant without pattern, got %v", members)
	}
}

func TestChannelMembersFiltersExcludedUsers(t *testing.T) {
	api := &fakeChannelAPI{
		channels: []Channel{projectChannel("Alpha")},
		members: map[string][]core.Identity{
			"ch-alpha": {{Email: "alice@example.com"}, {Email: "Bot@Example.com"}},
		},
	}
	source := testSource(t, api, "bot@example.com")
	entity := core.Entity{Type: core.EntityTypeProject, BaseName: "Alpha"}

	members, err := source.ChannelMembers(context.Background(), entity, core.VariantStandard)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(members) != 1 || members[0].Key() != "alice@example.com" {
		t.Fatalf("expected excluded user filtered, got %v", members)
	}
}

func TestDiscoverEntitiesFromChannelNames(t *testing.T) {
	api := &fakeChannelAPI{
		channels: []Channel{
			projectChannel("Alpha"),
			{ID: "ch-alpha-admin", Name: "projet-alpha-admin", DisplayName: "Projet - Alpha - Admin"},
			{ID: "ch-nord", Name: "antenne-nord", DisplayName: "Antenne - Nord"},
			{ID: "ch-town", Name: "town-square", DisplayName: "Town Square"},
		},
	}
	source := testSource(t, api)

	entities, err := source.DiscoverEntities(context.Background())
	if err != nil {
		t.Fatalf("DiscoverEntities: %v", err)
	}
	want := []string{"ANTENNA/Nord", "PROJECT/Alpha"}
	if len(entities) != len(want) {
		t.Fatalf("expected %v, got %v", want, entities)
	}
	for i, entity := range entities {
		if entity.String() != want[i] {
			t.Fatalf("expected %v, got %v", want, entities)
		}
	}
}

func TestDiscoverEntitiesPropagatesError(t *testing.T) {
	source := testSource(t, &fakeChannelAPI{err: fmt.Errorf("chat unavailable")})
	if _, err := source.DiscoverEntities(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewValidatesInputs(t *testing.T) {
	matrix, err := core.ParseMatrix([]byte(matrixYAML))
	if err != nil {
		t.Fatalf("ParseMatrix: %v", err)
	}
	if _, err := New(nil, Config{TeamID: "team-1", Matrix: &matrix}); err == nil {
		t.Fatal("expected missing api error")
	}
	if _, err := New(&fakeChannelAPI{}, Config{Matrix: &matrix}); err == nil {
		t.Fatal("expected missing team error")
	}
	if _, err := New(&fakeChannelAPI{}, Config{TeamID: "team-1"}); err == nil {
		t.Fatal("expected missing matrix error")
	}
}
