package membership

import (
	"context"
	"fmt"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
)

// chatSystem is the matrix system whose naming patterns drive channel
// lookup and entity discovery.
const chatSystem = "chat"

// Channel is the slice of a chat channel the membership source needs.
type Channel struct {
	ID          string
	Name        string
	DisplayName string
}

// ChannelAPI is the injected chat client contract. ChannelByName returns
// nil without error when the channel does not exist.
type ChannelAPI interface {
	ChannelByName(ctx context.Context, teamID string, slug string) (*Channel, error)
	ChannelMembers(ctx context.Context, channelID string) ([]core.Identity, error)
	TeamChannels(ctx context.Context, teamID string) ([]Channel, error)
}

type Config struct {
	TeamID        string
	Matrix        *core.PermissionsMatrix
	ExcludedUsers []string
	Logger        core.Logger
}

// Source reads desired membership from chat channels. Channel names are
// derived from the matrix naming patterns; a missing channel yields an
// empty member set, not an error.
type Source struct {
	api      ChannelAPI
	teamID   string
	matrix   *core.PermissionsMatrix
	excluded map[string]bool
	logger   core.Logger
}

func New(api ChannelAPI, cfg Config) (*Source, error) {
	if api == nil {
		return nil, fmt.Errorf("membership: channel api is required")
	}
	if strings.TrimSpace(cfg.TeamID) == "" {
		return nil, fmt.Errorf("membership: team id is required")
	}
	if cfg.Matrix == nil {
		return nil, fmt.Errorf("membership: permissions matrix is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Source{
		api:      api,
		teamID:   strings.TrimSpace(cfg.TeamID),
		matrix:   cfg.Matrix,
		excluded: core.ExcludedSet(cfg.ExcludedUsers),
		logger:   logger,
	}, nil
}

func (s *Source) ChannelMembers(ctx context.Context, entity core.Entity, variant core.Variant) ([]core.Identity, error) {
	pattern, ok := s.matrix.NamePatternFor(entity.Type, chatSystem, variant)
	if !ok {
		return []core.Identity{}, nil
	}
	slug := core.Slugify(core.FormatName(pattern, entity.BaseName))
	channel, err := s.api.ChannelByName(ctx, s.teamID, slug)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		s.logger.Debug("membership channel missing, treating as empty",
			"entity", entity.String(), "variant", string(variant), "channel", slug)
		return []core.Identity{}, nil
	}
	members, err := s.api.ChannelMembers(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	filtered := make([]core.Identity, 0, len(members))
	for _, member := range members {
		key := member.Key()
		if key == "" || s.excluded[key] {
			continue
		}
		filtered = append(filtered, member)
	}
	return filtered, nil
}

// DiscoverEntities enumerates team channels and maps their display names
// back through the matrix naming patterns. Admin patterns are tried before
// standard ones so an admin channel never masquerades as a distinct entity.
func (s *Source) DiscoverEntities(ctx context.Context) ([]core.Entity, error) {
	channels, err := s.api.TeamChannels(ctx, s.teamID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	entities := []core.Entity{}
	for _, channel := range channels {
		entity, ok := s.entityForChannel(channel)
		if !ok {
			continue
		}
		key := entity.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].BaseName < entities[j].BaseName
	})
	return entities, nil
}

func (s *Source) entityForChannel(channel Channel) (core.Entity, bool) {
	name := strings.TrimSpace(channel.DisplayName)
	if name == "" {
		return core.Entity{}, false
	}
	for _, entityType := range s.matrix.EntityTypes() {
		for _, variant := range []core.Variant{core.VariantAdmin, core.VariantStandard} {
			pattern, ok := s.matrix.NamePatternFor(entityType, chatSystem, variant)
			if !ok {
				continue
			}
			base, matched := core.ExtractBaseName(name, pattern)
			if !matched {
				continue
			}
			entity, err := core.NewEntity(entityType, base)
			if err != nil {
				continue
			}
			return entity, true
		}
	}
	return core.Entity{}, false
}

var _ core.MembershipSource = (*Source)(nil)
