package groupsync

import (
	"context"

	"github.com/ateliercommun/groupsync/command"
	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/membership"
	"github.com/ateliercommun/groupsync/providers/authentik"
	"github.com/ateliercommun/groupsync/providers/brevo"
	"github.com/ateliercommun/groupsync/providers/chat"
	"github.com/ateliercommun/groupsync/providers/nocodb"
	"github.com/ateliercommun/groupsync/providers/outline"
	"github.com/ateliercommun/groupsync/providers/vaultwarden"
)

func AuthentikAdapter(cfg authentik.Config) (core.Adapter, error) {
	return authentik.New(cfg)
}

func ChatAdapter(cfg chat.Config) (*chat.Adapter, error) {
	return chat.New(cfg)
}

func BrevoAdapter(cfg brevo.Config) (*brevo.Adapter, error) {
	return brevo.New(cfg)
}

func NocoDBAdapter(cfg nocodb.Config) (core.Adapter, error) {
	return nocodb.New(cfg)
}

func OutlineAdapter(cfg outline.Config) (core.Adapter, error) {
	return outline.New(cfg)
}

func VaultwardenAdapter(cfg vaultwarden.Config) (core.Adapter, error) {
	return vaultwarden.New(cfg)
}

// chatChannelAPI bridges the chat adapter to the membership source. The
// adapter is already scoped to one team, so the teamID argument is ignored.
type chatChannelAPI struct {
	adapter *chat.Adapter
}

func (a chatChannelAPI) ChannelByName(ctx context.Context, _ string, slug string) (*membership.Channel, error) {
	found, err := a.adapter.ChannelBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, nil
	}
	return &membership.Channel{
		ID:          found.ID,
		Name:        found.Name,
		DisplayName: found.DisplayName,
	}, nil
}

func (a chatChannelAPI) ChannelMembers(ctx context.Context, channelID string) ([]core.Identity, error) {
	return a.adapter.ChannelMemberIdentities(ctx, channelID)
}

func (a chatChannelAPI) TeamChannels(ctx context.Context, _ string) ([]membership.Channel, error) {
	channels, err := a.adapter.TeamChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]membership.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, membership.Channel{
			ID:          ch.ID,
			Name:        ch.Name,
			DisplayName: ch.DisplayName,
		})
	}
	return out, nil
}

// emailDirectory resolves the admin channel and contact list behind the
// transactional email command. Lookups never create resources.
type emailDirectory struct {
	chat   *chat.Adapter
	lists  core.Adapter
	matrix *core.PermissionsMatrix
}

func (d emailDirectory) AdminChannelID(ctx context.Context, entity core.Entity) (string, error) {
	pattern, ok := d.matrix.NamePatternFor(entity.Type, d.chat.ID(), core.VariantAdmin)
	if !ok {
		return "", nil
	}
	slug := core.Slugify(core.FormatName(pattern, entity.BaseName))
	found, err := d.chat.ChannelBySlug(ctx, slug)
	if err != nil {
		return "", err
	}
	if found == nil {
		return "", nil
	}
	return found.ID, nil
}

func (d emailDirectory) ContactListRef(ctx context.Context, entity core.Entity) (core.ResourceRef, bool, error) {
	for _, spec := range d.matrix.SpecsFor(entity.Type) {
		if spec.System != d.lists.ID() {
			continue
		}
		return d.lists.Resolve(ctx, entity, spec)
	}
	return core.ResourceRef{}, false, nil
}

var (
	_ membership.ChannelAPI  = chatChannelAPI{}
	_ command.EmailDirectory = emailDirectory{}
)
