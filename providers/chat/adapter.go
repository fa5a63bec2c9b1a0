package chat

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "chat"

// attrChannelType selects the Mattermost channel type for a spec:
// "O" for public, "P" for private. Admin channels are typically "P".
const attrChannelType = "channel_type"

const defaultChannelType = "O"

const membersPerPage = 200

type Config struct {
	BaseURL string
	Token   string
	TeamID  string
	Doer    transport.HTTPDoer
	Logger  core.Logger
}

// Adapter manages Mattermost channels. The channel URL name is the slug of
// the canonical resource name, which is also how the membership source maps
// channels back to entities.
type Adapter struct {
	client *transport.Client
	teamID string
	logger core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("chat: api token is required")
	}
	if strings.TrimSpace(cfg.TeamID) == "" {
		return nil, fmt.Errorf("chat: team id is required")
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	client.DefaultHeaders["Authorization"] = "Bearer " + strings.TrimSpace(cfg.Token)
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{client: client, teamID: strings.TrimSpace(cfg.TeamID), logger: logger}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	return []core.Variant{core.VariantStandard, core.VariantAdmin}
}

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}

type channelUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (a *Adapter) Resolve(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, bool, error) {
	name := spec.ResourceName(entity)
	found, err := a.channelBySlug(ctx, core.Slugify(name))
	if err != nil {
		return core.ResourceRef{}, false, err
	}
	if found == nil {
		return core.ResourceRef{}, false, nil
	}
	return a.ref(spec, name, found), true, nil
}

func (a *Adapter) EnsureResource(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, error) {
	name := spec.ResourceName(entity)
	slug := core.Slugify(name)
	existing, err := a.channelBySlug(ctx, slug)
	if err != nil {
		return core.ResourceRef{}, err
	}
	if existing != nil {
		return a.ref(spec, name, existing), nil
	}

	channelType := strings.ToUpper(spec.Attribute(attrChannelType, defaultChannelType))
	if channelType != "O" && channelType != "P" {
		return core.ResourceRef{}, fmt.Errorf("chat: invalid channel type %q for %q", channelType, name)
	}
	payload := map[string]any{
		"team_id":      a.teamID,
		"name":         slug,
		"display_name": name,
		"type":         channelType,
	}
	var created Channel
	if err := a.client.DoJSON(ctx, http.MethodPost, "api/v4/channels", nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	a.logger.Debug("chat channel created", "name", slug, "channel_id", created.ID, "type", channelType)
	return a.ref(spec, name, &created), nil
}

func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	identities := []core.Identity{}
	for page := 0; ; page++ {
		var members []channelUser
		query := map[string]string{
			"in_channel": ref.ID,
			"page":       strconv.Itoa(page),
			"per_page":   strconv.Itoa(membersPerPage),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, "api/v4/users", query, nil, &members); err != nil {
			return nil, err
		}
		for _, member := range members {
			if strings.TrimSpace(member.Email) == "" {
				continue
			}
			identities = append(identities, core.Identity{Email: member.Email})
		}
		if len(members) < membersPerPage {
			return identities, nil
		}
	}
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	path := "api/v4/channels/" + ref.ID + "/members"
	return a.client.DoJSON(ctx, http.MethodPost, path, nil, map[string]any{"user_id": member.ID}, nil)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		if transport.IsNotFound(err) {
			return nil
		}
		return err
	}
	path := "api/v4/channels/" + ref.ID + "/members/" + member.ID
	err = a.client.DoJSON(ctx, http.MethodDelete, path, nil, nil, nil)
	if transport.IsNotFound(err) {
		return nil
	}
	return err
}

// ChannelBySlug looks a channel up by its URL name within the configured
// team, returning nil when the channel does not exist.
func (a *Adapter) ChannelBySlug(ctx context.Context, slug string) (*Channel, error) {
	return a.channelBySlug(ctx, slug)
}

// ChannelMemberIdentities reports the email identities of the channel's
// current members.
func (a *Adapter) ChannelMemberIdentities(ctx context.Context, channelID string) ([]core.Identity, error) {
	return a.ListGrants(ctx, core.ResourceRef{System: SystemID, ID: channelID})
}

// TeamChannels lists the public and private channels of the configured
// team, paginated.
func (a *Adapter) TeamChannels(ctx context.Context) ([]Channel, error) {
	channels := []Channel{}
	for _, suffix := range []string{"channels", "channels/private"} {
		path := "api/v4/teams/" + a.teamID + "/" + suffix
		for page := 0; ; page++ {
			var out []Channel
			query := map[string]string{
				"page":     strconv.Itoa(page),
				"per_page": strconv.Itoa(membersPerPage),
			}
			if err := a.client.DoJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
				return nil, err
			}
			channels = append(channels, out...)
			if len(out) < membersPerPage {
				break
			}
		}
	}
	return channels, nil
}

func (a *Adapter) channelBySlug(ctx context.Context, slug string) (*Channel, error) {
	path := "api/v4/teams/" + a.teamID + "/channels/name/" + slug
	var found Channel
	err := a.client.DoJSON(ctx, http.MethodGet, path, nil, nil, &found)
	if err != nil {
		if transport.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &found, nil
}

func (a *Adapter) userByEmail(ctx context.Context, email string) (*channelUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	path := "api/v4/users/email/" + email
	var found channelUser
	if err := a.client.DoJSON(ctx, http.MethodGet, path, nil, nil, &found); err != nil {
		return nil, err
	}
	return &found, nil
}

func (a *Adapter) ref(spec core.ResourceSpec, name string, ch *Channel) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      ch.ID,
		Name:    name,
	}
}

var _ core.Adapter = (*Adapter)(nil)
