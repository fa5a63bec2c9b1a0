package nocodb

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "nocodb"

const (
	RoleOwner    = "owner"
	RoleEditor   = "editor"
	RoleViewer   = "viewer"
	RoleNoAccess = "no-access"
)

type Config struct {
	BaseURL string
	Token   string
	Doer    transport.HTTPDoer
	// Roles maps a resource variant to the role granted to its members.
	// Admin-channel members typically get owner; standard members editor.
	Roles  map[core.Variant]string
	Logger core.Logger
}

func DefaultConfig() Config {
	return Config{
		Roles: map[core.Variant]string{
			core.VariantStandard: RoleEditor,
			core.VariantAdmin:    RoleOwner,
		},
	}
}

// Adapter manages NocoDB bases. Membership is the base's user list; NocoDB
// has no user-removal endpoint on bases, so revocation sets the no-access
// role, and listings hide no-access users so revoked members read as absent.
type Adapter struct {
	client *transport.Client
	roles  map[core.Variant]string
	logger core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("nocodb: api token is required")
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	client.DefaultHeaders["xc-token"] = strings.TrimSpace(cfg.Token)
	roles := cfg.Roles
	if len(roles) == 0 {
		roles = DefaultConfig().Roles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{client: client, roles: roles, logger: logger}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	variants := make([]core.Variant, 0, len(a.roles))
	for variant := range a.roles {
		variants = append(variants, variant)
	}
	if len(variants) == 0 {
		variants = []core.Variant{core.VariantStandard}
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })
	return variants
}

type base struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type baseList struct {
	List []base `json:"list"`
}

type baseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Roles string `json:"roles"`
}

type baseUserList struct {
	Users struct {
		List []baseUser `json:"list"`
	} `json:"users"`
}

func (a *Adapter) Resolve(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, bool, error) {
	title := spec.ResourceName(entity)
	found, err := a.baseByTitle(ctx, title)
	if err != nil {
		return core.ResourceRef{}, false, err
	}
	if found == nil {
		return core.ResourceRef{}, false, nil
	}
	return a.ref(spec, found), true, nil
}

func (a *Adapter) EnsureResource(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, error) {
	title := spec.ResourceName(entity)
	existing, err := a.baseByTitle(ctx, title)
	if err != nil {
		return core.ResourceRef{}, err
	}
	if existing != nil {
		return a.ref(spec, existing), nil
	}

	payload := map[string]any{"title": title, "description": ""}
	var created base
	if err := a.client.DoJSON(ctx, http.MethodPost, "api/v1/db/meta/projects/", nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	if strings.TrimSpace(created.ID) == "" {
		return core.ResourceRef{}, fmt.Errorf("nocodb: base create response missing id for %q", title)
	}
	a.logger.Debug("nocodb base created", "title", title, "base_id", created.ID)
	return a.ref(spec, &created), nil
}

func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	users, err := a.baseUsers(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	identities := []core.Identity{}
	for _, member := range users {
		if strings.TrimSpace(member.Email) == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(member.Roles), RoleNoAccess) {
			continue
		}
		identities = append(identities, core.Identity{Email: member.Email})
	}
	return identities, nil
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	role := a.roleFor(ref.Variant)
	existing, err := a.userByEmail(ctx, ref.ID, identity.Email)
	if err != nil {
		return err
	}
	if existing == nil {
		payload := map[string]any{"email": identity.Key(), "roles": role}
		path := "api/v1/db/meta/projects/" + ref.ID + "/users"
		return a.client.DoJSON(ctx, http.MethodPost, path, nil, payload, nil)
	}
	if strings.EqualFold(strings.TrimSpace(existing.Roles), role) {
		return nil
	}
	return a.setRole(ctx, ref.ID, existing.ID, role)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	existing, err := a.userByEmail(ctx, ref.ID, identity.Email)
	if err != nil {
		return err
	}
	if existing == nil || strings.EqualFold(strings.TrimSpace(existing.Roles), RoleNoAccess) {
		return nil
	}
	return a.setRole(ctx, ref.ID, existing.ID, RoleNoAccess)
}

func (a *Adapter) baseByTitle(ctx context.Context, title string) (*base, error) {
	var out baseList
	if err := a.client.DoJSON(ctx, http.MethodGet, "api/v1/db/meta/projects/", nil, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.List {
		if out.List[i].Title == title {
			return &out.List[i], nil
		}
	}
	return nil, nil
}

func (a *Adapter) baseUsers(ctx context.Context, baseID string) ([]baseUser, error) {
	var out baseUserList
	path := "api/v1/db/meta/projects/" + baseID + "/users"
	if err := a.client.DoJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Users.List, nil
}

func (a *Adapter) userByEmail(ctx context.Context, baseID string, email string) (*baseUser, error) {
	users, err := a.baseUsers(ctx, baseID)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(strings.TrimSpace(users[i].Email), strings.TrimSpace(email)) {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (a *Adapter) setRole(ctx context.Context, baseID string, userID string, role string) error {
	path := "api/v1/db/meta/projects/" + baseID + "/users/" + userID
	return a.client.DoJSON(ctx, http.MethodPatch, path, nil, map[string]any{"roles": role}, nil)
}

func (a *Adapter) roleFor(variant core.Variant) string {
	if role, ok := a.roles[variant]; ok && strings.TrimSpace(role) != "" {
		return role
	}
	return RoleEditor
}

func (a *Adapter) ref(spec core.ResourceSpec, b *base) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      b.ID,
		Name:    b.Title,
	}
}

var _ core.Adapter = (*Adapter)(nil)
