package outline

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "outline"

const (
	PermissionRead      = "read"
	PermissionReadWrite = "read_write"
)

const defaultPageSize = 100

type Config struct {
	BaseURL string
	Token   string
	Doer    transport.HTTPDoer
	// Permissions maps a resource variant to the collection permission its
	// members receive. Admin-channel members get read_write by default.
	Permissions map[core.Variant]string
	Logger      core.Logger
}

func DefaultConfig() Config {
	return Config{
		Permissions: map[core.Variant]string{
			core.VariantStandard: PermissionRead,
			core.VariantAdmin:    PermissionReadWrite,
		},
	}
}

// Adapter manages Outline collections. The Outline API is POST-only; even
// reads go through POST endpoints with a JSON body.
type Adapter struct {
	client      *transport.Client
	permissions map[core.Variant]string
	logger      core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("outline: api token is required")
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	client.DefaultHeaders["Authorization"] = "Bearer " + strings.TrimSpace(cfg.Token)
	permissions := cfg.Permissions
	if len(permissions) == 0 {
		permissions = DefaultConfig().Permissions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{client: client, permissions: permissions, logger: logger}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	return []core.Variant{core.VariantStandard, core.VariantAdmin}
}

type collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type collectionListResponse struct {
	Data       []collection `json:"data"`
	Pagination struct {
		Limit int `json:"limit"`
	} `json:"pagination"`
}

type membershipResponse struct {
	Data struct {
		Memberships []struct {
			UserID string `json:"userId"`
		} `json:"memberships"`
		Users []outlineUser `json:"users"`
	} `json:"data"`
	Pagination struct {
		Limit int `json:"limit"`
	} `json:"pagination"`
}

type outlineUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type userListResponse struct {
	Data []outlineUser `json:"data"`
}

func (a *Adapter) Resolve(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, bool, error) {
	name := spec.ResourceName(entity)
	found, err := a.collectionByName(ctx, name)
	if err != nil {
		return core.ResourceRef{}, false, err
	}
	if found == nil {
		return core.ResourceRef{}, false, nil
	}
	return a.ref(spec, found), true, nil
}

func (a *Adapter) EnsureResource(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, error) {
	name := spec.ResourceName(entity)
	existing, err := a.collectionByName(ctx, name)
	if err != nil {
		return core.ResourceRef{}, err
	}
	if existing != nil {
		return a.ref(spec, existing), nil
	}

	var created struct {
		Data collection `json:"data"`
	}
	payload := map[string]any{"name": name}
	if err := a.client.DoJSON(ctx, http.MethodPost, "api/collections.create", nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	if strings.TrimSpace(created.Data.ID) == "" {
		return core.ResourceRef{}, fmt.Errorf("outline: collection create response missing id for %q", name)
	}
	a.logger.Debug("outline collection created", "name", name, "collection_id", created.Data.ID)
	return a.ref(spec, &created.Data), nil
}

func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	identities := []core.Identity{}
	offset := 0
	for {
		var out membershipResponse
		payload := map[string]any{
			"id":     ref.ID,
			"offset": offset,
			"limit":  defaultPageSize,
		}
		if err := a.client.DoJSON(ctx, http.MethodPost, "api/collections.memberships", nil, payload, &out); err != nil {
			return nil, err
		}
		emailsByID := map[string]string{}
		for _, member := range out.Data.Users {
			emailsByID[member.ID] = member.Email
		}
		for _, membership := range out.Data.Memberships {
			email := emailsByID[membership.UserID]
			if strings.TrimSpace(email) == "" {
				continue
			}
			identities = append(identities, core.Identity{Email: email})
		}
		pageLimit := out.Pagination.Limit
		if pageLimit <= 0 {
			pageLimit = defaultPageSize
		}
		if len(out.Data.Memberships) < pageLimit {
			return identities, nil
		}
		offset += len(out.Data.Memberships)
	}
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"id":         ref.ID,
		"userId":     member.ID,
		"permission": a.permissionFor(ref.Variant),
	}
	return a.client.DoJSON(ctx, http.MethodPost, "api/collections.add_user", nil, payload, nil)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		if transport.IsNotFound(err) {
			return nil
		}
		return err
	}
	payload := map[string]any{
		"id":     ref.ID,
		"userId": member.ID,
	}
	err = a.client.DoJSON(ctx, http.MethodPost, "api/collections.remove_user", nil, payload, nil)
	if transport.IsNotFound(err) {
		return nil
	}
	return err
}

func (a *Adapter) collectionByName(ctx context.Context, name string) (*collection, error) {
	offset := 0
	for {
		var out collectionListResponse
		payload := map[string]any{"offset": offset, "limit": defaultPageSize}
		if err := a.client.DoJSON(ctx, http.MethodPost, "api/collections.list", nil, payload, &out); err != nil {
			return nil, err
		}
		if len(out.Data) == 0 {
			return nil, nil
		}
		for i := range out.Data {
			if out.Data[i].Name == name {
				return &out.Data[i], nil
			}
		}
		pageLimit := out.Pagination.Limit
		if pageLimit <= 0 {
			pageLimit = defaultPageSize
		}
		if len(out.Data) < pageLimit {
			return nil, nil
		}
		offset += len(out.Data)
	}
}

func (a *Adapter) userByEmail(ctx context.Context, email string) (*outlineUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out userListResponse
	payload := map[string]any{"emails": []string{email}, "limit": 1}
	if err := a.client.DoJSON(ctx, http.MethodPost, "api/users.list", nil, payload, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		if strings.EqualFold(out.Data[i].Email, email) {
			return &out.Data[i], nil
		}
	}
	return nil, goerrors.New(
		fmt.Sprintf("outline: no user with email %q", email),
		goerrors.CategoryNotFound,
	).WithTextCode(core.SyncErrorResolutionFailed).WithCode(http.StatusNotFound)
}

func (a *Adapter) permissionFor(variant core.Variant) string {
	if permission, ok := a.permissions[variant]; ok && strings.TrimSpace(permission) != "" {
		return permission
	}
	return PermissionRead
}

func (a *Adapter) ref(spec core.ResourceSpec, c *collection) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      c.ID,
		Name:    c.Name,
	}
}

var _ core.Adapter = (*Adapter)(nil)
