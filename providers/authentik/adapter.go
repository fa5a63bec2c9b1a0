package authentik

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "authentik"

const defaultPageSize = 100

type Config struct {
	BaseURL  string
	Token    string
	Doer     transport.HTTPDoer
	PageSize int
	Logger   core.Logger
}

// Adapter manages Authentik groups. A group is resolved by exact name,
// created when missing, and its grants are the group's user memberships.
type Adapter struct {
	client   *transport.Client
	pageSize int
	logger   core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("authentik: api token is required")
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	client.DefaultHeaders["Authorization"] = "Bearer " + strings.TrimSpace(cfg.Token)
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{client: client, pageSize: pageSize, logger: logger}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	return []core.Variant{core.VariantStandard, core.VariantAdmin}
}

type group struct {
	PK   string `json:"pk"`
	Name string `json:"name"`
}

type groupPage struct {
	Pagination struct {
		Next int `json:"next"`
	} `json:"pagination"`
	Results []group `json:"results"`
}

type user struct {
	PK    int64  `json:"pk"`
	Email string `json:"email"`
}

type userPage struct {
	Pagination struct {
		Next int `json:"next"`
	} `json:"pagination"`
	Results []user `json:"results"`
}

func (a *Adapter) Resolve(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, bool, error) {
	name := spec.ResourceName(entity)
	found, err := a.groupByName(ctx, name)
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
	existing, err := a.groupByName(ctx, name)
	if err != nil {
		return core.ResourceRef{}, err
	}
	if existing != nil {
		return a.ref(spec, existing), nil
	}

	payload := map[string]any{"name": name, "is_superuser": false}
	var created group
	if err := a.client.DoJSON(ctx, http.MethodPost, "api/v3/core/groups/", nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	if strings.TrimSpace(created.PK) == "" {
		return core.ResourceRef{}, fmt.Errorf("authentik: group create response missing pk for %q", name)
	}
	a.logger.Debug("authentik group created", "name", name, "pk", created.PK)
	return a.ref(spec, &created), nil
}

func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	path := "api/v3/core/groups/" + ref.ID + "/users/"
	identities := []core.Identity{}
	page := 1
	for {
		var out userPage
		query := map[string]string{
			"page":      strconv.Itoa(page),
			"page_size": strconv.Itoa(a.pageSize),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
			return nil, err
		}
		for _, member := range out.Results {
			if strings.TrimSpace(member.Email) == "" {
				continue
			}
			identities = append(identities, core.Identity{Email: member.Email})
		}
		if out.Pagination.Next <= 0 || out.Pagination.Next == page {
			break
		}
		page = out.Pagination.Next
	}
	return identities, nil
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	path := "api/v3/core/groups/" + ref.ID + "/add_user/"
	return a.client.DoJSON(ctx, http.MethodPost, path, nil, map[string]any{"pk": member.PK}, nil)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	member, err := a.userByEmail(ctx, identity.Email)
	if err != nil {
		if transport.IsNotFound(err) {
			return nil
		}
		return err
	}
	path := "api/v3/core/groups/" + ref.ID + "/remove_user/"
	err = a.client.DoJSON(ctx, http.MethodPost, path, nil, map[string]any{"pk": member.PK}, nil)
	if transport.IsNotFound(err) {
		return nil
	}
	return err
}

func (a *Adapter) groupByName(ctx context.Context, name string) (*group, error) {
	page := 1
	for {
		var out groupPage
		query := map[string]string{
			"page":      strconv.Itoa(page),
			"page_size": strconv.Itoa(a.pageSize),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, "api/v3/core/groups/", query, nil, &out); err != nil {
			return nil, err
		}
		for i := range out.Results {
			if out.Results[i].Name == name {
				return &out.Results[i], nil
			}
		}
		if out.Pagination.Next <= 0 || out.Pagination.Next == page {
			return nil, nil
		}
		page = out.Pagination.Next
	}
}

func (a *Adapter) userByEmail(ctx context.Context, email string) (*user, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var out userPage
	query := map[string]string{"email": email}
	if err := a.client.DoJSON(ctx, http.MethodGet, "api/v3/core/users/", query, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Results {
		if strings.EqualFold(out.Results[i].Email, email) {
			return &out.Results[i], nil
		}
	}
	return nil, goerrors.New(
		fmt.Sprintf("authentik: no user with email %q", email),
		goerrors.CategoryNotFound,
	).WithTextCode(core.SyncErrorResolutionFailed).WithCode(http.StatusNotFound)
}

func (a *Adapter) ref(spec core.ResourceSpec, g *group) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      g.PK,
		Name:    g.Name,
	}
}

var _ core.Adapter = (*Adapter)(nil)
