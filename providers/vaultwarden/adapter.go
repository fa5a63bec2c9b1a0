package vaultwarden

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "vaultwarden"

// memberTypeUser is the Bitwarden organization member type for a regular
// user. Owners and admins are managed out of band and never touched here.
const memberTypeUser = 2

const tokenExpirySkew = 30 * time.Second

type Config struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	OrganizationID string
	Doer           transport.HTTPDoer
	Logger         core.Logger
}

// Adapter manages collections inside one Vaultwarden organization. API
// calls authenticate with a client-credentials token fetched from the
// identity endpoint and refreshed before expiry.
type Adapter struct {
	client *transport.Client
	orgID  string
	logger core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("vaultwarden: client credentials are required")
	}
	if strings.TrimSpace(cfg.OrganizationID) == "" {
		return nil, fmt.Errorf("vaultwarden: organization id is required")
	}
	identity, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	source := &tokenSource{
		client:       identity,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		now:          time.Now,
	}
	doer := cfg.Doer
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, &authDoer{next: doer, source: source})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{
		client: client,
		orgID:  strings.TrimSpace(cfg.OrganizationID),
		logger: logger,
	}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	return []core.Variant{core.VariantStandard}
}

type collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type collectionPage struct {
	Data []collection `json:"data"`
}

type memberCollection struct {
	ID       string `json:"id"`
	ReadOnly bool   `json:"readOnly"`
}

type member struct {
	ID          string             `json:"id"`
	Email       string             `json:"email"`
	Type        int                `json:"type"`
	AccessAll   bool               `json:"accessAll"`
	Collections []memberCollection `json:"collections"`
}

type memberPage struct {
	Data []member `json:"data"`
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

	payload := map[string]any{"name": name, "groups": []any{}, "users": []any{}}
	var created collection
	path := a.orgPath("collections")
	if err := a.client.DoJSON(ctx, http.MethodPost, path, nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	if strings.TrimSpace(created.ID) == "" {
		return core.ResourceRef{}, fmt.Errorf("vaultwarden: collection create response missing id for %q", name)
	}
	a.logger.Debug("vaultwarden collection created", "name", name, "collection_id", created.ID)
	return a.ref(spec, &created), nil
}

// ListGrants reports members explicitly assigned to the collection.
// Members with organization-wide access are administrative and stay
// invisible here so reconciliation never tries to trim them.
func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	members, err := a.members(ctx)
	if err != nil {
		return nil, err
	}
	identities := []core.Identity{}
	for _, m := range members {
		if m.AccessAll || strings.TrimSpace(m.Email) == "" {
			continue
		}
		for _, c := range m.Collections {
			if c.ID == ref.ID {
				identities = append(identities, core.Identity{Email: m.Email})
				break
			}
		}
	}
	return identities, nil
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	existing, err := a.memberByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	if existing == nil {
		payload := map[string]any{
			"emails":      []string{identity.Key()},
			"type":        memberTypeUser,
			"accessAll":   false,
			"collections": []memberCollection{{ID: ref.ID}},
		}
		return a.client.DoJSON(ctx, http.MethodPost, a.orgPath("users/invite"), nil, payload, nil)
	}
	if existing.AccessAll {
		return nil
	}
	for _, c := range existing.Collections {
		if c.ID == ref.ID {
			return nil
		}
	}
	collections := append(existing.Collections, memberCollection{ID: ref.ID})
	return a.updateMember(ctx, existing, collections)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	existing, err := a.memberByEmail(ctx, identity.Email)
	if err != nil {
		return err
	}
	if existing == nil || existing.AccessAll {
		return nil
	}
	collections := make([]memberCollection, 0, len(existing.Collections))
	removed := false
	for _, c := range existing.Collections {
		if c.ID == ref.ID {
			removed = true
			continue
		}
		collections = append(collections, c)
	}
	if !removed {
		return nil
	}
	return a.updateMember(ctx, existing, collections)
}

func (a *Adapter) collectionByName(ctx context.Context, name string) (*collection, error) {
	var out collectionPage
	if err := a.client.DoJSON(ctx, http.MethodGet, a.orgPath("collections"), nil, nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		if out.Data[i].Name == name {
			return &out.Data[i], nil
		}
	}
	return nil, nil
}

func (a *Adapter) members(ctx context.Context) ([]member, error) {
	var out memberPage
	if err := a.client.DoJSON(ctx, http.MethodGet, a.orgPath("users"), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (a *Adapter) memberByEmail(ctx context.Context, email string) (*member, error) {
	members, err := a.members(ctx)
	if err != nil {
		return nil, err
	}
	for i := range members {
		if strings.EqualFold(strings.TrimSpace(members[i].Email), strings.TrimSpace(email)) {
			return &members[i], nil
		}
	}
	return nil, nil
}

func (a *Adapter) updateMember(ctx context.Context, m *member, collections []memberCollection) error {
	payload := map[string]any{
		"type":        m.Type,
		"accessAll":   m.AccessAll,
		"collections": collections,
	}
	return a.client.DoJSON(ctx, http.MethodPut, a.orgPath("users/"+m.ID), nil, payload, nil)
}

func (a *Adapter) orgPath(suffix string) string {
	return "api/organizations/" + a.orgID + "/" + suffix
}

func (a *Adapter) ref(spec core.ResourceSpec, c *collection) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      c.ID,
		Name:    c.Name,
	}
}

type tokenSource struct {
	client       *transport.Client
	clientID     string
	clientSecret string
	now          func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (s *tokenSource) bearer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expires.Add(-tokenExpirySkew)) {
		return s.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", "api")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)

	res, err := s.client.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    "identity/connect/token",
		Headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		Body:    []byte(form.Encode()),
	})
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return "", fmt.Errorf("vaultwarden: decode token response: %w", err)
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", fmt.Errorf("vaultwarden: token response missing access_token")
	}
	s.token = out.AccessToken
	s.expires = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return s.token, nil
}

// authDoer injects the bearer token on every request, refreshing it
// through the shared token source when it is close to expiry.
type authDoer struct {
	next   transport.HTTPDoer
	source *tokenSource
}

func (d *authDoer) Do(req *http.Request) (*http.Response, error) {
	token, err := d.source.bearer(req.Context())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return d.next.Do(req)
}

var _ core.Adapter = (*Adapter)(nil)
