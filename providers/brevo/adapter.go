package brevo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/ateliercommun/groupsync/core"
	"github.com/ateliercommun/groupsync/transport"
)

const SystemID = "brevo"

// attrFolder names the Brevo folder a contact list is created under. When
// the folder cannot be found the list lands in the default folder instead,
// with a warning; a missing folder never blocks list creation.
const attrFolder = "folder"

const defaultListPageSize = 50
const defaultContactPageSize = 500
const defaultFolderID = 1

const DefaultBaseURL = "https://api.brevo.com/v3"

type Config struct {
	BaseURL     string
	APIKey      string
	SenderEmail string
	SenderName  string
	Doer        transport.HTTPDoer
	Logger      core.Logger
}

func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL}
}

// Adapter manages Brevo contact lists. It also implements core.EmailSender:
// a transactional email addressed to a list ref fans out to the list's
// current contacts.
type Adapter struct {
	client      *transport.Client
	senderEmail string
	senderName  string
	logger      core.Logger
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("brevo: api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client, err := transport.NewClient(SystemID, cfg.BaseURL, cfg.Doer)
	if err != nil {
		return nil, err
	}
	client.DefaultHeaders["api-key"] = strings.TrimSpace(cfg.APIKey)
	logger := cfg.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	return &Adapter{
		client:      client,
		senderEmail: strings.TrimSpace(cfg.SenderEmail),
		senderName:  strings.TrimSpace(cfg.SenderName),
		logger:      logger,
	}, nil
}

func (a *Adapter) ID() string {
	return SystemID
}

func (a *Adapter) Variants() []core.Variant {
	return []core.Variant{core.VariantStandard}
}

type contactList struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type listPage struct {
	Lists []contactList `json:"lists"`
	Count int           `json:"count"`
}

type contact struct {
	Email string `json:"email"`
}

type contactPage struct {
	Contacts []contact `json:"contacts"`
	Count    int       `json:"count"`
}

type folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type folderPage struct {
	Folders []folder `json:"folders"`
	Count   int      `json:"count"`
}

func (a *Adapter) Resolve(ctx context.Context, entity core.Entity, spec core.ResourceSpec) (core.ResourceRef, bool, error) {
	name := spec.ResourceName(entity)
	found, err := a.listByName(ctx, name)
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
	existing, err := a.listByName(ctx, name)
	if err != nil {
		return core.ResourceRef{}, err
	}
	if existing != nil {
		return a.ref(spec, existing), nil
	}

	folderID := int64(defaultFolderID)
	if folderName := spec.Attribute(attrFolder, ""); folderName != "" {
		id, err := a.folderIDByName(ctx, folderName)
		if err != nil {
			return core.ResourceRef{}, err
		}
		if id > 0 {
			folderID = id
		} else {
			a.logger.Warn("brevo folder not found, using default folder",
				"folder", folderName, "list", name)
		}
	}

	payload := map[string]any{"name": name, "folderId": folderID}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := a.client.DoJSON(ctx, http.MethodPost, "contacts/lists", nil, payload, &created); err != nil {
		return core.ResourceRef{}, err
	}
	if created.ID == 0 {
		return core.ResourceRef{}, fmt.Errorf("brevo: list create response missing id for %q", name)
	}
	a.logger.Debug("brevo list created", "name", name, "list_id", created.ID, "folder_id", folderID)
	return a.ref(spec, &contactList{ID: created.ID, Name: name}), nil
}

func (a *Adapter) ListGrants(ctx context.Context, ref core.ResourceRef) ([]core.Identity, error) {
	path := "contacts/lists/" + ref.ID + "/contacts"
	identities := []core.Identity{}
	offset := 0
	for {
		var out contactPage
		query := map[string]string{
			"limit":  strconv.Itoa(defaultContactPageSize),
			"offset": strconv.Itoa(offset),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
			return nil, err
		}
		if len(out.Contacts) == 0 {
			return identities, nil
		}
		for _, member := range out.Contacts {
			if strings.TrimSpace(member.Email) == "" {
				continue
			}
			identities = append(identities, core.Identity{Email: member.Email})
		}
		if len(out.Contacts) < defaultContactPageSize {
			return identities, nil
		}
		offset += len(out.Contacts)
	}
}

func (a *Adapter) AddGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	listID, err := a.listID(ref)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"email":         identity.Key(),
		"listIds":       []int64{listID},
		"updateEnabled": true,
	}
	return a.client.DoJSON(ctx, http.MethodPost, "contacts", nil, payload, nil)
}

func (a *Adapter) RemoveGrant(ctx context.Context, ref core.ResourceRef, identity core.Identity) error {
	listID, err := a.listID(ref)
	if err != nil {
		return err
	}
	path := "contacts/" + url.PathEscape(identity.Key())
	payload := map[string]any{"unlinkListIds": []int64{listID}}
	err = a.client.DoJSON(ctx, http.MethodPut, path, nil, payload, nil)
	if transport.IsNotFound(err) {
		return nil
	}
	return err
}

// SendEmail delivers one transactional email to every current contact of
// the referenced list.
func (a *Adapter) SendEmail(ctx context.Context, req core.SendEmailRequest) error {
	if a.senderEmail == "" {
		return fmt.Errorf("brevo: sender email is required to send email")
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return fmt.Errorf("brevo: email subject and body are required")
	}
	recipients, err := a.ListGrants(ctx, req.ListRef)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		a.logger.Warn("brevo list has no contacts, email not sent", "list", req.ListRef.Name)
		return nil
	}
	to := make([]map[string]string, 0, len(recipients))
	for _, recipient := range recipients {
		to = append(to, map[string]string{"email": recipient.Key()})
	}
	payload := map[string]any{
		"sender":      map[string]string{"email": a.senderEmail, "name": a.senderName},
		"to":          to,
		"subject":     req.Subject,
		"textContent": req.Body,
	}
	return a.client.DoJSON(ctx, http.MethodPost, "smtp/email", nil, payload, nil)
}

func (a *Adapter) listByName(ctx context.Context, name string) (*contactList, error) {
	offset := 0
	for {
		var out listPage
		query := map[string]string{
			"limit":  strconv.Itoa(defaultListPageSize),
			"offset": strconv.Itoa(offset),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, "contacts/lists", query, nil, &out); err != nil {
			return nil, err
		}
		if len(out.Lists) == 0 {
			return nil, nil
		}
		for i := range out.Lists {
			if out.Lists[i].Name == name {
				return &out.Lists[i], nil
			}
		}
		offset += len(out.Lists)
		if len(out.Lists) < defaultListPageSize || offset >= out.Count {
			return nil, nil
		}
	}
}

func (a *Adapter) folderIDByName(ctx context.Context, name string) (int64, error) {
	offset := 0
	for {
		var out folderPage
		query := map[string]string{
			"limit":  strconv.Itoa(defaultListPageSize),
			"offset": strconv.Itoa(offset),
		}
		if err := a.client.DoJSON(ctx, http.MethodGet, "contacts/folders", query, nil, &out); err != nil {
			return 0, err
		}
		if len(out.Folders) == 0 {
			return 0, nil
		}
		for _, f := range out.Folders {
			if f.Name == name {
				return f.ID, nil
			}
		}
		offset += len(out.Folders)
		if len(out.Folders) < defaultListPageSize || offset >= out.Count {
			return 0, nil
		}
	}
}

func (a *Adapter) listID(ref core.ResourceRef) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(ref.ID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("brevo: invalid list id %q: %w", ref.ID, err)
	}
	return id, nil
}

func (a *Adapter) ref(spec core.ResourceSpec, list *contactList) core.ResourceRef {
	return core.ResourceRef{
		System:  SystemID,
		Variant: spec.Variant,
		ID:      strconv.FormatInt(list.ID, 10),
		Name:    list.Name,
	}
}

var _ core.Adapter = (*Adapter)(nil)

var _ core.EmailSender = (*Adapter)(nil)
