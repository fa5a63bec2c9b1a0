package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidEntityType = errors.New("core: invalid entity type")
	ErrInvalidVariant    = errors.New("core: invalid resource variant")
	ErrSystemNotFound    = errors.New("core: system not registered")
)

// EntityType is the closed set of organizational unit categories known to
// the permissions matrix.
type EntityType string

const (
	EntityTypeProject EntityType = "PROJECT"
	EntityTypeAntenna EntityType = "ANTENNA"
	EntityTypePole    EntityType = "POLE"
)

func ParseEntityType(value string) (EntityType, error) {
	normalized := EntityType(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case EntityTypeProject, EntityTypeAntenna, EntityTypePole:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, value)
}

func (t EntityType) Validate() error {
	_, err := ParseEntityType(string(t))
	return err
}

// Variant distinguishes the standard resource of an entity from its admin
// counterpart. Systems without an admin concept only declare the standard
// variant.
type Variant string

const (
	VariantStandard Variant = "standard"
	VariantAdmin    Variant = "admin"
)

func ParseVariant(value string) (Variant, error) {
	normalized := Variant(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case VariantStandard, VariantAdmin:
		return normalized, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVariant, value)
}

// Entity is an organizational unit whose access bundle is managed as one.
// Entities are never persisted; they exist as command arguments plus the
// channels and resources their name derives.
type Entity struct {
	Type     EntityType
	BaseName string
}

func NewEntity(entityType EntityType, baseName string) (Entity, error) {
	entity := Entity{Type: entityType, BaseName: strings.TrimSpace(baseName)}
	if err := entity.Validate(); err != nil {
		return Entity{}, err
	}
	return entity, nil
}

func (e Entity) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.BaseName) == "" {
		return fmt.Errorf("core: entity base name is required")
	}
	return nil
}

func (e Entity) String() string {
	return string(e.Type) + "/" + e.BaseName
}

// ResourceRef identifies an actually-existing resource inside one external
// system. ID is the remote identifier; Name is the deterministic canonical
// name derived from the entity and spec, stable across runs.
type ResourceRef struct {
	System  string
	Variant Variant
	ID      string
	Name    string
}

func (r ResourceRef) Validate() error {
	if strings.TrimSpace(r.System) == "" {
		return fmt.Errorf("core: resource ref system is required")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("core: resource ref id is required")
	}
	return nil
}

// Identity is one member as the external systems see it. Email is the join
// key across systems; chat user IDs only matter to the membership source.
type Identity struct {
	Email      string
	Username   string
	ChatUserID string
	Admin      bool
}

// Key returns the normalized comparison key for set arithmetic.
func (i Identity) Key() string {
	return strings.ToLower(strings.TrimSpace(i.Email))
}

const namePlaceholder = "{base_name}"

// FormatName expands a matrix naming pattern for an entity base name. An
// empty pattern yields the base name itself.
func FormatName(pattern string, baseName string) string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = namePlaceholder
	}
	return strings.ReplaceAll(pattern, namePlaceholder, baseName)
}

// ExtractBaseName inverts FormatName: given an actual resource or channel
// name and the pattern that produced it, it recovers the base name. The
// second return is false when the name does not match the pattern or the
// pattern carries no placeholder.
func ExtractBaseName(actual string, pattern string) (string, bool) {
	if !strings.Contains(pattern, namePlaceholder) {
		return "", false
	}
	parts := strings.SplitN(pattern, namePlaceholder, 2)
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(actual, prefix) || !strings.HasSuffix(actual, suffix) {
		return "", false
	}
	if len(actual) < len(prefix)+len(suffix) {
		return "", false
	}
	base := actual[len(prefix) : len(actual)-len(suffix)]
	if strings.TrimSpace(base) == "" {
		return "", false
	}
	return base, true
}

var (
	slugSeparators   = regexp.MustCompile(`[\s_]+`)
	slugInvalidRunes = regexp.MustCompile(`[^a-z0-9-]+`)
	slugHyphenRuns   = regexp.MustCompile(`-+`)
)

const maxChannelSlugLen = 64

// Slugify converts a display name to a chat channel slug: lowercase,
// hyphen-separated, alphanumeric, capped at the transport's 64-char limit.
// The slug of a channel name is part of the deterministic naming contract;
// changing these rules orphans previously created channels.
func Slugify(text string) string {
	slug := strings.ToLower(strings.TrimSpace(text))
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugInvalidRunes.ReplaceAllString(slug, "-")
	slug = slugHyphenRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxChannelSlugLen {
		slug = strings.Trim(slug[:maxChannelSlugLen], "-")
	}
	return slug
}
