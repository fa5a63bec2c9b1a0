package core

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResourceSpec declares one resource an entity type owns inside one external
// system. Attributes are system-specific (channel type, folder name, grant
// roles) and opaque to the engines; only the owning adapter interprets them.
type ResourceSpec struct {
	System      string         `koanf:"system" yaml:"system"`
	Variant     Variant        `koanf:"variant" yaml:"variant"`
	NamePattern string         `koanf:"name_pattern" yaml:"name_pattern"`
	Attributes  map[string]any `koanf:"attributes" yaml:"attributes"`
}

// ResourceName derives the canonical resource name for an entity. This is
// the deterministic-naming contract: the same (entity, spec) always yields
// the same name, so idempotency needs no local state.
func (s ResourceSpec) ResourceName(entity Entity) string {
	return FormatName(s.NamePattern, entity.BaseName)
}

// Attribute returns a string attribute with a fallback default.
func (s ResourceSpec) Attribute(key string, fallback string) string {
	if s.Attributes == nil {
		return fallback
	}
	value, ok := s.Attributes[key]
	if !ok {
		return fallback
	}
	text := strings.TrimSpace(fmt.Sprint(value))
	if text == "" {
		return fallback
	}
	return text
}

// PermissionsMatrix maps each entity type to its ordered resource specs.
// Order is load-bearing: provisioning walks specs in matrix order because a
// later spec may depend on an earlier one's output in another system.
type PermissionsMatrix struct {
	specs map[EntityType][]ResourceSpec
}

func NewPermissionsMatrix(specs map[EntityType][]ResourceSpec) PermissionsMatrix {
	copied := make(map[EntityType][]ResourceSpec, len(specs))
	for entityType, list := range specs {
		copied[entityType] = append([]ResourceSpec(nil), list...)
	}
	return PermissionsMatrix{specs: copied}
}

func (m PermissionsMatrix) SpecsFor(entityType EntityType) []ResourceSpec {
	return append([]ResourceSpec(nil), m.specs[entityType]...)
}

func (m PermissionsMatrix) EntityTypes() []EntityType {
	types := make([]EntityType, 0, len(m.specs))
	for entityType := range m.specs {
		types = append(types, entityType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (m PermissionsMatrix) Systems() []string {
	seen := map[string]struct{}{}
	for _, list := range m.specs {
		for _, spec := range list {
			seen[strings.TrimSpace(spec.System)] = struct{}{}
		}
	}
	systems := make([]string, 0, len(seen))
	for system := range seen {
		if system != "" {
			systems = append(systems, system)
		}
	}
	sort.Strings(systems)
	return systems
}

// NamePatternFor returns the naming pattern of the first spec matching
// (system, variant), used by the membership source to map channel names
// back to entities.
func (m PermissionsMatrix) NamePatternFor(entityType EntityType, system string, variant Variant) (string, bool) {
	for _, spec := range m.specs[entityType] {
		if strings.EqualFold(spec.System, system) && spec.Variant == variant {
			return spec.NamePattern, true
		}
	}
	return "", false
}

// HasVariant reports whether an entity type declares any spec with the
// given variant. Entity types without admin specs have no admin channel.
func (m PermissionsMatrix) HasVariant(entityType EntityType, variant Variant) bool {
	for _, spec := range m.specs[entityType] {
		if spec.Variant == variant {
			return true
		}
	}
	return false
}

// Validate enforces the fail-fast rules before any external call: every
// entity type carries at least one spec, every spec names a registered
// system, and every variant is one the adapter declares.
func (m PermissionsMatrix) Validate(registry Registry) error {
	if len(m.specs) == 0 {
		return newConfigError("core: permissions matrix is empty")
	}
	for entityType, list := range m.specs {
		if err := entityType.Validate(); err != nil {
			return newConfigError(
				fmt.Sprintf("core: matrix entity type %q is not a known entity type", entityType),
			)
		}
		if len(list) == 0 {
			return newConfigError(
				fmt.Sprintf("core: matrix declares no resources for entity type %s", entityType),
			)
		}
		for _, spec := range list {
			system := strings.TrimSpace(spec.System)
			if system == "" {
				return newConfigError(
					fmt.Sprintf("core: matrix spec for %s is missing a system", entityType),
				)
			}
			if _, err := ParseVariant(string(spec.Variant)); err != nil {
				return newConfigError(
					fmt.Sprintf("core: matrix spec %s/%s has invalid variant %q", entityType, system, spec.Variant),
				)
			}
			if registry == nil {
				continue
			}
			adapter, ok := registry.Get(system)
			if !ok {
				return newConfigError(
					fmt.Sprintf("core: matrix spec %s references unregistered system %q", entityType, system),
				)
			}
			if !variantSupported(adapter, spec.Variant) {
				return newConfigError(
					fmt.Sprintf("core: system %q does not support variant %q (entity type %s)", system, spec.Variant, entityType),
				)
			}
		}
	}
	return nil
}

func variantSupported(adapter Adapter, variant Variant) bool {
	for _, supported := range adapter.Variants() {
		if supported == variant {
			return true
		}
	}
	return false
}

type matrixDocument struct {
	Permissions map[string]matrixEntityDocument `yaml:"permissions"`
}

type matrixEntityDocument struct {
	Resources []ResourceSpec `yaml:"resources"`
}

// ParseMatrix decodes the declarative YAML matrix document. Parsing does not
// validate against a registry; call Validate before first use.
func ParseMatrix(data []byte) (PermissionsMatrix, error) {
	var doc matrixDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return PermissionsMatrix{}, newConfigError(
			fmt.Sprintf("core: permissions matrix is not valid yaml: %v", err),
		)
	}
	if len(doc.Permissions) == 0 {
		return PermissionsMatrix{}, newConfigError(
			"core: permissions matrix document has no permissions section",
		)
	}
	specs := make(map[EntityType][]ResourceSpec, len(doc.Permissions))
	for key, entityDoc := range doc.Permissions {
		entityType, err := ParseEntityType(key)
		if err != nil {
			return PermissionsMatrix{}, newConfigError(
				fmt.Sprintf("core: permissions matrix key %q is not a known entity type", key),
			)
		}
		normalized := make([]ResourceSpec, 0, len(entityDoc.Resources))
		for _, spec := range entityDoc.Resources {
			spec.System = strings.ToLower(strings.TrimSpace(spec.System))
			if spec.Variant == "" {
				spec.Variant = VariantStandard
			}
			spec.Variant = Variant(strings.ToLower(string(spec.Variant)))
			normalized = append(normalized, spec)
		}
		specs[entityType] = normalized
	}
	return NewPermissionsMatrix(specs), nil
}
