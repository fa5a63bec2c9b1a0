package core

import (
	"strings"
	"testing"
)

const sampleMatrixYAML = `
permissions:
  project:
    resources:
      - system: Chat
        name_pattern: "Projet - {base_name}"
        attributes:
          channel_type: O
          join_requester: true
      - system: chat
        variant: admin
        name_pattern: "Projet - {base_name} - Admin"
        attributes:
          channel_type: P
      - system: directory
        name_pattern: "{base_name}"
  antenna:
    resources:
      - system: directory
        name_pattern: "Antenne {base_name}"
`

func TestParseMatrix(t *testing.T) {
	matrix, err := ParseMatrix([]byte(sampleMatrixYAML))
	if err != nil {
		t.Fatalf("expected matrix to parse, got %v", err)
	}

	projectSpecs := matrix.SpecsFor(EntityTypeProject)
	if len(projectSpecs) != 3 {
		t.Fatalf("expected 3 project specs, got %d", len(projectSpecs))
	}
	if projectSpecs[0].System != "chat" {
		t.Fatalf("expected system normalized to lowercase, got %q", projectSpecs[0].System)
	}
	if projectSpecs[0].Variant != VariantStandard {
		t.Fatalf("expected default variant standard, got %q", projectSpecs[0].Variant)
	}
	if projectSpecs[1].Variant != VariantAdmin {
		t.Fatalf("expected admin variant, got %q", projectSpecs[1].Variant)
	}

	if got := matrix.Systems(); len(got) != 2 || got[0] != "chat" || got[1] != "directory" {
		t.Fatalf("unexpected systems: %v", got)
	}
	if types := matrix.EntityTypes(); len(types) != 2 {
		t.Fatalf("unexpected entity types: %v", types)
	}
}

func TestParseMatrixRejectsUnknownEntityType(t *testing.T) {
	_, err := ParseMatrix([]byte("permissions:\n  squad:\n    resources:\n      - system: chat\n"))
	if err == nil {
		t.Fatal("expected unknown entity type to be rejected")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestParseMatrixRejectsInvalidYAML(t *testing.T) {
	_, err := ParseMatrix([]byte("permissions: ["))
	if err == nil {
		t.Fatal("expected invalid yaml to be rejected")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestMatrixValidate(t *testing.T) {
	matrix, err := ParseMatrix([]byte(sampleMatrixYAML))
	if err != nil {
		t.Fatalf("parse matrix: %v", err)
	}

	registry := NewAdapterRegistry()
	if err := registry.Register(newFakeAdapter("chat", VariantStandard, VariantAdmin)); err != nil {
		t.Fatalf("register chat: %v", err)
	}

	err = matrix.Validate(registry)
	if err == nil {
		t.Fatal("expected unregistered directory system to fail validation")
	}
	if !strings.Contains(err.Error(), "directory") {
		t.Fatalf("expected error to name the missing system, got %v", err)
	}

	if err := registry.Register(newFakeAdapter("directory")); err != nil {
		t.Fatalf("register directory: %v", err)
	}
	if err := matrix.Validate(registry); err != nil {
		t.Fatalf("expected matrix to validate, got %v", err)
	}
}

func TestMatrixValidateRejectsUnsupportedVariant(t *testing.T) {
	matrix := NewPermissionsMatrix(map[EntityType][]ResourceSpec{
		EntityTypeProject: {
			{System: "directory", Variant: VariantAdmin, NamePattern: "{base_name}"},
		},
	})
	registry := NewAdapterRegistry()
	if err := registry.Register(newFakeAdapter("directory")); err != nil {
		t.Fatalf("register directory: %v", err)
	}

	err := matrix.Validate(registry)
	if err == nil {
		t.Fatal("expected unsupported variant to fail validation")
	}
	if !IsConfigError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNamePatternFor(t *testing.T) {
	matrix, err := ParseMatrix([]byte(sampleMatrixYAML))
	if err != nil {
		t.Fatalf("parse matrix: %v", err)
	}

	pattern, ok := matrix.NamePatternFor(EntityTypeProject, "chat", VariantAdmin)
	if !ok || pattern != "Projet - {base_name} - Admin" {
		t.Fatalf("unexpected admin pattern: %q ok=%v", pattern, ok)
	}
	if _, ok := matrix.NamePatternFor(EntityTypeAntenna, "chat", VariantStandard); ok {
		t.Fatal("expected antenna chat pattern to be absent")
	}
	if !matrix.HasVariant(EntityTypeProject, VariantAdmin) {
		t.Fatal("expected project to declare an admin variant")
	}
	if matrix.HasVariant(EntityTypeAntenna, VariantAdmin) {
		t.Fatal("expected antenna to have no admin variant")
	}
}

func TestResourceSpecAttribute(t *testing.T) {
	spec := ResourceSpec{
		System:      "chat",
		NamePattern: "Projet - {base_name}",
		Attributes:  map[string]any{"channel_type": "P", "empty": "  "},
	}
	if got := spec.Attribute("channel_type", "O"); got != "P" {
		t.Fatalf("expected P, got %q", got)
	}
	if got := spec.Attribute("missing", "O"); got != "O" {
		t.Fatalf("expected fallback O, got %q", got)
	}
	if got := spec.Attribute("empty", "O"); got != "O" {
		t.Fatalf("expected blank attribute to fall back, got %q", got)
	}

	entity := Entity{Type: EntityTypeProject, BaseName: "Alpha"}
	if got := spec.ResourceName(entity); got != "Projet - Alpha" {
		t.Fatalf("unexpected resource name: %q", got)
	}
}
