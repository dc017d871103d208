package core

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestNewDefinitionDefaults(t *testing.T) {
	before := time.Now()
	def, err := NewDefinition("new-ui")
	if err != nil {
		t.Fatalf("NewDefinition() error = %v", err)
	}

	if def.Key() != "new-ui" {
		t.Fatalf("Key() = %q, want %q", def.Key(), "new-ui")
	}
	if !def.Enabled() {
		t.Fatal("Enabled() = false, want true")
	}
	if def.RolloutPercent() != 100 {
		t.Fatalf("RolloutPercent() = %d, want 100", def.RolloutPercent())
	}
	if def.DefaultVariant() != DefaultVariantOn {
		t.Fatalf("DefaultVariant() = %q, want %q", def.DefaultVariant(), DefaultVariantOn)
	}
	if len(def.Variants()) != 0 {
		t.Fatalf("Variants() = %v, want empty", def.Variants())
	}
	if def.Targeting().HasEligibilityRules() {
		t.Fatal("Targeting().HasEligibilityRules() = true, want false")
	}
	if def.UpdatedAt().Before(before) {
		t.Fatalf("UpdatedAt() = %v, want >= %v", def.UpdatedAt(), before)
	}
}

func TestNewDefinitionValidation(t *testing.T) {
	if _, err := NewDefinition("  "); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("NewDefinition(blank) error = %v, want %v", err, ErrEmptyKey)
	}
	if _, err := NewDefinition("f", WithVariant(" ", 10)); !errors.Is(err, ErrInvalidVariant) {
		t.Fatalf("NewDefinition(blank variant) error = %v, want %v", err, ErrInvalidVariant)
	}
}

func TestMustDefinitionPanicsOnInvalidInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("MustDefinition(\"\") did not panic")
		}
	}()
	MustDefinition("")
}

func TestDefinitionClamping(t *testing.T) {
	tests := []struct {
		percent int
		want    int
	}{
		{percent: -10, want: 0},
		{percent: 0, want: 0},
		{percent: 42, want: 42},
		{percent: 100, want: 100},
		{percent: 250, want: 100},
	}
	for _, test := range tests {
		def := MustDefinition("f", Rollout(test.percent))
		if got := def.RolloutPercent(); got != test.want {
			t.Fatalf("Rollout(%d) => RolloutPercent() = %d, want %d", test.percent, got, test.want)
		}
	}

	def := MustDefinition("f", WithVariant("a", -3), WithVariant("b", 5))
	want := []Variant{{Name: "a", Weight: 0}, {Name: "b", Weight: 5}}
	if !reflect.DeepEqual(def.Variants(), want) {
		t.Fatalf("Variants() = %#v, want %#v", def.Variants(), want)
	}
}

func TestDefinitionIsImmutable(t *testing.T) {
	def := MustDefinition("f", WithVariant("a", 1), DefaultVariant(" "), UpdatedAt(time.Unix(10, 0)))

	variants := def.Variants()
	variants[0].Name = "mutated"

	if got := def.Variants()[0].Name; got != "a" {
		t.Fatalf("Variants()[0].Name = %q after caller mutation, want %q", got, "a")
	}
	if def.DefaultVariant() != DefaultVariantOn {
		t.Fatalf("DefaultVariant() = %q, want %q", def.DefaultVariant(), DefaultVariantOn)
	}
	if !def.UpdatedAt().Equal(time.Unix(10, 0)) {
		t.Fatalf("UpdatedAt() = %v, want %v", def.UpdatedAt(), time.Unix(10, 0))
	}
}

func TestEvaluationContextIsImmutable(t *testing.T) {
	attrs := map[string]string{"region": "KR", "": "ignored"}
	evalContext := NewEvaluationContext(
		WithUserID("u1"),
		WithGroups("staff", "beta", "", "beta"),
		WithAttributes(attrs),
	)
	attrs["region"] = "US"

	if got, _ := evalContext.Attribute("region"); got != "KR" {
		t.Fatalf("Attribute(region) = %q, want %q", got, "KR")
	}
	if _, ok := evalContext.Attribute(""); ok {
		t.Fatal("Attribute(\"\") present, want ignored")
	}

	copied := evalContext.Attributes()
	copied["region"] = "JP"
	if got, _ := evalContext.Attribute("region"); got != "KR" {
		t.Fatalf("Attribute(region) = %q after copy mutation, want %q", got, "KR")
	}

	if got := evalContext.Groups(); !reflect.DeepEqual(got, []string{"beta", "staff"}) {
		t.Fatalf("Groups() = %v, want [beta staff]", got)
	}
	if !evalContext.HasGroup("beta") || evalContext.HasGroup("") {
		t.Fatal("HasGroup() returned unexpected membership")
	}
}
