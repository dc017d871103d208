package core

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// DefaultVariantOn is the variant served by boolean flags.
const DefaultVariantOn = "on"

var (
	ErrEmptyKey       = errors.New("flag key is required")
	ErrInvalidVariant = errors.New("variant name is required")
)

// Variant is a named outcome with a relative selection weight. Weights do
// not need to sum to 100.
type Variant struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// Definition is the immutable configuration of one flag.
type Definition struct {
	key            string
	enabled        bool
	rolloutPercent int
	targeting      Targeting
	variants       []Variant
	defaultVariant string
	updatedAt      time.Time
}

// DefinitionOption configures a Definition under construction.
type DefinitionOption func(*definitionBuilder)

type definitionBuilder struct {
	def Definition
	err error
}

// Enabled sets the global kill switch. Flags are enabled by default.
func Enabled(enabled bool) DefinitionOption {
	return func(b *definitionBuilder) {
		b.def.enabled = enabled
	}
}

// Rollout sets the rollout percentage. Values outside [0,100] are clamped.
func Rollout(percent int) DefinitionOption {
	return func(b *definitionBuilder) {
		b.def.rolloutPercent = min(max(percent, 0), 100)
	}
}

// WithTargeting sets the flag's targeting rules.
func WithTargeting(targeting Targeting) DefinitionOption {
	return func(b *definitionBuilder) {
		b.def.targeting = targeting
	}
}

// WithVariant appends a weighted variant. Negative weights become 0.
func WithVariant(name string, weight int) DefinitionOption {
	return func(b *definitionBuilder) {
		if strings.TrimSpace(name) == "" {
			b.err = errors.Join(b.err, ErrInvalidVariant)
			return
		}
		b.def.variants = append(b.def.variants, Variant{Name: name, Weight: max(weight, 0)})
	}
}

// DefaultVariant sets the variant served when weighted selection cannot
// proceed. A blank value keeps DefaultVariantOn.
func DefaultVariant(variant string) DefinitionOption {
	return func(b *definitionBuilder) {
		if strings.TrimSpace(variant) != "" {
			b.def.defaultVariant = variant
		}
	}
}

// UpdatedAt records when the definition last changed. It is informational.
func UpdatedAt(at time.Time) DefinitionOption {
	return func(b *definitionBuilder) {
		b.def.updatedAt = at
	}
}

// NewDefinition validates and builds a Definition for key.
func NewDefinition(key string, opts ...DefinitionOption) (Definition, error) {
	if strings.TrimSpace(key) == "" {
		return Definition{}, ErrEmptyKey
	}

	b := definitionBuilder{def: Definition{
		key:            key,
		enabled:        true,
		rolloutPercent: 100,
		defaultVariant: DefaultVariantOn,
	}}
	for _, opt := range opts {
		opt(&b)
	}
	if b.err != nil {
		return Definition{}, b.err
	}
	if b.def.updatedAt.IsZero() {
		b.def.updatedAt = time.Now()
	}

	return b.def, nil
}

// MustDefinition is like NewDefinition but panics on invalid input. It is
// intended for static definitions in tests and examples.
func MustDefinition(key string, opts ...DefinitionOption) Definition {
	def, err := NewDefinition(key, opts...)
	if err != nil {
		panic(err)
	}
	return def
}

func (d Definition) Key() string            { return d.key }
func (d Definition) Enabled() bool          { return d.enabled }
func (d Definition) RolloutPercent() int    { return d.rolloutPercent }
func (d Definition) Targeting() Targeting   { return d.targeting }
func (d Definition) DefaultVariant() string { return d.defaultVariant }
func (d Definition) UpdatedAt() time.Time   { return d.updatedAt }

// Variants returns a copy of the weighted variants in declaration order.
// An empty result means the flag is boolean.
func (d Definition) Variants() []Variant {
	return slices.Clone(d.variants)
}
