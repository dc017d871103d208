package core

import (
	"maps"
	"slices"
)

// Reason is a machine-readable code explaining why a Decision was reached.
type Reason string

const (
	ReasonFlagNotFound Reason = "FLAG_NOT_FOUND"
	ReasonFlagDisabled Reason = "FLAG_DISABLED"
	ReasonTargetDeny   Reason = "TARGET_DENY"
	ReasonTargetAllow  Reason = "TARGET_ALLOW"
	ReasonTargetMiss   Reason = "TARGET_MISS"
	ReasonRolloutOut   Reason = "ROLLOUT_OUT"
	ReasonRolloutIn    Reason = "ROLLOUT_IN"
)

// VariantOff is reported as the variant of every disabled decision.
const VariantOff = "off"

// anonIDAttribute is consulted for a bucketing basis when no user id is set.
const anonIDAttribute = "anonId"

// Decision is the outcome of a single evaluation.
type Decision struct {
	Enabled bool           `json:"enabled"`
	Variant string         `json:"variant"`
	Reason  Reason         `json:"reason"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// EvaluationContext is an immutable snapshot of the caller's identity and
// attributes. Build one per request with NewEvaluationContext.
type EvaluationContext struct {
	userID     string
	groups     map[string]struct{}
	attributes map[string]string
}

// ContextOption configures an EvaluationContext under construction.
type ContextOption func(*EvaluationContext)

// WithUserID sets the stable identifier used for deterministic bucketing.
func WithUserID(userID string) ContextOption {
	return func(c *EvaluationContext) {
		c.userID = userID
	}
}

// WithGroups adds group labels such as "beta" or "staff".
func WithGroups(groups ...string) ContextOption {
	return func(c *EvaluationContext) {
		for _, group := range groups {
			if group != "" {
				c.groups[group] = struct{}{}
			}
		}
	}
}

// WithAttribute sets a single attribute value, e.g. region=KR.
func WithAttribute(name, value string) ContextOption {
	return func(c *EvaluationContext) {
		if name != "" {
			c.attributes[name] = value
		}
	}
}

// WithAttributes merges a set of attribute values.
func WithAttributes(attributes map[string]string) ContextOption {
	return func(c *EvaluationContext) {
		for name, value := range attributes {
			if name != "" {
				c.attributes[name] = value
			}
		}
	}
}

// NewEvaluationContext builds an immutable evaluation context.
func NewEvaluationContext(opts ...ContextOption) EvaluationContext {
	c := EvaluationContext{
		groups:     make(map[string]struct{}),
		attributes: make(map[string]string),
	}
	for _, opt := range opts {
		opt(&c)
	}

	return c
}

// UserID returns the context's user id, or "" when none was set.
func (c EvaluationContext) UserID() string {
	return c.userID
}

// Groups returns the context's groups in sorted order.
func (c EvaluationContext) Groups() []string {
	return slices.Sorted(maps.Keys(c.groups))
}

// HasGroup reports whether the context belongs to group.
func (c EvaluationContext) HasGroup(group string) bool {
	_, ok := c.groups[group]
	return ok
}

// Attribute returns the named attribute value.
func (c EvaluationContext) Attribute(name string) (string, bool) {
	value, ok := c.attributes[name]
	return value, ok
}

// Attributes returns a copy of all attributes.
func (c EvaluationContext) Attributes() map[string]string {
	return maps.Clone(c.attributes)
}
