package core

import (
	"errors"
	"log/slog"
	"strings"
)

var ErrNilStore = errors.New("store is nil")

// DecisionHook observes every decision the engine produces. Hooks must not
// retain or modify decision.Meta.
type DecisionHook func(key string, decision Decision)

type EngineOption func(*Engine)

// WithLogger logs each decision at debug level.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDecisionHook registers a hook called after every evaluation.
func WithDecisionHook(hook DecisionHook) EngineOption {
	return func(e *Engine) {
		if hook != nil {
			e.hooks = append(e.hooks, hook)
		}
	}
}

// Engine evaluates flags held by a Store. It keeps no mutable state of its
// own and is safe for concurrent use.
type Engine struct {
	store  Store
	logger *slog.Logger
	hooks  []DecisionHook
}

// NewEngine returns an Engine reading definitions from store.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	e := &Engine{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Evaluate runs the decision pipeline for key. The first matching step wins:
// unknown flag, disabled flag, explicit deny, explicit allow (which bypasses
// rollout), unmet eligibility, rollout miss, rollout hit.
func (e *Engine) Evaluate(key string, evalContext EvaluationContext) Decision {
	decision := e.evaluate(key, evalContext)

	e.logger.Debug("flag evaluated",
		"key", key,
		"reason", decision.Reason,
		"enabled", decision.Enabled,
		"variant", decision.Variant,
	)
	for _, hook := range e.hooks {
		hook(key, decision)
	}

	return decision
}

func (e *Engine) evaluate(key string, evalContext EvaluationContext) Decision {
	def, ok := e.store.Find(key)
	if !ok {
		return off(ReasonFlagNotFound, map[string]any{"key": key})
	}

	if !def.enabled {
		return off(ReasonFlagDisabled, map[string]any{"key": key})
	}

	targeting := def.targeting
	if targeting.IsExplicitlyDenied(evalContext) {
		return off(ReasonTargetDeny, map[string]any{"key": key})
	}

	if targeting.IsExplicitlyAllowed(evalContext) {
		variant := pickVariant(def, key, evalContext)
		return Decision{
			Enabled: true,
			Variant: variant,
			Reason:  ReasonTargetAllow,
			Meta:    map[string]any{"key": key, "variant": variant},
		}
	}

	if targeting.HasEligibilityRules() && !targeting.MatchesEligibility(evalContext) {
		return off(ReasonTargetMiss, map[string]any{"key": key})
	}

	if !passesRollout(def.rolloutPercent, key, evalContext) {
		return off(ReasonRolloutOut, map[string]any{"key": key, "rollout": def.rolloutPercent})
	}

	variant := pickVariant(def, key, evalContext)
	return Decision{
		Enabled: true,
		Variant: variant,
		Reason:  ReasonRolloutIn,
		Meta:    map[string]any{"key": key, "variant": variant, "rollout": def.rolloutPercent},
	}
}

// IsEnabled reports only whether key is on for the context.
func (e *Engine) IsEnabled(key string, evalContext EvaluationContext) bool {
	return e.Evaluate(key, evalContext).Enabled
}

// Variant returns the selected variant when the flag is on. Otherwise it
// returns fallback, or VariantOff when fallback is empty.
func (e *Engine) Variant(key string, evalContext EvaluationContext, fallback string) string {
	decision := e.Evaluate(key, evalContext)
	if decision.Enabled {
		return decision.Variant
	}
	if fallback != "" {
		return fallback
	}
	return VariantOff
}

func off(reason Reason, meta map[string]any) Decision {
	return Decision{Variant: VariantOff, Reason: reason, Meta: meta}
}

// passesRollout fails closed: a partial rollout without a basis identity
// never passes.
func passesRollout(percent int, key string, evalContext EvaluationContext) bool {
	if percent >= 100 {
		return true
	}
	if percent <= 0 {
		return false
	}

	basis, ok := basisID(evalContext)
	if !ok {
		return false
	}

	bucket := bucketHash(key+":"+basis) % 100
	return bucket < uint64(percent)
}

func pickVariant(def Definition, key string, evalContext EvaluationContext) string {
	if len(def.variants) == 0 {
		return def.defaultVariant
	}

	basis, ok := basisID(evalContext)
	if !ok {
		return def.defaultVariant
	}

	var total uint64
	for _, variant := range def.variants {
		total += uint64(variant.Weight)
	}
	if total == 0 {
		return def.defaultVariant
	}

	r := bucketHash("variant:"+key+":"+basis) % total
	var cumulative uint64
	for _, variant := range def.variants {
		cumulative += uint64(variant.Weight)
		if r < cumulative {
			return variant.Name
		}
	}

	return def.defaultVariant
}

// basisID returns the identity used for bucketing: the user id, else the
// anonId attribute.
func basisID(evalContext EvaluationContext) (string, bool) {
	if strings.TrimSpace(evalContext.userID) != "" {
		return evalContext.userID, true
	}
	if anon, ok := evalContext.attributes[anonIDAttribute]; ok && strings.TrimSpace(anon) != "" {
		return anon, true
	}
	return "", false
}
