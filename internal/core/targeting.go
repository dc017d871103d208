package core

type stringSet map[string]struct{}

func (s stringSet) has(value string) bool {
	_, ok := s[value]
	return ok
}

// Targeting holds explicit allow/deny lists and attribute eligibility
// requirements. The zero value has no rules.
type Targeting struct {
	allowUserIDs   stringSet
	denyUserIDs    stringSet
	allowGroups    stringSet
	denyGroups     stringSet
	requireAttrsIn map[string]stringSet
}

// TargetingOption configures Targeting under construction.
type TargetingOption func(*Targeting)

func AllowUsers(ids ...string) TargetingOption {
	return func(t *Targeting) { t.allowUserIDs = addAll(t.allowUserIDs, ids) }
}

func DenyUsers(ids ...string) TargetingOption {
	return func(t *Targeting) { t.denyUserIDs = addAll(t.denyUserIDs, ids) }
}

func AllowGroups(groups ...string) TargetingOption {
	return func(t *Targeting) { t.allowGroups = addAll(t.allowGroups, groups) }
}

func DenyGroups(groups ...string) TargetingOption {
	return func(t *Targeting) { t.denyGroups = addAll(t.denyGroups, groups) }
}

// RequireAttribute restricts eligibility to contexts whose attribute name
// holds one of values. Calling it twice for the same name replaces the
// earlier set; an empty values list is ignored.
func RequireAttribute(name string, values ...string) TargetingOption {
	return func(t *Targeting) {
		if len(values) == 0 {
			return
		}
		if t.requireAttrsIn == nil {
			t.requireAttrsIn = make(map[string]stringSet)
		}
		t.requireAttrsIn[name] = addAll(nil, values)
	}
}

// NewTargeting builds immutable targeting rules.
func NewTargeting(opts ...TargetingOption) Targeting {
	var t Targeting
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func addAll(set stringSet, values []string) stringSet {
	if set == nil {
		set = make(stringSet, len(values))
	}
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

// IsExplicitlyDenied reports whether the context's user id or any of its
// groups is on a deny list.
func (t Targeting) IsExplicitlyDenied(evalContext EvaluationContext) bool {
	return matchesIdentity(t.denyUserIDs, t.denyGroups, evalContext)
}

// IsExplicitlyAllowed reports whether the context's user id or any of its
// groups is on an allow list.
func (t Targeting) IsExplicitlyAllowed(evalContext EvaluationContext) bool {
	return matchesIdentity(t.allowUserIDs, t.allowGroups, evalContext)
}

// HasEligibilityRules reports whether any allow list or attribute
// requirement is configured. Deny lists alone are not eligibility rules.
func (t Targeting) HasEligibilityRules() bool {
	return len(t.allowUserIDs) > 0 || len(t.allowGroups) > 0 || len(t.requireAttrsIn) > 0
}

// MatchesEligibility requires every attribute requirement to hold (AND) and,
// when allow lists exist, an allow-list match (OR across users and groups).
func (t Targeting) MatchesEligibility(evalContext EvaluationContext) bool {
	for name, allowed := range t.requireAttrsIn {
		actual, ok := evalContext.attributes[name]
		if !ok || !allowed.has(actual) {
			return false
		}
	}

	if len(t.allowUserIDs) > 0 || len(t.allowGroups) > 0 {
		return t.IsExplicitlyAllowed(evalContext)
	}

	return true
}

func matchesIdentity(users, groups stringSet, evalContext EvaluationContext) bool {
	if evalContext.userID != "" && users.has(evalContext.userID) {
		return true
	}
	for group := range evalContext.groups {
		if groups.has(group) {
			return true
		}
	}
	return false
}
