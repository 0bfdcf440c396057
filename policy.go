// policy.go: Static grants and dynamic rule-based policies.
//
// The decision model is a permissive union: access is granted when a static
// grant or any active dynamic policy matches. There is no deny-overrides
// tier; deployments needing one should evaluate deny rules before calling
// Evaluate.
//
// Copyright (c) 2025 Kryptand Labs
// Series: a Kryptand library
// SPDX-License-Identifier: MPL-2.0

package aegis

import (
	"fmt"
	"net/netip"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// Condition kinds.
const (
	ConditionTimeRange      = "time_range"
	ConditionIPRange        = "ip_range"
	ConditionAttributeMatch = "attribute_match"
	ConditionPredicate      = "custom_predicate"
)

// Condition is a tagged constraint attached to a grant or policy. The Type
// selects which fields are meaningful: Start/End for time_range, Allowed
// CIDR prefixes for ip_range, Name/Value for attribute_match, Predicate for
// custom_predicate.
type Condition struct {
	Type      string                        `json:"type"`
	Start     time.Time                     `json:"start,omitempty"`
	End       time.Time                     `json:"end,omitempty"`
	Allowed   []string                      `json:"allowed,omitempty"`
	Name      string                        `json:"name,omitempty"`
	Value     string                        `json:"value,omitempty"`
	Predicate func(ctx RequestContext) bool `json:"-"`
}

// RequestContext carries the evaluation-time facts conditions test against.
type RequestContext struct {
	ClientIP   netip.Addr
	At         time.Time
	Attributes map[string]string
}

// holds reports whether the condition is satisfied. An unknown condition
// type never holds.
func (c Condition) holds(ctx RequestContext) (bool, error) {
	switch c.Type {
	case ConditionTimeRange:
		at := ctx.At
		if !c.Start.IsZero() && at.Before(c.Start) {
			return false, nil
		}
		if !c.End.IsZero() && at.After(c.End) {
			return false, nil
		}
		return true, nil
	case ConditionIPRange:
		if !ctx.ClientIP.IsValid() {
			return false, nil
		}
		for _, cidr := range c.Allowed {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				richErr := goerrors.New(ErrCodePolicyEvaluation, fmt.Sprintf("invalid CIDR %q in ip_range condition", cidr))
				return false, fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
			}
			if prefix.Contains(ctx.ClientIP) {
				return true, nil
			}
		}
		return false, nil
	case ConditionAttributeMatch:
		return ctx.Attributes[c.Name] == c.Value, nil
	case ConditionPredicate:
		if c.Predicate == nil {
			return false, nil
		}
		return c.Predicate(ctx), nil
	}
	richErr := goerrors.New(ErrCodePolicyEvaluation, fmt.Sprintf("unknown condition type %q", c.Type))
	return false, fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
}

// StaticGrant is an explicit permission entry for a single subject.
type StaticGrant struct {
	ID         string      `json:"id"`
	Subject    string      `json:"subject"`
	Resource   string      `json:"resource"`
	Actions    []string    `json:"actions"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// DynamicPolicy is a rule applying to any subject whose request matches its
// resource pattern and action set. Priority orders matched IDs in the
// decision trace only; it never affects the outcome, which is union-based.
type DynamicPolicy struct {
	ID              string      `json:"id"`
	ResourcePattern string      `json:"resourcePattern"`
	Actions         []string    `json:"actions"`
	Conditions      []Condition `json:"conditions,omitempty"`
	Priority        int         `json:"priority"`
	Active          bool        `json:"active"`
}

// PolicyEngine evaluates access requests against static grants and dynamic
// policies. The policy set is a copy-on-write snapshot: a mutation swaps in
// a new slice, so a concurrent evaluation never observes a half-applied
// change.
type PolicyEngine struct {
	mu       sync.RWMutex
	grants   []StaticGrant
	policies []DynamicPolicy
	regexes  map[string]*regexp.Regexp
	cache    *PermCache
	audit    *AuditLogger
	now      func() time.Time
}

// NewPolicyEngine creates an engine. cache and audit may be nil; decisions
// are then uncached and unrecorded.
func NewPolicyEngine(cache *PermCache, audit *AuditLogger) *PolicyEngine {
	return &PolicyEngine{
		regexes: make(map[string]*regexp.Regexp),
		cache:   cache,
		audit:   audit,
		now:     timecache.CachedTime,
	}
}

// AddGrant installs a static grant. The subject's cached decisions are
// invalidated.
func (e *PolicyEngine) AddGrant(g StaticGrant) error {
	if g.ID == "" || g.Subject == "" || g.Resource == "" || len(g.Actions) == 0 {
		richErr := goerrors.New(ErrCodePolicyEvaluation, "grant requires id, subject, resource and at least one action")
		return fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
	}

	e.mu.Lock()
	next := make([]StaticGrant, 0, len(e.grants)+1)
	for _, existing := range e.grants {
		if existing.ID != g.ID {
			next = append(next, existing)
		}
	}
	e.grants = append(next, g)
	e.mu.Unlock()

	if e.cache != nil {
		e.cache.InvalidateSubject(g.Subject)
	}
	return nil
}

// RemoveGrant removes a static grant by ID.
func (e *PolicyEngine) RemoveGrant(id string) {
	var subject string

	e.mu.Lock()
	next := make([]StaticGrant, 0, len(e.grants))
	for _, g := range e.grants {
		if g.ID == id {
			subject = g.Subject
			continue
		}
		next = append(next, g)
	}
	e.grants = next
	e.mu.Unlock()

	if subject != "" && e.cache != nil {
		e.cache.InvalidateSubject(subject)
	}
}

// AddPolicy installs a dynamic policy, validating its resource pattern
// eagerly so a bad pattern is rejected at administration time, not during
// evaluation. Policies apply to all subjects, so the whole decision cache
// is invalidated.
func (e *PolicyEngine) AddPolicy(p DynamicPolicy) error {
	if p.ID == "" || p.ResourcePattern == "" || len(p.Actions) == 0 {
		richErr := goerrors.New(ErrCodePolicyEvaluation, "policy requires id, resourcePattern and at least one action")
		return fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
	}
	if err := e.compilePattern(p.ResourcePattern); err != nil {
		return err
	}

	e.mu.Lock()
	next := make([]DynamicPolicy, 0, len(e.policies)+1)
	for _, existing := range e.policies {
		if existing.ID != p.ID {
			next = append(next, existing)
		}
	}
	e.policies = append(next, p)
	e.mu.Unlock()

	if e.cache != nil {
		e.cache.InvalidateAll()
	}
	return nil
}

// RemovePolicy removes a dynamic policy by ID.
func (e *PolicyEngine) RemovePolicy(id string) {
	e.mu.Lock()
	next := make([]DynamicPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		if p.ID != id {
			next = append(next, p)
		}
	}
	e.policies = next
	e.mu.Unlock()

	if e.cache != nil {
		e.cache.InvalidateAll()
	}
}

// compilePattern validates and caches regex patterns (prefixed "^"). Glob
// patterns are validated with a trial match.
func (e *PolicyEngine) compilePattern(pattern string) error {
	if strings.HasPrefix(pattern, "^") {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.regexes[pattern]; ok {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			richErr := goerrors.Wrap(err, ErrCodePolicyEvaluation, fmt.Sprintf("invalid resource regex %q", pattern))
			return fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
		}
		e.regexes[pattern] = re
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		richErr := goerrors.Wrap(err, ErrCodePolicyEvaluation, fmt.Sprintf("invalid resource glob %q", pattern))
		return fmt.Errorf("%w: %w", ErrPolicyEvaluation, richErr)
	}
	return nil
}

// matchResource applies the pattern to a resource name. Regex patterns are
// pre-compiled by AddPolicy.
func (e *PolicyEngine) matchResource(pattern, resource string) bool {
	if strings.HasPrefix(pattern, "^") {
		e.mu.RLock()
		re, ok := e.regexes[pattern]
		e.mu.RUnlock()
		if !ok {
			return false
		}
		return re.MatchString(resource)
	}
	ok, err := path.Match(pattern, resource)
	if err != nil {
		return false
	}
	if ok {
		return true
	}
	return pattern == resource
}

// Evaluate decides whether subject may perform action on resource under the
// given request context. Access is granted when a matching static grant or
// any matching active dynamic policy exists; the IDs of everything that
// matched are returned for audit, dynamic policies ordered by priority
// (highest first). When a cache is attached, fresh cached decisions are
// returned without re-evaluation. Only decisions that consulted no
// conditions are cached: the cache key carries no request context, so a
// conditional outcome is re-evaluated on every request. A condition error
// fails closed with ErrPolicyEvaluation and nothing is cached.
func (e *PolicyEngine) Evaluate(subject, resource, action string, ctx RequestContext) (Decision, error) {
	if ctx.At.IsZero() {
		ctx.At = e.now()
	}

	if e.cache != nil {
		if d, ok := e.cache.Get(subject, resource, action); ok {
			return d, nil
		}
	}

	e.mu.RLock()
	grants := e.grants
	policies := e.policies
	e.mu.RUnlock()

	var staticIDs []string
	conditional := false
	for _, g := range grants {
		ok, cond, err := e.grantMatches(g, subject, resource, action, ctx)
		if err != nil {
			return Decision{}, err
		}
		conditional = conditional || cond
		if ok {
			staticIDs = append(staticIDs, g.ID)
		}
	}

	type match struct {
		id       string
		priority int
	}
	var dynamic []match
	for _, p := range policies {
		ok, cond, err := e.policyMatches(p, resource, action, ctx)
		if err != nil {
			return Decision{}, err
		}
		conditional = conditional || cond
		if ok {
			dynamic = append(dynamic, match{p.ID, p.Priority})
		}
	}
	sort.SliceStable(dynamic, func(i, j int) bool { return dynamic[i].priority > dynamic[j].priority })

	matched := append([]string{}, staticIDs...)
	for _, m := range dynamic {
		matched = append(matched, m.id)
	}

	d := Decision{Granted: len(matched) > 0, MatchedPolicies: matched}
	switch {
	case len(staticIDs) > 0:
		d.Reason = "static grant"
	case len(dynamic) > 0:
		d.Reason = "dynamic policy"
	default:
		d.Reason = "no matching grant or policy"
	}

	// A decision that consulted conditions is specific to this request
	// context (client IP, time, attributes); the cache key is only the
	// (subject, resource, action) triple, so such decisions are not cached.
	if e.cache != nil && !conditional {
		e.cache.Put(subject, resource, action, d)
	}
	if e.audit != nil {
		e.audit.Record(AuditAccessCheck, subject, resource, d.Granted, d.Reason, map[string]string{
			"action":  action,
			"matched": strings.Join(matched, ","),
		})
	}
	return d, nil
}

// grantMatches reports whether the grant applies to the request, and whether
// the outcome depended on attached conditions (the conditional result, which
// must not be cached across request contexts).
func (e *PolicyEngine) grantMatches(g StaticGrant, subject, resource, action string, ctx RequestContext) (matched, conditional bool, err error) {
	if g.Subject != subject || !e.matchResource(g.Resource, resource) || !containsAction(g.Actions, action) {
		return false, false, nil
	}
	if len(g.Conditions) == 0 {
		return true, false, nil
	}
	ok, err := conditionsHold(g.Conditions, ctx)
	return ok, true, err
}

func (e *PolicyEngine) policyMatches(p DynamicPolicy, resource, action string, ctx RequestContext) (matched, conditional bool, err error) {
	if !p.Active || !e.matchResource(p.ResourcePattern, resource) || !containsAction(p.Actions, action) {
		return false, false, nil
	}
	if len(p.Conditions) == 0 {
		return true, false, nil
	}
	ok, err := conditionsHold(p.Conditions, ctx)
	return ok, true, err
}

func conditionsHold(conds []Condition, ctx RequestContext) (bool, error) {
	for _, c := range conds {
		ok, err := c.holds(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}
