package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/tags"
)

// DefaultMaxRetagPasses bounds retag expansion. Rule tables that have not
// settled after this many passes are cyclic.
const DefaultMaxRetagPasses = 32

const sourceTagVar = "$source_tag"

// Violation is one exclusive group with more than one member present.
type Violation struct {
	Group       string
	Conflicting []string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Group, strings.Join(v.Conflicting, ", "))
}

// ExclusiveGroupError reports a tag set that already breaks an exclusive
// group before any retag rule ran.
type ExclusiveGroupError struct {
	Tags       tags.Set
	Violations []Violation
}

func (e *ExclusiveGroupError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("tags %s violate exclusive groups (%s)", e.Tags, strings.Join(parts, "; "))
}

// RetagDivergenceError reports retag rules that never reach a fixpoint.
type RetagDivergenceError struct {
	Passes int
	Last   tags.Set
}

func (e *RetagDivergenceError) Error() string {
	return fmt.Sprintf("retag rules did not settle after %d passes (last: %s)", e.Passes, e.Last)
}

// IsExclusiveGroupError reports whether err is an ExclusiveGroupError.
func IsExclusiveGroupError(err error) bool {
	var e *ExclusiveGroupError
	return errors.As(err, &e)
}

// IsRetagDivergenceError reports whether err is a RetagDivergenceError.
func IsRetagDivergenceError(err error) bool {
	var e *RetagDivergenceError
	return errors.As(err, &e)
}

// Retagger expands tag sets with the retag table while keeping every
// exclusive group to at most one member.
type Retagger struct {
	rules     []config.RetagRule
	groups    []config.ExclusiveGroup
	maxPasses int
	logger    *slog.Logger
}

// NewRetagger creates a retagger. maxPasses <= 0 uses DefaultMaxRetagPasses.
func NewRetagger(rules []config.RetagRule, groups []config.ExclusiveGroup, maxPasses int, logger *slog.Logger) *Retagger {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxRetagPasses
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retagger{rules: rules, groups: groups, maxPasses: maxPasses, logger: logger}
}

// Violations lists the exclusive groups s breaks, in table order.
func (r *Retagger) Violations(s tags.Set) []Violation {
	var out []Violation
	for _, g := range r.groups {
		var hit []string
		for _, t := range g.Tags {
			if s.Has(t) {
				hit = append(hit, t)
			}
		}
		if len(hit) > 1 {
			sort.Strings(hit)
			out = append(out, Violation{Group: g.Name, Conflicting: hit})
		}
	}
	return out
}

// Conflicts reports whether s breaks any exclusive group.
func (r *Retagger) Conflicts(s tags.Set) bool {
	return len(r.Violations(s)) > 0
}

// Apply expands in until no rule changes it. Each rule that fires is
// applied as remove, then replace, then add; if the resulting set breaks an
// exclusive group the rule is skipped for this pass. The input is not
// modified.
func (r *Retagger) Apply(in tags.Set) (tags.Set, error) {
	if v := r.Violations(in); len(v) > 0 {
		return nil, &ExclusiveGroupError{Tags: in.Clone(), Violations: v}
	}
	cur := in.Clone()
	for pass := 0; pass < r.maxPasses; pass++ {
		next := r.pass(cur)
		if next.Equal(cur) {
			return cur, nil
		}
		cur = next
	}
	return nil, &RetagDivergenceError{Passes: r.maxPasses, Last: cur}
}

func (r *Retagger) pass(in tags.Set) tags.Set {
	cur := in.Clone()
	for _, rule := range r.rules {
		hit := cur.Intersect(tags.New(rule.SourceTags...))
		if hit.Empty() {
			continue
		}
		cand := cur.Without(expand(rule.Remove, hit)...)
		if len(rule.Replace) > 0 {
			cand = cand.Without(hit.Sorted()...)
			cand.Add(expand(rule.Replace, hit)...)
		}
		cand.Add(expand(rule.Additions(), hit)...)

		if v := r.Violations(cand); len(v) > 0 {
			r.logger.Warn("skipping retag rule due to exclusive group conflict",
				"rule", rule.Name, "tags", cand.String(), "conflict", v[0].String())
			continue
		}
		cur = cand
	}
	return cur
}

// expand instantiates templates, fanning $source_tag out over every tag
// that triggered the rule.
func expand(templates []string, hit tags.Set) []string {
	var out []string
	for _, t := range templates {
		if !strings.Contains(t, sourceTagVar) {
			out = append(out, t)
			continue
		}
		for _, h := range hit.Sorted() {
			out = append(out, strings.ReplaceAll(t, sourceTagVar, h))
		}
	}
	return out
}
