// Package classify maps a reconciled segment to a tag set.
//
// Matchers are tried in a fixed order (afk status, tmux, app name, browser,
// editor) and the first one that claims the segment decides the outcome.
// The tmux, browser and editor matchers look up the sub-event of a
// specialized watcher that overlaps the segment; see Lookup.
package classify

import (
	"fmt"

	"github.com/roach88/awexport/internal/tags"
)

// Result is the outcome of classifying one segment.
type Result int

const (
	// NoMatch means no rule produced tags. The time counts as unknown.
	NoMatch Result = iota
	// Matched means Tags holds the rule output.
	Matched
	// Ignored means the segment was too short to be worth classifying.
	Ignored
)

func (r Result) String() string {
	switch r {
	case Matched:
		return "matched"
	case NoMatch:
		return "no-match"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Classification is what Classify returns for one segment.
type Classification struct {
	Result Result
	Tags   tags.Set
	// Rule is "type:name" of the rule that produced Tags, e.g. "browser:github"
	// or "afk:status". Empty unless Result is Matched.
	Rule string
}

// IsAFK reports whether the classification is an afk status.
func (c Classification) IsAFK() bool {
	return c.Result == Matched && c.Tags.Has(tags.AFK)
}

// IsStatus reports whether the classification came from an AFK-status
// segment rather than a window rule.
func (c Classification) IsStatus() bool {
	return c.Rule == ruleAFKStatus
}

const ruleAFKStatus = "afk:status"
