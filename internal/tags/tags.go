// Package tags provides the Set type used as the unit of classification
// output, plus the well-known tags the rest of awexport reasons about.
package tags

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Well-known tags.
const (
	AFK      = "afk"
	NotAFK   = "not-afk"
	Manual   = "manual"
	Override = "override"
	Unknown  = "UNKNOWN"
	// Marker is added to every entry awexport commits so that manually
	// started ledger entries can be told apart from ours.
	Marker = "~aw"
)

// special tags never qualify an accumulator for export on their own.
var special = map[string]bool{
	Manual:   true,
	Override: true,
	NotAFK:   true,
}

// IsSpecial reports whether tag is bookkeeping rather than activity.
func IsSpecial(tag string) bool {
	return special[tag]
}

// IsUnknown reports whether tag marks unclassified time.
func IsUnknown(tag string) bool {
	return strings.EqualFold(tag, Unknown)
}

// Normalize returns the NFC form of a tag with surrounding space removed.
//
// Tags derived from free text (window titles, ask-away messages) arrive in
// whatever normalization form the producer used; two visually identical
// tags must compare equal.
func Normalize(tag string) string {
	return norm.NFC.String(strings.TrimSpace(tag))
}

// Set is an unordered collection of unique tags.
//
// The zero value is an empty, read-only set; use New or Add on a non-nil
// Set to build one.
type Set map[string]struct{}

// New builds a Set from the given tags. Empty strings are dropped.
func New(tags ...string) Set {
	s := make(Set, len(tags))
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
	return s
}

// Add inserts tags into s.
func (s Set) Add(tags ...string) {
	for _, t := range tags {
		if t != "" {
			s[t] = struct{}{}
		}
	}
}

// Has reports whether tag is in s.
func (s Set) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Len returns the number of tags.
func (s Set) Len() int { return len(s) }

// Empty reports whether the set has no tags.
func (s Set) Empty() bool { return len(s) == 0 }

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for t := range s {
		out[t] = struct{}{}
	}
	return out
}

// Union returns a new set containing the tags of s and other.
func (s Set) Union(other Set) Set {
	out := s.Clone()
	for t := range other {
		out[t] = struct{}{}
	}
	return out
}

// Intersect returns a new set of tags present in both s and other.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for t := range s {
		if other.Has(t) {
			out[t] = struct{}{}
		}
	}
	return out
}

// Intersects reports whether s and other share at least one tag.
func (s Set) Intersects(other Set) bool {
	small, big := s, other
	if len(big) < len(small) {
		small, big = big, small
	}
	for t := range small {
		if big.Has(t) {
			return true
		}
	}
	return false
}

// Without returns a new set with the given tags removed.
func (s Set) Without(tags ...string) Set {
	out := s.Clone()
	for _, t := range tags {
		delete(out, t)
	}
	return out
}

// SubsetOf reports whether every tag of s is in other.
func (s Set) SubsetOf(other Set) bool {
	if len(s) > len(other) {
		return false
	}
	for t := range s {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// Equal reports whether s and other hold the same tags.
func (s Set) Equal(other Set) bool {
	return len(s) == len(other) && s.SubsetOf(other)
}

// Sorted returns the tags in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// String renders the set as space separated sorted tags.
func (s Set) String() string {
	return strings.Join(s.Sorted(), " ")
}

// HasActivity reports whether s holds at least one non-special tag.
func (s Set) HasActivity() bool {
	for t := range s {
		if !IsSpecial(t) {
			return true
		}
	}
	return false
}
