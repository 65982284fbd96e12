package classify

import (
	"regexp"
	"strconv"

	"github.com/roach88/awexport/internal/tags"
)

var placeholder = regexp.MustCompile(`\$([A-Za-z_]+|[1-9])`)

// vars maps placeholder names (without the dollar) to values. A key present
// with ok=false marks a capture group that did not participate.
type vars map[string]value

type value struct {
	s  string
	ok bool
}

func (v vars) set(name, s string) { v[name] = value{s: s, ok: true} }

// groups records the capture groups of match as $offset+1 onward.
func (v vars) groups(text string, loc []int, offset int) int {
	n := 0
	for i := 2; i+1 < len(loc); i += 2 {
		n++
		if offset+n > 9 {
			continue
		}
		name := strconv.Itoa(offset + n)
		if loc[i] < 0 {
			v[name] = value{}
			continue
		}
		v.set(name, text[loc[i]:loc[i+1]])
	}
	return n
}

// buildTags instantiates templates. A template with any placeholder left
// unresolved is dropped whole. not-afk is always added.
func buildTags(templates []string, subs vars) tags.Set {
	out := tags.New(tags.NotAFK)
	for _, tmpl := range templates {
		missing := false
		tag := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
			v, ok := subs[m[1:]]
			if !ok || !v.ok {
				missing = true
				return m
			}
			return v.s
		})
		if missing {
			continue
		}
		out.Add(tags.Normalize(tag))
	}
	return out
}
