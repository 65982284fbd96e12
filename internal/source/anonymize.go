package source

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/roach88/awexport/internal/event"
)

// Anonymize returns a copy of d with titles, URLs, file paths and project
// names replaced by placeholders that keep their shape. Each domain maps to
// a stable numbered stand-in so grouping by site survives.
func Anonymize(d *Dump) *Dump {
	a := &anonymizer{domains: map[string]string{}}
	out := &Dump{
		Metadata: d.Metadata,
		Buckets:  d.Buckets,
		Events:   make(map[string][]event.Sample, len(d.Events)),
	}
	out.Metadata.Anonymized = true
	ids := make([]string, 0, len(d.Events))
	for id := range d.Events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		samples := d.Events[id]
		cp := make([]event.Sample, len(samples))
		for i, s := range samples {
			cp[i] = a.sample(s)
		}
		out.Events[id] = cp
	}
	return out
}

type anonymizer struct {
	domains map[string]string
}

func (a *anonymizer) sample(s event.Sample) event.Sample {
	cp := s.WithSpan(s.Timestamp, s.Duration)
	if u := s.URL(); u != "" {
		cp.Data["url"] = a.url(u)
	}
	if t := s.Title(); t != "" {
		cp.Data["title"] = maskWords(t)
	}
	if f := s.File(); f != "" {
		cp.Data["file"] = maskPath(f)
	}
	if s.Project() != "" {
		cp.Data["project"] = "project_name"
	}
	return cp
}

func (a *anonymizer) url(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[url]"
	}
	anon, ok := a.domains[u.Host]
	if !ok {
		anon = fmt.Sprintf("domain%d.example", len(a.domains)+1)
		a.domains[u.Host] = anon
	}
	return u.Scheme + "://" + anon + "/[path]"
}

// maskWords keeps at most five words, each replaced by up to ten X.
func maskWords(s string) string {
	words := strings.Fields(s)
	if len(words) > 5 {
		words = words[:5]
	}
	for i, w := range words {
		n := len([]rune(w))
		if n > 10 {
			n = 10
		}
		words[i] = strings.Repeat("X", n)
	}
	return strings.Join(words, " ")
}

func maskPath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	masked := make([]string, 0, len(parts))
	for range parts[:len(parts)-1] {
		masked = append(masked, "dir")
	}
	masked = append(masked, "file"+path.Ext(p))
	return strings.Join(masked, "/")
}
