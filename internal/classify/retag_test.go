package classify

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/tags"
)

func TestRetagger_Apply(t *testing.T) {
	groups := []config.ExclusiveGroup{{Name: "customer", Tags: []string{"4EMPLOYER", "4ME"}}}
	tests := []struct {
		name  string
		rules []config.RetagRule
		in    []string
		want  []string
	}{
		{
			name:  "add",
			rules: []config.RetagRule{{Name: "r", SourceTags: []string{"github"}, Add: []string{"4EMPLOYER"}}},
			in:    []string{"github", "not-afk"},
			want:  []string{"4EMPLOYER", "github", "not-afk"},
		},
		{
			name:  "prepend is add",
			rules: []config.RetagRule{{Name: "r", SourceTags: []string{"github"}, Prepend: []string{"code"}}},
			in:    []string{"github"},
			want:  []string{"code", "github"},
		},
		{
			name:  "no intersection",
			rules: []config.RetagRule{{Name: "r", SourceTags: []string{"x"}, Add: []string{"y"}}},
			in:    []string{"a"},
			want:  []string{"a"},
		},
		{
			name:  "remove then add",
			rules: []config.RetagRule{{Name: "r", SourceTags: []string{"ssh"}, Remove: []string{"shell"}, Add: []string{"ops"}}},
			in:    []string{"ssh", "shell"},
			want:  []string{"ops", "ssh"},
		},
		{
			name:  "replace with source tag fan out",
			rules: []config.RetagRule{{Name: "r", SourceTags: []string{"a", "b", "c"}, Replace: []string{"x-$source_tag"}}},
			in:    []string{"a", "b", "z"},
			want:  []string{"x-a", "x-b", "z"},
		},
		{
			name: "chained rules expand to fixpoint",
			rules: []config.RetagRule{
				{Name: "second", SourceTags: []string{"python"}, Add: []string{"code"}},
				{Name: "first", SourceTags: []string{"django"}, Add: []string{"python"}},
			},
			in:   []string{"django"},
			want: []string{"code", "django", "python"},
		},
		{
			name: "rule breaking exclusivity is skipped",
			rules: []config.RetagRule{
				{Name: "emp", SourceTags: []string{"work"}, Add: []string{"4EMPLOYER"}},
				{Name: "me", SourceTags: []string{"hobby"}, Add: []string{"4ME"}},
			},
			in:   []string{"work", "hobby"},
			want: []string{"4EMPLOYER", "hobby", "work"},
		},
		{
			name: "whole candidate is checked, not only the additions",
			rules: []config.RetagRule{
				{Name: "emp", SourceTags: []string{"work"}, Add: []string{"4EMPLOYER"}},
				{Name: "swap", SourceTags: []string{"hobby"}, Replace: []string{"4ME"}},
			},
			in:   []string{"work", "hobby"},
			want: []string{"4EMPLOYER", "hobby", "work"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetagger(tt.rules, groups, 0, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
			in := tags.New(tt.in...)
			got, err := r.Apply(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Sorted())
			assert.Equal(t, tags.New(tt.in...), in, "input not modified")
			assert.False(t, r.Conflicts(got))
		})
	}
}

func TestRetagger_InitialViolation(t *testing.T) {
	r := NewRetagger(nil, []config.ExclusiveGroup{{Name: "customer", Tags: []string{"4ME", "4EMPLOYER"}}}, 0, nil)
	_, err := r.Apply(tags.New("4ME", "4EMPLOYER", "x"))
	require.Error(t, err)
	assert.True(t, IsExclusiveGroupError(err))
	assert.Contains(t, err.Error(), "customer: 4EMPLOYER, 4ME")
}

func TestRetagger_Divergence(t *testing.T) {
	rules := []config.RetagRule{
		{Name: "b-to-c", SourceTags: []string{"b"}, Replace: []string{"c"}},
		{Name: "a-to-b", SourceTags: []string{"a"}, Replace: []string{"b"}},
		{Name: "c-to-a", SourceTags: []string{"c"}, Replace: []string{"a"}},
	}
	r := NewRetagger(rules, nil, 5, nil)
	_, err := r.Apply(tags.New("a"))
	require.Error(t, err)
	assert.True(t, IsRetagDivergenceError(err))
	assert.False(t, IsExclusiveGroupError(err))
}

func TestRetagger_Violations(t *testing.T) {
	r := NewRetagger(nil, []config.ExclusiveGroup{
		{Name: "g1", Tags: []string{"a", "b"}},
		{Name: "g2", Tags: []string{"c", "d", "e"}},
	}, 0, nil)
	assert.Empty(t, r.Violations(tags.New("a", "c")))
	v := r.Violations(tags.New("a", "b", "e", "d"))
	require.Len(t, v, 2)
	assert.Equal(t, Violation{Group: "g2", Conflicting: []string{"d", "e"}}, v[1])
}

func TestBuildTags(t *testing.T) {
	re := regexp.MustCompile(`^(\w+)(?:-(\d+))?$`)
	text := "proj"
	subs := vars{}
	subs.set("app", "emacs")
	subs.groups(text, re.FindStringSubmatchIndex(text), 0)

	got := buildTags([]string{"$1", "$2", "issue-$2", "$app-$1", "$nope", "plain", "café"}, subs)
	assert.Equal(t, []string{"café", "emacs-proj", "not-afk", "plain", "proj"}, got.Sorted())
}

func TestVarsGroupsOffset(t *testing.T) {
	re := regexp.MustCompile(`(a)(b)`)
	subs := vars{}
	n := subs.groups("ab", re.FindStringSubmatchIndex("ab"), 0)
	subs.groups("ab", re.FindStringSubmatchIndex("ab"), n)
	assert.Equal(t, 2, n)
	assert.Equal(t, value{s: "b", ok: true}, subs["4"])
}
