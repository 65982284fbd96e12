package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DropsEmptyAndDuplicates(t *testing.T) {
	s := New("a", "", "b", "a")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("a"))
	assert.True(t, s.Has("b"))
	assert.False(t, s.Has(""))
}

func TestSetAlgebra(t *testing.T) {
	a := New("x", "y")
	b := New("y", "z")

	assert.Equal(t, []string{"x", "y", "z"}, a.Union(b).Sorted())
	assert.Equal(t, []string{"y"}, a.Intersect(b).Sorted())
	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(New("q")))
	assert.Equal(t, []string{"x"}, a.Without("y").Sorted())

	// operations never mutate the receiver
	assert.Equal(t, []string{"x", "y"}, a.Sorted())
}

func TestSubsetAndEqual(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Set
		subset bool
		equal  bool
	}{
		{"empty in empty", New(), New(), true, true},
		{"empty in any", New(), New("a"), true, false},
		{"proper subset", New("a"), New("a", "b"), true, false},
		{"same", New("a", "b"), New("b", "a"), true, true},
		{"disjoint", New("a"), New("b"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.subset, tt.a.SubsetOf(tt.b))
			assert.Equal(t, tt.equal, tt.a.Equal(tt.b))
		})
	}
}

func TestHasActivity(t *testing.T) {
	assert.False(t, New(NotAFK, Manual, Override).HasActivity())
	assert.True(t, New(NotAFK, "work").HasActivity())
	assert.True(t, New(AFK).HasActivity())
}

func TestNormalize(t *testing.T) {
	// "é" as e + combining acute accent
	decomposed := "cafe\u0301"
	assert.Equal(t, "caf\u00e9", Normalize(" "+decomposed+" "))
}

func TestIsUnknown(t *testing.T) {
	assert.True(t, IsUnknown("UNKNOWN"))
	assert.True(t, IsUnknown("unknown"))
	assert.False(t, IsUnknown("work"))
}

func TestString(t *testing.T) {
	assert.Equal(t, "a b c", New("c", "a", "b").String())
}
