package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/awexport/internal/tags"
)

// timeLayout keeps nanoseconds so stored times round-trip exactly and sort
// lexically within UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalTags stores a tag set as a sorted JSON array.
func marshalTags(s tags.Set) (string, error) {
	return encode(s.Sorted())
}

func unmarshalTags(data string) (tags.Set, error) {
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags.New(list...), nil
}

// marshalAccumulator stores a snapshot as an object of milliseconds.
// Go's json.Marshal sorts map keys, which keeps the text deterministic.
func marshalAccumulator(acc map[string]time.Duration) (string, error) {
	ms := make(map[string]int64, len(acc))
	for k, v := range acc {
		ms[k] = v.Milliseconds()
	}
	return encode(ms)
}

func unmarshalAccumulator(data string) (map[string]time.Duration, error) {
	var ms map[string]int64
	if err := json.Unmarshal([]byte(data), &ms); err != nil {
		return nil, fmt.Errorf("unmarshal accumulator: %w", err)
	}
	out := make(map[string]time.Duration, len(ms))
	for k, v := range ms {
		out[k] = time.Duration(v) * time.Millisecond
	}
	return out, nil
}

// encode writes JSON without HTML escaping; tags may contain '<' or '&'.
func encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
