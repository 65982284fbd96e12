package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/awexport/internal/store"
	"github.com/roach88/awexport/internal/tags"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			status := "applied"
			if !ev.Applied() {
				status = "skipped: " + ev.Skipped
			}
			fmt.Fprintf(&buf, "  [%d] %-7s %s since %s (%s)\n", ev.Seq, ev.Kind, strings.Join(ev.Tags, " "), ev.Since, status)
		}
	}
	return buf.String()
}

// applied filters trace to ledger-changing commits, optionally of one kind.
func applied(trace []TraceEvent, kind string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Applied() && (kind == "" || ev.Kind == kind) {
			out = append(out, ev)
		}
	}
	return out
}

// assertCommitContains checks that an applied commit carries exactly the
// expected tags. Tag order does not matter.
func assertCommitContains(trace []TraceEvent, a Assertion) error {
	want := tags.New(a.Tags...)
	for _, ev := range applied(trace, a.Kind) {
		if tags.New(ev.Tags...).Equal(want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertCommitContains,
		Expected: fmt.Sprintf("commit%s with tags %s", kindSuffix(a.Kind), want.String()),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCommitOrder checks that applied commit kinds appear in the given
// order. Other commits may be interleaved.
func assertCommitOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range applied(trace, "") {
		if next < len(a.Kinds) && ev.Kind == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCommitOrder,
		Expected: fmt.Sprintf("commit kinds in order %v", a.Kinds),
		Actual:   fmt.Sprintf("matched %d of %d, stuck at %q", next, len(a.Kinds), a.Kinds[next]),
		Trace:    trace,
	}
}

// assertCommitCount checks the number of applied commits.
func assertCommitCount(trace []TraceEvent, a Assertion) error {
	got := len(applied(trace, a.Kind))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCommitCount,
		Expected: fmt.Sprintf("%d commit(s)%s", a.Count, kindSuffix(a.Kind)),
		Actual:   fmt.Sprintf("%d commit(s)", got),
		Trace:    trace,
	}
}

// assertNeverTagged checks that no applied commit carries a tag.
func assertNeverTagged(trace []TraceEvent, a Assertion) error {
	for _, ev := range applied(trace, "") {
		if slices.Contains(ev.Tags, a.Tag) {
			return &AssertionError{
				Type:     AssertNeverTagged,
				Expected: fmt.Sprintf("tag %q never committed", a.Tag),
				Actual:   fmt.Sprintf("committed by #%d (%s) since %s", ev.Seq, ev.Kind, ev.Since),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertCommandCount checks how many commands reached the ledger.
func assertCommandCount(r *Result, a Assertion) error {
	if len(r.Commands) == a.Count {
		return nil
	}
	lines := make([]string, 0, len(r.Commands))
	for _, c := range r.Commands {
		lines = append(lines, strings.Join(c, " "))
	}
	return &AssertionError{
		Type:     AssertCommandCount,
		Expected: fmt.Sprintf("%d ledger command(s)", a.Count),
		Actual:   fmt.Sprintf("%d: %s", len(r.Commands), strings.Join(lines, "; ")),
		Trace:    r.Trace,
	}
}

func kindSuffix(kind string) string {
	if kind == "" {
		return ""
	}
	return " of kind " + kind
}

// assertFinalState checks if a store table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}

	whereSQL, whereArgs, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s", a.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}
	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// more than one row means the assertion is ambiguous
	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, formatWhereClause(a.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := make(map[string]any, len(columns))
	for i, col := range columns {
		actual[col] = values[i]
	}
	for key, want := range a.Expect {
		got, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}
	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML scalar to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from store tables.
// Handles type coercion for SQLite values which may be returned as different
// types: integers come back as int64, booleans as 0/1 and TEXT columns
// sometimes as []byte.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		got, ok := actual.(string)
		return ok && exp == got
	case int:
		got, ok := actual.(int64)
		return ok && int64(exp) == got
	case int64:
		got, ok := actual.(int64)
		return ok && exp == got
	case float64:
		switch got := actual.(type) {
		case float64:
			return exp == got
		case int64:
			return exp == float64(got)
		}
		return false
	case bool:
		switch got := actual.(type) {
		case bool:
			return exp == got
		case int64:
			return exp == (got != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}
