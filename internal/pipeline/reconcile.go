package pipeline

import (
	"sort"
	"time"

	"github.com/roach88/awexport/internal/event"
)

// FillAFKGaps synthesizes an afk sample for every gap of at least minGap
// between consecutive AFK samples. Some idle watchers stop emitting instead
// of reporting "afk", so a long silence is treated as absence. A single
// sample has no gaps.
func FillAFKGaps(afk []event.Sample, minGap time.Duration) []event.Sample {
	if len(afk) <= 1 {
		return afk
	}
	sorted := sortedCopy(afk)

	out := append([]event.Sample(nil), afk...)
	for i := 1; i < len(sorted); i++ {
		gapStart := sorted[i-1].End()
		gap := sorted[i].Timestamp.Sub(gapStart)
		if gap >= minGap {
			out = append(out, event.Sample{
				Timestamp: gapStart,
				Duration:  gap,
				Data:      map[string]any{"status": event.StatusAFK},
			})
		}
	}
	return out
}

// LongerThan keeps samples strictly longer than min.
func LongerThan(samples []event.Sample, min time.Duration) []event.Sample {
	var out []event.Sample
	for _, s := range samples {
		if s.Duration > min {
			out = append(out, s)
		}
	}
	return out
}

// FilterLid drops lid cycles not longer than min unless they mark a
// boot or downtime gap.
func FilterLid(lid []event.Sample, min time.Duration) []event.Sample {
	var out []event.Sample
	for _, s := range lid {
		if s.Duration > min || s.BootGap() {
			out = append(out, s)
		}
	}
	return out
}

// LidToAFK converts lid samples to AFK form. A closed lid, a suspended
// system or a boot gap means afk; anything else means not-afk. The original
// payload is kept under original_data.
func LidToAFK(lid []event.Sample) []event.Sample {
	out := make([]event.Sample, 0, len(lid))
	for _, s := range lid {
		status := event.StatusNotAFK
		if s.LidState() == "closed" || s.SuspendState() == "suspended" || s.BootGap() {
			status = event.StatusAFK
		}
		out = append(out, s.WithData(map[string]any{
			"status":        status,
			"source":        "lid",
			"original_data": s.Data,
		}))
	}
	return out
}

// ResolveConflicts trims watcher samples that disagree with a lid sample
// reporting afk. The parts of a watcher sample outside every such lid span
// survive; lid samples reporting not-afk never override anything.
func ResolveConflicts(afk, lid []event.Sample) []event.Sample {
	var away []event.Sample
	for _, l := range lid {
		if l.IsAway() && l.Duration > 0 {
			away = append(away, l)
		}
	}
	if len(away) == 0 {
		return afk
	}
	sort.SliceStable(away, func(i, j int) bool { return away[i].Timestamp.Before(away[j].Timestamp) })

	var out []event.Sample
	for _, w := range afk {
		if w.IsAway() {
			out = append(out, w)
			continue
		}
		out = append(out, subtract(w, away)...)
	}
	return out
}

// subtract returns the pieces of s not covered by any of the sorted spans.
func subtract(s event.Sample, spans []event.Sample) []event.Sample {
	var out []event.Sample
	cursor := s.Timestamp
	end := s.End()
	for _, sp := range spans {
		if !sp.Overlaps(s) {
			continue
		}
		if sp.Timestamp.After(cursor) {
			out = append(out, s.Between(cursor, sp.Timestamp))
		}
		if sp.End().After(cursor) {
			cursor = sp.End()
		}
	}
	if cursor.Before(end) {
		if cursor.Equal(s.Timestamp) {
			return append(out, s)
		}
		out = append(out, s.Between(cursor, end))
	}
	return out
}

// MergeAFK resolves conflicts between watcher and lid-derived samples and
// returns one stream ordered by timestamp. Lid samples are always kept.
func MergeAFK(afk, lidAsAFK []event.Sample) []event.Sample {
	if len(lidAsAFK) == 0 {
		return afk
	}
	merged := append(ResolveConflicts(afk, lidAsAFK), lidAsAFK...)
	return sortedCopy(merged)
}

// SplitWindows cuts every window sample around the afk-status samples it
// overlaps, keeping the parts before, between and after them. The AFK span
// itself is represented by the AFK sample. The returned stream holds the
// window pieces and every AFK sample, ordered by timestamp with window
// pieces first on ties.
func SplitWindows(windows, afk []event.Sample) []event.Sample {
	var away []event.Sample
	for _, a := range afk {
		if a.IsAway() {
			away = append(away, a)
		}
	}
	away = sortedCopy(away)

	out := make([]event.Sample, 0, len(windows)+len(afk))
	for _, w := range windows {
		var overlapping []event.Sample
		for _, a := range away {
			if a.Timestamp.Before(w.End()) && a.End().After(w.Timestamp) {
				overlapping = append(overlapping, a)
			}
		}
		if len(overlapping) == 0 {
			out = append(out, w)
			continue
		}

		cursor := w.Timestamp
		end := w.End()
		for _, a := range overlapping {
			if cursor.Before(a.Timestamp) && a.Timestamp.Before(end) {
				out = append(out, w.Between(cursor, a.Timestamp))
			}
			if a.End().After(cursor) {
				cursor = a.End()
			}
		}
		if cursor.Before(end) {
			out = append(out, w.Between(cursor, end))
		}
	}
	out = append(out, afk...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// EndingAfter keeps samples whose end is strictly after t. A zero t keeps all.
func EndingAfter(samples []event.Sample, t time.Time) []event.Sample {
	if t.IsZero() {
		return samples
	}
	var out []event.Sample
	for _, s := range samples {
		if s.End().After(t) {
			out = append(out, s)
		}
	}
	return out
}

func sortedCopy(samples []event.Sample) []event.Sample {
	out := append([]event.Sample(nil), samples...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
