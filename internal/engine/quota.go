package engine

// DefaultMaxTicks bounds a batch run. A closed range is normally covered
// in one or two ticks; hitting the limit means the range end is never
// reached.
const DefaultMaxTicks = 10000

// TickQuota counts the ticks of one batch run and enforces a maximum.
type TickQuota struct {
	max     int
	current int
}

// NewTickQuota creates a quota with the given limit.
func NewTickQuota(max int) *TickQuota {
	return &TickQuota{max: max}
}

// Check increments the tick counter and returns a TICK_LIMIT error once the
// limit is exceeded.
func (q *TickQuota) Check() error {
	q.current++
	if q.current > q.max {
		return NewTickLimitError(q.current, q.max)
	}
	return nil
}

// Current returns the number of ticks counted so far.
func (q *TickQuota) Current() int {
	return q.current
}

// Max returns the limit.
func (q *TickQuota) Max() int {
	return q.max
}
