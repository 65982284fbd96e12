package state

// AfkState is the away-from-keyboard state machine. Unknown is only ever
// the initial value.
type AfkState int

const (
	Unknown AfkState = iota
	Afk
	Active
)

func (s AfkState) String() string {
	switch s {
	case Afk:
		return "afk"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}
