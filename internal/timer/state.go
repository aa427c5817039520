package timer

// State is the runner lifecycle position.
type State int32

const (
	StateNew State = iota
	StateValidating
	StateAcquiring
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateValidating:
		return "validating"
	case StateAcquiring:
		return "acquiring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
