package pipeline

type State int

const (
	StateIdle State = iota
	StateLocked
	StateChecking
	StateUnchanged
	StateSkip
	StateChanged
	StateBuild
	StateConvert
	StateFailed
	StateUnlocked
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateLocked:
		return "LOCKED"
	case StateChecking:
		return "CHECKING"
	case StateUnchanged:
		return "UNCHANGED"
	case StateSkip:
		return "SKIP"
	case StateChanged:
		return "CHANGED"
	case StateBuild:
		return "BUILD"
	case StateConvert:
		return "CONVERT"
	case StateFailed:
		return "FAILED"
	case StateUnlocked:
		return "UNLOCKED"
	case StateDone:
		return "DONE"
	}

	return "UNKNOWN"
}

// Outcome is the result of one pipeline run. Callers of ProvideImage
// never see it: a cache hit, a fresh rebuild and an absorbed failure
// look the same to them.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeRebuilt
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "up-to-date"
	case OutcomeRebuilt:
		return "rebuilt"
	case OutcomeFailed:
		return "failed"
	}

	return "unknown"
}
