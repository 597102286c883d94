package feature

// State describes the outcome of resolving a feature for one event.
type State int

const (
	// StatePresent means the feature resolved to a value.
	StatePresent State = iota
	// StateAbsent means the feature has no value for this event. Absence is
	// an ordinary outcome, not an error.
	StateAbsent
	// StateFailed means resolution failed. Failure is sticky: features and
	// rules that depend on a failed feature fail too.
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StatePresent:
		return "present"
	case StateAbsent:
		return "absent"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of computing a feature: exactly one of a value,
// absence, or a failure.
type Resolution struct {
	State State
	Value any
	Err   error
}

// Present wraps a value in a successful resolution.
func Present(v any) Resolution {
	return Resolution{State: StatePresent, Value: v}
}

// Absent returns the absent resolution.
func Absent() Resolution {
	return Resolution{State: StateAbsent}
}

// Failed wraps an error in a failed resolution.
func Failed(err error) Resolution {
	return Resolution{State: StateFailed, Err: err}
}

// IsPresent reports whether the resolution carries a value.
func (r Resolution) IsPresent() bool { return r.State == StatePresent }

// IsAbsent reports whether the feature resolved absent.
func (r Resolution) IsAbsent() bool { return r.State == StateAbsent }

// IsFailed reports whether resolution failed.
func (r Resolution) IsFailed() bool { return r.State == StateFailed }
