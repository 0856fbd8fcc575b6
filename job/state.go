package job

import "fmt"

// Phase is the lifecycle position of a job instance.
type Phase uint8

const (
	// PhaseIdle means no result exists and nothing is queued.
	PhaseIdle Phase = iota
	// PhasePending means a dispatch for the recorded fingerprint is wanted.
	PhasePending
	// PhaseInFlight means GPU work for the recorded fingerprint was submitted
	// and has not resolved.
	PhaseInFlight
	// PhaseReady means the result for the recorded fingerprint is the latest
	// confirmed output.
	PhaseReady
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePending:
		return "Pending"
	case PhaseInFlight:
		return "InFlight"
	case PhaseReady:
		return "Ready"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// State is the scheduler's view of one instance.
// Frame is the submit frame for InFlight and the completion frame for Ready.
type State struct {
	Phase       Phase
	Fingerprint Fingerprint
	Frame       uint64
}

// Idle returns the initial state.
func Idle() State { return State{Phase: PhaseIdle} }

// Pending returns a state that wants a dispatch for f.
func Pending(f Fingerprint) State { return State{Phase: PhasePending, Fingerprint: f} }

// InFlight returns a state for work on f submitted at frame.
func InFlight(f Fingerprint, frame uint64) State {
	return State{Phase: PhaseInFlight, Fingerprint: f, Frame: frame}
}

// Ready returns a state for a result of f confirmed at frame.
func Ready(f Fingerprint, frame uint64) State {
	return State{Phase: PhaseReady, Fingerprint: f, Frame: frame}
}

// Is reports whether the state is in phase p.
func (s State) Is(p Phase) bool { return s.Phase == p }

func (s State) String() string {
	switch s.Phase {
	case PhaseIdle:
		return "Idle"
	case PhasePending:
		return fmt.Sprintf("Pending(%s)", s.Fingerprint)
	default:
		return fmt.Sprintf("%s(%s, %d)", s.Phase, s.Fingerprint, s.Frame)
	}
}
