package orchestrator

import "fmt"

// Phase is the orchestrator's position in one invocation. Transitions are
// validated so control flow bugs surface as errors instead of silent
// misorderings.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSelecting   Phase = "selecting"
	PhaseExecuting   Phase = "executing"
	PhaseRecording   Phase = "recording"
	PhaseStoppedFast Phase = "stopped_fail_fast"
	PhaseCompleted   Phase = "completed"
)

type machine struct {
	phase Phase
}

func newMachine() *machine {
	return &machine{phase: PhaseIdle}
}

func (m *machine) advance(to Phase) error {
	if !allowedTransition(m.phase, to) {
		return fmt.Errorf("invalid phase transition: %s -> %s", m.phase, to)
	}
	m.phase = to
	return nil
}

func allowedTransition(from, to Phase) bool {
	switch from {
	case PhaseIdle:
		return to == PhaseSelecting
	case PhaseSelecting:
		// Empty selection in continue mode completes without executing.
		return to == PhaseExecuting || to == PhaseCompleted
	case PhaseExecuting:
		return to == PhaseRecording
	case PhaseRecording:
		return to == PhaseExecuting || to == PhaseStoppedFast || to == PhaseCompleted
	default:
		return false
	}
}
