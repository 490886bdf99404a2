//go:build !no_mqtt

package mqtt

import (
	"winmaint/internal/events"
	"winmaint/internal/runner"
)

const (
	stateIdle    = "idle"
	stateRunning = "running"
	statePaused  = "paused"
)

// runState is the retained document on <prefix>/<node>/run/state.
type runState struct {
	RunID       string `json:"run_id,omitempty"`
	State       string `json:"state"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	Script      string `json:"script,omitempty"`
	Remaining   string `json:"remaining,omitempty"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	HangPending bool   `json:"hang_pending"`
}

// apply folds one event into the state and reports whether it changed.
func (s *runState) apply(e events.Event) bool {
	switch e.Type {
	case events.RunStarted:
		*s = runState{RunID: e.RunID, State: stateRunning}
		if p, ok := e.Data.(runner.ScriptProgress); ok {
			s.Total = p.Total
			s.Remaining = p.Remaining
		}
	case events.ScriptStarted:
		p, ok := e.Data.(runner.ScriptProgress)
		if !ok {
			return false
		}
		s.Index, s.Total, s.Script, s.Remaining = p.Index, p.Total, p.Script, p.Remaining
	case events.ScriptFinished:
		p, ok := e.Data.(runner.ScriptProgress)
		if !ok {
			return false
		}
		if p.Outcome == runner.Succeeded.String() {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Remaining = p.Remaining
	case events.RunPaused:
		s.State = statePaused
	case events.RunResumed:
		s.State = stateRunning
	case events.HangDetected:
		s.HangPending = true
	case events.HangResolved:
		s.HangPending = false
	case events.RunFinished:
		if state, ok := e.Data.(string); ok {
			s.State = state
		}
		s.Script = ""
		s.Remaining = ""
		s.HangPending = false
	default:
		return false
	}
	return true
}
