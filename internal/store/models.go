package store

import "time"

// Run is the persisted summary of one execution run.
type Run struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Scripts    []ScriptRecord `json:"scripts"`
}

// ScriptRecord is one script's line in a run summary. Outcome is empty for
// scripts the run never reached.
type ScriptRecord struct {
	Name       string        `json:"name"`
	Outcome    string        `json:"outcome,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	HangEvents int           `json:"hang_events,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// DurationStats aggregates the recorded durations of one script.
type DurationStats struct {
	Count int           `json:"count"`
	Total time.Duration `json:"total"`
	Last  time.Duration `json:"last"`
}

// Average returns Total/Count, or zero without samples.
func (d DurationStats) Average() time.Duration {
	if d.Count == 0 {
		return 0
	}
	return d.Total / time.Duration(d.Count)
}
