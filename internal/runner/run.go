package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"winmaint/internal/events"
	"winmaint/internal/host"
	"winmaint/internal/script"
	"winmaint/internal/store"
)

// State is the lifecycle of a Run.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	Cancelled
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the run has finished.
func (s State) Terminal() bool { return s >= Completed }

// ErrAlreadyStarted is returned by Start on a run that was started before.
var ErrAlreadyStarted = errors.New("run already started")

// Recorder persists finished work. *store.BoltStore implements it.
type Recorder interface {
	RecordExecution(name string, elapsed time.Duration) error
	SaveRun(run *store.Run) error
}

// Record tracks one script in a run. Elapsed and Outcome stay nil until the
// script's session ends.
type Record struct {
	Script     *script.Script
	Elapsed    *time.Duration
	Outcome    *SessionOutcome
	HangEvents int
	Actions    []ActionResult
	Err        error
}

// Options configures a Run.
type Options struct {
	Config
	Estimator Estimator
	Recorder  Recorder
	Bus       *events.Bus
}

// Summary is a snapshot of a run.
type Summary struct {
	ID      string
	State   State
	Records []Record
	Elapsed time.Duration
}

// ScriptProgress is the payload of script_started and script_finished
// events.
type ScriptProgress struct {
	Index      int           `json:"index"`
	Total      int           `json:"total"`
	Script     string        `json:"script"`
	Outcome    string        `json:"outcome,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	HangEvents int           `json:"hang_events,omitempty"`
	Error      string        `json:"error,omitempty"`
	Remaining  string        `json:"remaining"`
}

// HangInfo is the payload of hang events.
type HangInfo struct {
	Script   string `json:"script"`
	Decision string `json:"decision,omitempty"`
}

// Run executes scripts strictly in list order. A failed script never stops
// the run; cancellation and Abort do.
type Run struct {
	id       string
	scripts  []*script.Script
	resolver Resolver
	opts     Options
	logger   *slog.Logger
	gate     *pauseGate

	mu        sync.Mutex
	state     State
	index     int
	records   []Record
	current   *Session
	aborted   bool
	cancel    context.CancelFunc
	startedAt time.Time
	elapsed   time.Duration

	done chan struct{}
}

// NewRun prepares a run over scripts.
func NewRun(scripts []*script.Script, resolver Resolver, opts Options, logger *slog.Logger) *Run {
	id := uuid.NewString()
	logger = logger.With("component", "run", "run_id", id)
	r := &Run{
		id:       id,
		scripts:  scripts,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
		gate:     newPauseGate(logger),
		records:  make([]Record, len(scripts)),
		done:     make(chan struct{}),
	}
	for i, s := range scripts {
		r.records[i].Script = s
	}
	r.opts.OnHang = r.wrapHang(opts.OnHang)
	return r
}

func (r *Run) ID() string { return r.id }

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Index is the position of the script currently executing, or of the last
// one executed once the run is over.
func (r *Run) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Records returns a copy of the per-script records.
func (r *Run) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordsLocked()
}

func (r *Run) recordsLocked() []Record {
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Remaining estimates the time left: the current script plus every script
// after it.
func (r *Run) Remaining() Estimate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

func (r *Run) remainingLocked() Estimate {
	if r.state.Terminal() {
		return Estimate{Exact: true}
	}
	return EstimateScripts(r.scripts[r.index:], r.opts.Estimator)
}

// Paused reports whether Pause is in effect.
func (r *Run) Paused() bool { return r.gate.isPaused() }

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Execute starts the run and waits for it.
func (r *Run) Execute(ctx context.Context) (Summary, error) {
	if err := r.Start(ctx); err != nil {
		return Summary{}, err
	}
	return r.Wait(), nil
}

// Start launches the run in the background. Cancelling ctx cancels the run.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != NotStarted {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state = Running
	r.startedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("run started", "scripts", len(r.scripts))
	r.emit(events.RunStarted, ScriptProgress{Total: len(r.scripts), Remaining: r.Remaining().String()})

	go func() {
		defer cancel()
		r.loop(ctx)
	}()
	return nil
}

// Wait blocks until the run is over and returns its summary.
func (r *Run) Wait() Summary {
	<-r.done
	return r.Summary()
}

func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := r.elapsed
	if r.state == Running {
		elapsed = time.Since(r.startedAt)
	}
	return Summary{ID: r.id, State: r.state, Records: r.recordsLocked(), Elapsed: elapsed}
}

func (r *Run) loop(ctx context.Context) {
	defer close(r.done)

	for i, s := range r.scripts {
		if err := r.gate.wait(ctx); err != nil {
			break
		}

		r.mu.Lock()
		if r.aborted || ctx.Err() != nil {
			r.mu.Unlock()
			break
		}
		r.index = i
		sess := newSession(s, r.resolver, r.opts.Config, r.gate, r.logger.With("script", s.InvariantName))
		sess.onAction = func(ar ActionResult) { r.emit(events.ActionFinished, ar) }
		r.current = sess
		remaining := r.remainingLocked()
		r.mu.Unlock()

		r.logger.Info("script started", "index", i, "script", s.InvariantName, "remaining", remaining.String())
		r.emit(events.ScriptStarted, ScriptProgress{
			Index: i, Total: len(r.scripts), Script: s.InvariantName, Remaining: remaining.String(),
		})

		res := sess.Run(ctx)
		r.finishScript(i, res)
		if res.Outcome == SessionCancelled || res.Outcome == SessionAborted {
			break
		}
	}

	r.mu.Lock()
	switch {
	case r.aborted:
		r.state = Aborted
	case ctx.Err() != nil:
		r.state = Cancelled
	default:
		r.state = Completed
	}
	r.elapsed = time.Since(r.startedAt)
	summary := Summary{ID: r.id, State: r.state, Records: r.recordsLocked(), Elapsed: r.elapsed}
	r.mu.Unlock()

	r.logger.Info("run finished", "state", summary.State, "elapsed", summary.Elapsed)
	r.saveRun(summary)
	r.emit(events.RunFinished, summary.State.String())
}

func (r *Run) finishScript(i int, res SessionResult) {
	r.mu.Lock()
	r.current = nil
	rec := &r.records[i]
	elapsed, outcome := res.Elapsed, res.Outcome
	rec.Elapsed = &elapsed
	rec.Outcome = &outcome
	rec.HangEvents = res.HangEvents
	rec.Actions = res.Actions
	rec.Err = res.Err
	name := rec.Script.InvariantName
	remaining := EstimateScripts(r.scripts[i+1:], r.opts.Estimator)
	r.mu.Unlock()

	p := ScriptProgress{
		Index:      i,
		Total:      len(r.scripts),
		Script:     name,
		Outcome:    outcome.String(),
		Elapsed:    elapsed,
		HangEvents: res.HangEvents,
		Remaining:  remaining.String(),
	}
	if res.Err != nil {
		p.Error = res.Err.Error()
		r.logger.Warn("script finished", "script", name, "outcome", outcome, "err", res.Err)
	} else {
		r.logger.Info("script finished", "script", name, "outcome", outcome, "elapsed", elapsed)
	}

	if outcome == Succeeded && r.opts.Recorder != nil {
		if err := r.opts.Recorder.RecordExecution(name, elapsed); err != nil {
			r.logger.Error("record execution", "script", name, "err", err)
		}
	}
	r.emit(events.ScriptFinished, p)
}

func (r *Run) saveRun(s Summary) {
	if r.opts.Recorder == nil {
		return
	}
	run := &store.Run{
		ID:         s.ID,
		State:      s.State.String(),
		StartedAt:  r.startedAt,
		FinishedAt: r.startedAt.Add(s.Elapsed),
		Scripts:    make([]store.ScriptRecord, 0, len(s.Records)),
	}
	for _, rec := range s.Records {
		sr := store.ScriptRecord{Name: rec.Script.InvariantName, HangEvents: rec.HangEvents}
		if rec.Outcome != nil {
			sr.Outcome = rec.Outcome.String()
		}
		if rec.Elapsed != nil {
			sr.Elapsed = *rec.Elapsed
		}
		if rec.Err != nil {
			sr.Error = rec.Err.Error()
		}
		run.Scripts = append(run.Scripts, sr)
	}
	if err := r.opts.Recorder.SaveRun(run); err != nil {
		r.logger.Error("save run", "err", err)
	}
}

// Pause suspends the running action and keeps further actions and scripts
// from starting.
func (r *Run) Pause() error {
	if err := r.gate.pause(); err != nil {
		return fmt.Errorf("pause run: %w", err)
	}
	r.logger.Info("run paused")
	r.emit(events.RunPaused, nil)
	return nil
}

// Resume reverses Pause.
func (r *Run) Resume() error {
	if err := r.gate.resume(); err != nil {
		return fmt.Errorf("resume run: %w", err)
	}
	r.logger.Info("run resumed")
	r.emit(events.RunResumed, nil)
	return nil
}

// Abort kills the running action and ends the run without starting further
// scripts.
func (r *Run) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || r.aborted {
		return
	}
	r.aborted = true
	if r.current != nil {
		r.current.Abort()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.logger.Info("run aborted")
}

func (r *Run) wrapHang(fn host.HangFunc) host.HangFunc {
	return func(ctx context.Context, name string) host.HangDecision {
		r.emit(events.HangDetected, HangInfo{Script: name})
		d := host.KeepRunning
		if fn != nil {
			d = fn(ctx, name)
		}
		r.emit(events.HangResolved, HangInfo{Script: name, Decision: d.String()})
		return d
	}
}

func (r *Run) emit(typ string, data any) {
	r.opts.Bus.Emit(events.Event{Type: typ, RunID: r.id, Data: data})
}
