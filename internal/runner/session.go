// Package runner drives scripts through their hosts: a Session runs one
// script's actions, a Run sequences sessions over a list of scripts.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"winmaint/internal/catalog"
	"winmaint/internal/host"
	"winmaint/internal/script"
)

// Resolver finds the runnable host for a descriptor. *host.Registry
// implements it.
type Resolver interface {
	Host(desc *catalog.Host) (host.Host, error)
}

// SessionOutcome classifies how a session ended.
type SessionOutcome int

const (
	Succeeded SessionOutcome = iota
	Failed
	HangKilled
	SessionCancelled
	SessionAborted
)

func (o SessionOutcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case HangKilled:
		return "hang_killed"
	case SessionCancelled:
		return "cancelled"
	case SessionAborted:
		return "aborted"
	default:
		return fmt.Sprintf("SessionOutcome(%d)", int(o))
	}
}

// ExitCodeError reports an action that exited with a code outside its
// accepted set.
type ExitCodeError struct {
	Capability script.Capability
	Code       int
	Accepted   []int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("%s exited with code %d, accepted %v", e.Capability, e.Code, e.Accepted)
}

// Config tunes how actions execute.
type Config struct {
	// Timeout is the hang-check interval per action; zero disables it.
	Timeout time.Duration
	OnHang  host.HangFunc
	// Capabilities limits which actions run; empty runs all of them.
	Capabilities []script.Capability
	// Language selects the display name handed to hosts.
	Language string
}

// ActionResult is the result of one executed action.
type ActionResult struct {
	Capability script.Capability `json:"capability"`
	Host       string            `json:"host"`
	Outcome    host.Outcome      `json:"outcome"`
	ExitCode   int               `json:"exit_code"`
	Elapsed    time.Duration     `json:"elapsed"`
	HangEvents int               `json:"hang_events"`
	Output     string            `json:"output,omitempty"`
}

// SessionResult aggregates a session. Elapsed is the sum of the action
// durations.
type SessionResult struct {
	Outcome    SessionOutcome
	Actions    []ActionResult
	Elapsed    time.Duration
	HangEvents int
	Err        error
}

// Session runs one script's actions strictly one after another, in
// ascending order.
type Session struct {
	script   *script.Script
	resolver Resolver
	cfg      Config
	gate     *pauseGate
	logger   *slog.Logger

	onAction func(ActionResult)

	mu      sync.Mutex
	started bool
	aborted bool
	cancel  context.CancelFunc
}

// NewSession creates a session for s.
func NewSession(s *script.Script, resolver Resolver, cfg Config, logger *slog.Logger) *Session {
	logger = logger.With("component", "session", "script", s.InvariantName)
	return newSession(s, resolver, cfg, newPauseGate(logger), logger)
}

func newSession(s *script.Script, resolver Resolver, cfg Config, gate *pauseGate, logger *slog.Logger) *Session {
	return &Session{
		script:   s,
		resolver: resolver,
		cfg:      cfg,
		gate:     gate,
		logger:   logger,
	}
}

// Actions returns the actions the session will run, in execution order.
func (s *Session) Actions() []script.Action {
	ordered := s.script.OrderedActions()
	if len(s.cfg.Capabilities) == 0 {
		return ordered
	}
	out := ordered[:0]
	for _, a := range ordered {
		if slices.Contains(s.cfg.Capabilities, a.Capability) {
			out = append(out, a)
		}
	}
	return out
}

// Run executes the actions. A session runs at most once.
func (s *Session) Run(ctx context.Context) SessionResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return SessionResult{Outcome: Failed, Err: fmt.Errorf("session %s already ran", s.script.InvariantName)}
	}
	s.started = true
	s.cancel = cancel
	aborted := s.aborted
	s.mu.Unlock()

	var res SessionResult
	if aborted {
		res.Outcome = SessionAborted
		return res
	}

	name := s.script.Name(s.cfg.Language)
	for _, a := range s.Actions() {
		if err := s.gate.wait(ctx); err != nil {
			res.Outcome = s.stopped()
			return res
		}

		h, err := s.resolver.Host(a.Host)
		if err != nil {
			res.Outcome, res.Err = Failed, err
			return res
		}

		s.logger.Debug("running action", "capability", a.Capability, "host", a.Host.Name)
		hr, err := h.Execute(ctx, host.Request{
			Code:        a.Code,
			DisplayName: name,
			Timeout:     s.cfg.Timeout,
			OnHang:      s.cfg.OnHang,
			OnStart:     s.gate.attach,
		})
		s.gate.detach()

		ar := ActionResult{
			Capability: a.Capability,
			Host:       a.Host.Name,
			Outcome:    hr.Outcome,
			ExitCode:   hr.ExitCode,
			Elapsed:    hr.Elapsed,
			HangEvents: hr.HangEvents,
			Output:     hr.Output,
		}
		res.Actions = append(res.Actions, ar)
		res.Elapsed += hr.Elapsed
		res.HangEvents += hr.HangEvents
		if s.onAction != nil {
			s.onAction(ar)
		}

		if err != nil {
			res.Outcome, res.Err = Failed, err
			s.logger.Error("action failed", "capability", a.Capability, "err", err)
			return res
		}

		switch hr.Outcome {
		case host.Completed:
			if !a.Accepts(hr.ExitCode) {
				res.Outcome = Failed
				res.Err = &ExitCodeError{Capability: a.Capability, Code: hr.ExitCode, Accepted: a.SuccessExitCodes}
				s.logger.Warn("action exit code not accepted", "capability", a.Capability, "exit_code", hr.ExitCode)
				return res
			}
		case host.HangKilled:
			res.Outcome = HangKilled
			return res
		case host.Cancelled:
			res.Outcome = s.stopped()
			return res
		case host.ScriptFailed:
			res.Outcome, res.Err = Failed, hr.Err
			return res
		}
	}

	res.Outcome = Succeeded
	return res
}

func (s *Session) stopped() SessionOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted {
		return SessionAborted
	}
	return SessionCancelled
}

// Pause suspends the running action and holds back the next one.
func (s *Session) Pause() error { return s.gate.pause() }

// Resume reverses Pause.
func (s *Session) Resume() error { return s.gate.resume() }

// Abort kills the running action and skips the remaining ones. Aborting
// before Run makes Run return immediately.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	if s.cancel != nil {
		s.cancel()
	}
}
