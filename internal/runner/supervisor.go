package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"winmaint/internal/host"
	"winmaint/internal/script"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNoRun         = errors.New("no run in progress")
	ErrNoHangPending = errors.New("no hang prompt pending")
)

// HangPolicy answers hang prompts that nobody answers remotely.
type HangPolicy struct {
	// Wait is how long a prompt stays open for a remote answer. Zero
	// applies Default immediately.
	Wait    time.Duration
	Default host.HangDecision
}

// Supervisor owns at most one active run at a time and routes remote
// control to it: pause, resume, abort and answers to hang prompts.
type Supervisor struct {
	resolver Resolver
	opts     Options
	policy   HangPolicy
	logger   *slog.Logger

	mu      sync.Mutex
	current *Run
	pending chan host.HangDecision
}

// NewSupervisor creates a supervisor. opts.OnHang is replaced by the
// supervisor's remote prompt.
func NewSupervisor(resolver Resolver, opts Options, policy HangPolicy, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		resolver: resolver,
		opts:     opts,
		policy:   policy,
		logger:   logger.With("component", "supervisor"),
	}
	s.opts.OnHang = s.askRemote
	return s
}

// Start begins a run over scripts unless one is still active.
func (s *Supervisor) Start(ctx context.Context, scripts []*script.Script) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && !s.current.State().Terminal() {
		return nil, ErrRunInProgress
	}
	run := NewRun(scripts, s.resolver, s.opts, s.logger)
	if err := run.Start(ctx); err != nil {
		return nil, err
	}
	s.current = run
	return run, nil
}

// Current returns the latest run, finished or not.
func (s *Supervisor) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Supervisor) active() (*Run, error) {
	run := s.Current()
	if run == nil || run.State().Terminal() {
		return nil, ErrNoRun
	}
	return run, nil
}

func (s *Supervisor) Pause() error {
	run, err := s.active()
	if err != nil {
		return err
	}
	return run.Pause()
}

func (s *Supervisor) Resume() error {
	run, err := s.active()
	if err != nil {
		return err
	}
	return run.Resume()
}

func (s *Supervisor) Abort() error {
	run, err := s.active()
	if err != nil {
		return err
	}
	run.Abort()
	return nil
}

// HangPending reports whether a hang prompt is waiting for an answer.
func (s *Supervisor) HangPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// AnswerHang resolves the open hang prompt.
func (s *Supervisor) AnswerHang(d host.HangDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrNoHangPending
	}
	s.pending <- d
	s.pending = nil
	return nil
}

func (s *Supervisor) askRemote(ctx context.Context, name string) host.HangDecision {
	if s.policy.Wait <= 0 {
		return s.policy.Default
	}

	answer := make(chan host.HangDecision, 1)
	s.mu.Lock()
	s.pending = answer
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending == answer {
			s.pending = nil
		}
		s.mu.Unlock()
	}()

	t := time.NewTimer(s.policy.Wait)
	defer t.Stop()
	select {
	case d := <-answer:
		return d
	case <-t.C:
		s.logger.Info("hang prompt unanswered, applying policy", "script", name, "decision", s.policy.Default)
		return s.policy.Default
	case <-ctx.Done():
		return host.KeepRunning
	}
}
