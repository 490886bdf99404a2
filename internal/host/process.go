package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"winmaint/internal/catalog"
)

// maxOutput caps captured interpreter output.
const maxOutput = 64 * 1024

// ProcessHost runs code through an external interpreter. The code is written
// to a temporary file carrying the descriptor's preferred extension.
type ProcessHost struct {
	desc   *catalog.Host
	tree   ProcessTree
	logger *slog.Logger
	tmpDir string
}

// NewProcessHost creates a host for a process-backed descriptor.
func NewProcessHost(desc *catalog.Host, tree ProcessTree, logger *slog.Logger) (*ProcessHost, error) {
	if desc.Process == nil {
		return nil, fmt.Errorf("host %s has no process invocation", desc.Name)
	}
	return &ProcessHost{
		desc:   desc,
		tree:   tree,
		logger: logger.With("component", "host", "host", desc.Name),
	}, nil
}

// SetTempDir overrides where script files are materialized. Empty means the
// system temp directory.
func (h *ProcessHost) SetTempDir(dir string) { h.tmpDir = dir }

func (h *ProcessHost) Descriptor() *catalog.Host { return h.desc }

// Execute implements Host. The temporary script file is removed on every
// return path.
func (h *ProcessHost) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if ctx.Err() != nil {
		return Result{Outcome: Cancelled, ExitCode: -1}, nil
	}

	path, err := h.writeTemp(req.Code)
	if err != nil {
		return Result{Outcome: ScriptFailed, ExitCode: -1, Err: err}, &StartError{Host: h.desc.Name, Err: err}
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("remove temp script", "path", path, "err", err)
		}
	}()

	cmd := exec.Command(h.desc.Process.Executable, h.desc.Process.Arguments(path)...)
	h.tree.Prepare(cmd)
	cmd.WaitDelay = time.Second
	out := &limitedBuffer{max: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return Result{Outcome: ScriptFailed, ExitCode: -1, Elapsed: time.Since(start), Err: err}, &StartError{Host: h.desc.Name, Err: err}
	}
	pid := cmd.Process.Pid
	h.logger.Debug("process started", "script", req.DisplayName, "pid", pid)

	ex := &processExecution{tree: h.tree, pid: pid}
	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		ex.finish()
		close(done)
	}()

	if req.OnStart != nil {
		req.OnStart(ex)
	}

	wr := watch(ctx, req, done, ex, func() error { return h.tree.Kill(pid) }, h.logger)
	res := Result{
		Outcome:    wr.outcome,
		ExitCode:   -1,
		HangEvents: wr.hangs,
	}
	if wr.killErr != nil {
		res.Elapsed = time.Since(start)
		return res, &KillError{Host: h.desc.Name, PID: pid, Err: wr.killErr}
	}

	res.Elapsed = time.Since(start)
	res.Output = out.String()
	if res.Outcome == Completed {
		var exitErr *exec.ExitError
		switch {
		case waitErr == nil:
			res.ExitCode = 0
		case errors.As(waitErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			res.Outcome = ScriptFailed
			res.Err = waitErr
		}
	}

	h.logger.Debug("process finished", "script", req.DisplayName, "pid", pid,
		"outcome", res.Outcome, "exit_code", res.ExitCode, "elapsed", res.Elapsed)
	return res, nil
}

func (h *ProcessHost) writeTemp(code string) (string, error) {
	f, err := os.CreateTemp(h.tmpDir, "winmaint-*"+h.desc.PreferredExtension())
	if err != nil {
		return "", fmt.Errorf("create temp script: %w", err)
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp script: %w", err)
	}
	return f.Name(), nil
}

// processExecution suspends and resumes the whole process tree.
type processExecution struct {
	tree ProcessTree
	pid  int

	mu     sync.Mutex
	paused bool
	exited bool
}

func (e *processExecution) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exited || e.paused {
		return nil
	}
	if err := e.tree.Suspend(e.pid); err != nil {
		return fmt.Errorf("suspend pid %d: %w", e.pid, err)
	}
	e.paused = true
	return nil
}

func (e *processExecution) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exited || !e.paused {
		return nil
	}
	if err := e.tree.Resume(e.pid); err != nil {
		return fmt.Errorf("resume pid %d: %w", e.pid, err)
	}
	e.paused = false
	return nil
}

func (e *processExecution) suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *processExecution) finish() {
	e.mu.Lock()
	e.exited = true
	e.mu.Unlock()
}

// limitedBuffer keeps the first max bytes written and discards the rest
// while still reporting full writes so the child never sees EPIPE.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
