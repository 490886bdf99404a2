// Package host runs a code string against one interpreter while watching for
// hangs and honoring cancellation.
package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"winmaint/internal/catalog"
)

// HangDecision is what the caller wants done with an execution that is
// still running after its timeout.
type HangDecision int

const (
	KeepRunning HangDecision = iota
	Kill
)

func (d HangDecision) String() string {
	switch d {
	case KeepRunning:
		return "keep_running"
	case Kill:
		return "kill"
	default:
		return fmt.Sprintf("HangDecision(%d)", int(d))
	}
}

// ParseHangDecision accepts the String form.
func ParseHangDecision(s string) (HangDecision, error) {
	switch s {
	case "keep_running", "keep":
		return KeepRunning, nil
	case "kill":
		return Kill, nil
	default:
		return KeepRunning, fmt.Errorf("unknown hang decision %q", s)
	}
}

// HangFunc is asked what to do each time an execution overruns its timeout.
// ctx is cancelled when the answer no longer matters, for example because
// the execution finished while the question was pending.
type HangFunc func(ctx context.Context, displayName string) HangDecision

// Outcome classifies how an execution ended.
type Outcome int

const (
	Completed Outcome = iota
	HangKilled
	Cancelled
	ScriptFailed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case HangKilled:
		return "hang_killed"
	case Cancelled:
		return "cancelled"
	case ScriptFailed:
		return "script_failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ErrSuspendNotSupported is returned by executions that cannot be paused.
var ErrSuspendNotSupported = errors.New("suspend not supported")

// Execution is the handle to a running action.
type Execution interface {
	Suspend() error
	Resume() error
}

// Request describes one execution.
type Request struct {
	Code        string
	DisplayName string
	// Timeout is the hang-check interval. Zero disables hang detection.
	Timeout time.Duration
	// OnHang is consulted on every overrun; nil keeps the execution running.
	OnHang HangFunc
	// OnStart receives the execution handle once the code is running.
	OnStart func(Execution)
}

// Result is the outcome of an execution. ExitCode is meaningful only for
// Completed.
type Result struct {
	Outcome    Outcome
	ExitCode   int
	Elapsed    time.Duration
	HangEvents int
	Output     string
	Err        error
}

// Host executes code on one interpreter. The returned error is reserved for
// fatal conditions (*StartError, *KillError); hangs, cancellation and
// script failures are reported through Result.
type Host interface {
	Descriptor() *catalog.Host
	Execute(ctx context.Context, req Request) (Result, error)
}

// StartError means the interpreter could not be started at all.
type StartError struct {
	Host string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Host, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// KillError means a hung or cancelled execution could not be torn down.
type KillError struct {
	Host string
	PID  int
	Err  error
}

func (e *KillError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("kill %s (pid %d): %v", e.Host, e.PID, e.Err)
	}
	return fmt.Sprintf("kill %s: %v", e.Host, e.Err)
}

func (e *KillError) Unwrap() error { return e.Err }

// ScriptError carries a syntax or runtime error raised by an engine.
type ScriptError struct {
	Host string
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s script error: %v", e.Host, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }
