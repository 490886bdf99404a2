package host

import (
	"context"
	"log/slog"
	"time"
)

// suspendState is implemented by executions so the watcher can tell a
// paused execution apart from a hung one.
type suspendState interface {
	suspended() bool
}

type watchResult struct {
	outcome Outcome
	hangs   int
	killErr error
}

// watch blocks until done is closed, the context is cancelled or the caller
// decides to kill a hung execution. kill must make done close eventually.
//
// The hang prompt repeats every timeout for as long as the answer is
// KeepRunning; there is no backoff and no retry cap, so very short timeouts
// produce frequent prompts.
func watch(ctx context.Context, req Request, done <-chan struct{}, ex suspendState, kill func() error, logger *slog.Logger) watchResult {
	var res watchResult

	var timerC <-chan time.Time
	var timer *time.Timer
	if req.Timeout > 0 {
		timer = time.NewTimer(req.Timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	teardown := func(outcome Outcome) watchResult {
		res.outcome = outcome
		if err := kill(); err != nil {
			res.killErr = err
			return res
		}
		<-done
		return res
	}

	for {
		select {
		case <-done:
			res.outcome = Completed
			return res

		case <-ctx.Done():
			logger.Debug("execution cancelled", "script", req.DisplayName)
			return teardown(Cancelled)

		case <-timerC:
			if ex.suspended() {
				timer.Reset(req.Timeout)
				continue
			}
			res.hangs++
			logger.Warn("execution exceeded timeout", "script", req.DisplayName, "timeout", req.Timeout, "hangs", res.hangs)

			decision, settled := askHang(ctx, req, done)
			switch {
			case settled == settledDone:
				res.outcome = Completed
				return res
			case settled == settledCancelled:
				return teardown(Cancelled)
			case decision == Kill:
				select {
				case <-done:
					res.outcome = Completed
					return res
				default:
				}
				logger.Info("killing hung execution", "script", req.DisplayName)
				return teardown(HangKilled)
			default:
				timer.Reset(req.Timeout)
			}
		}
	}
}

type settlement int

const (
	settledDecision settlement = iota
	settledDone
	settledCancelled
)

func askHang(ctx context.Context, req Request, done <-chan struct{}) (HangDecision, settlement) {
	if req.OnHang == nil {
		return KeepRunning, settledDecision
	}

	askCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	answer := make(chan HangDecision, 1)
	go func() {
		answer <- req.OnHang(askCtx, req.DisplayName)
	}()

	select {
	case d := <-answer:
		return d, settledDecision
	case <-done:
		return KeepRunning, settledDone
	case <-ctx.Done():
		return KeepRunning, settledCancelled
	}
}
