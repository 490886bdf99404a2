package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"winmaint/internal/catalog"
)

// EngineLua is the engine identifier served by LuaHost.
const EngineLua = "lua"

// LuaHost runs code in an embedded, sandboxed Lua state. Every execution gets
// a fresh state; killing it cancels the state's context. Pausing is
// cooperative: scripts stop at checkpoint(), sleep() and log().
type LuaHost struct {
	desc   *catalog.Host
	logger *slog.Logger
}

// NewLuaHost creates a host for a descriptor whose engine is "lua".
func NewLuaHost(desc *catalog.Host, logger *slog.Logger) (*LuaHost, error) {
	if desc.Engine != EngineLua {
		return nil, fmt.Errorf("host %s: engine %q is not %q", desc.Name, desc.Engine, EngineLua)
	}
	return &LuaHost{
		desc:   desc,
		logger: logger.With("component", "host", "host", desc.Name),
	}, nil
}

func (h *LuaHost) Descriptor() *catalog.Host { return h.desc }

// Execute implements Host. A numeric value returned by the chunk becomes the
// exit code; a boolean maps to 0 (true) or 1 (false).
func (h *LuaHost) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if ctx.Err() != nil {
		return Result{Outcome: Cancelled, ExitCode: -1}, nil
	}

	runCtx, kill := context.WithCancel(context.Background())
	defer kill()

	ex := newLuaExecution()
	var out strings.Builder
	L := h.newState(runCtx, ex, req.DisplayName, &out)

	done := make(chan struct{})
	var runErr error
	exitCode := 0
	go func() {
		defer close(done)
		runErr = L.DoString(req.Code)
		if runErr == nil && L.GetTop() > 0 {
			exitCode = luaExitCode(L.Get(1))
		}
	}()

	if req.OnStart != nil {
		req.OnStart(ex)
	}

	wr := watch(ctx, req, done, ex, func() error {
		kill()
		return nil
	}, h.logger)
	L.Close()

	res := Result{
		Outcome:    wr.outcome,
		ExitCode:   -1,
		HangEvents: wr.hangs,
		Elapsed:    time.Since(start),
		Output:     out.String(),
	}
	if res.Outcome == Completed {
		if runErr != nil {
			res.Outcome = ScriptFailed
			res.Err = &ScriptError{Host: h.desc.Name, Err: runErr}
		} else {
			res.ExitCode = exitCode
		}
	}

	h.logger.Debug("lua finished", "script", req.DisplayName,
		"outcome", res.Outcome, "exit_code", res.ExitCode, "elapsed", res.Elapsed)
	return res, nil
}

// newState builds the sandboxed state. Only out is written by log(), and
// only from the goroutine running the chunk.
func (h *LuaHost) newState(ctx context.Context, ex *luaExecution, name string, out *strings.Builder) *lua.LState {
	L := lua.NewState()

	safeOS := L.NewTable()
	if osTbl, ok := L.GetGlobal("os").(*lua.LTable); ok {
		for _, fn := range []string{"time", "clock", "date", "getenv"} {
			safeOS.RawSetString(fn, osTbl.RawGetString(fn))
		}
	}
	L.SetGlobal("os", safeOS)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)

	L.SetContext(ctx)

	logFn := L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		msg := strings.Join(parts, "\t")
		out.WriteString(msg)
		out.WriteByte('\n')
		h.logger.Info("script log", "script", name, "msg", msg)
		if err := ex.gate(ctx); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	})
	L.SetGlobal("log", logFn)
	L.SetGlobal("print", logFn)

	L.SetGlobal("checkpoint", L.NewFunction(func(L *lua.LState) int {
		if err := ex.gate(ctx); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))

	// sleep(seconds) waits in wall-clock time, but a pause stops the clock.
	L.SetGlobal("sleep", L.NewFunction(func(L *lua.LState) int {
		d := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
		if err := ex.sleep(ctx, d); err != nil {
			L.RaiseError("%v", err)
		}
		return 0
	}))

	return L
}

func luaExitCode(v lua.LValue) int {
	switch v := v.(type) {
	case lua.LNumber:
		return int(v)
	case lua.LBool:
		if v {
			return 0
		}
		return 1
	default:
		return 0
	}
}

// luaExecution is a pause gate consulted by the Lua globals. pausing is
// closed when a pause begins, resumed when it ends.
type luaExecution struct {
	mu      sync.Mutex
	paused  bool
	pausing chan struct{}
	resumed chan struct{}
}

func newLuaExecution() *luaExecution {
	return &luaExecution{pausing: make(chan struct{})}
}

func (e *luaExecution) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.resumed = make(chan struct{})
		close(e.pausing)
	}
	return nil
}

func (e *luaExecution) Resume() error {
	e.release()
	return nil
}

func (e *luaExecution) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.pausing = make(chan struct{})
		close(e.resumed)
	}
}

func (e *luaExecution) suspended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// gate blocks while paused.
func (e *luaExecution) gate(ctx context.Context) error {
	e.mu.Lock()
	paused, ch := e.paused, e.resumed
	e.mu.Unlock()
	if paused {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (e *luaExecution) sleep(ctx context.Context, d time.Duration) error {
	for d > 0 {
		if err := e.gate(ctx); err != nil {
			return err
		}
		e.mu.Lock()
		pausing := e.pausing
		e.mu.Unlock()

		t := time.NewTimer(d)
		began := time.Now()
		select {
		case <-t.C:
			d = 0
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-pausing:
			t.Stop()
			d -= time.Since(began)
		}
	}
	return e.gate(ctx)
}
