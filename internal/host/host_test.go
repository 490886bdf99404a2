package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"winmaint/internal/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func shellHost(t *testing.T) (*ProcessHost, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	cat, err := catalog.Default()
	require.NoError(t, err)
	desc, err := cat.Host("Shell")
	require.NoError(t, err)
	h, err := NewProcessHost(desc, NewProcessTree(), testLogger())
	require.NoError(t, err)
	dir := t.TempDir()
	h.SetTempDir(dir)
	return h, dir
}

func luaHost(t *testing.T) *LuaHost {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)
	desc, err := cat.EngineHost(EngineLua)
	require.NoError(t, err)
	h, err := NewLuaHost(desc, testLogger())
	require.NoError(t, err)
	return h
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp script left behind")
}

func TestProcessHostExitCode(t *testing.T) {
	h, dir := shellHost(t)

	res, err := h.Execute(context.Background(), Request{Code: "echo hello\nexit 3\n", DisplayName: "exit"})
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "hello\n", res.Output)
	require.Zero(t, res.HangEvents)
	requireEmptyDir(t, dir)
}

func TestProcessHostHangPromptsUntilKill(t *testing.T) {
	h, dir := shellHost(t)

	var prompts atomic.Int32
	req := Request{
		Code:        "sleep 30\n",
		DisplayName: "stuck",
		Timeout:     100 * time.Millisecond,
		OnHang: func(ctx context.Context, name string) HangDecision {
			if prompts.Add(1) < 3 {
				return KeepRunning
			}
			return Kill
		},
	}

	start := time.Now()
	res, err := h.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, HangKilled, res.Outcome)
	require.Equal(t, 3, res.HangEvents)
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	require.Less(t, time.Since(start), 10*time.Second)

	time.Sleep(300 * time.Millisecond)
	require.Equal(t, int32(3), prompts.Load(), "no prompts after kill")
	requireEmptyDir(t, dir)
}

func TestProcessHostNilHangKeepsRunning(t *testing.T) {
	h, _ := shellHost(t)

	res, err := h.Execute(context.Background(), Request{
		Code:    "sleep 0.3\n",
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	require.Equal(t, 0, res.ExitCode)
	require.Positive(t, res.HangEvents)
}

func TestProcessHostCancel(t *testing.T) {
	h, dir := shellHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	var prompted atomic.Bool
	start := time.Now()
	res, err := h.Execute(ctx, Request{
		Code:    "sleep 30\n",
		Timeout: time.Hour,
		OnHang: func(context.Context, string) HangDecision {
			prompted.Store(true)
			return KeepRunning
		},
	})
	require.NoError(t, err)
	require.Equal(t, Cancelled, res.Outcome)
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, prompted.Load())
	requireEmptyDir(t, dir)
}

func TestProcessHostAlreadyCancelled(t *testing.T) {
	h, dir := shellHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.Execute(ctx, Request{Code: "exit 0\n"})
	require.NoError(t, err)
	require.Equal(t, Cancelled, res.Outcome)
	requireEmptyDir(t, dir)
}

func TestProcessHostStartError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	desc := &catalog.Host{
		Name:       "Missing",
		Extensions: []string{".sh"},
		Process: &catalog.ProcessInvocation{
			Executable: "/nonexistent/interpreter",
			Args:       []string{catalog.PathPlaceholder},
		},
	}
	h, err := NewProcessHost(desc, NewProcessTree(), testLogger())
	require.NoError(t, err)
	dir := t.TempDir()
	h.SetTempDir(dir)

	_, err = h.Execute(context.Background(), Request{Code: "exit 0\n"})
	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	require.Equal(t, "Missing", startErr.Host)
	requireEmptyDir(t, dir)
}

func TestProcessHostSuspendResume(t *testing.T) {
	h, _ := shellHost(t)

	res, err := h.Execute(context.Background(), Request{
		Code: "sleep 0.1\n",
		OnStart: func(ex Execution) {
			require.NoError(t, ex.Suspend())
			time.AfterFunc(400*time.Millisecond, func() { _ = ex.Resume() })
		},
	})
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	require.GreaterOrEqual(t, res.Elapsed, 400*time.Millisecond)
}

func TestLuaHostExitCodeAndLog(t *testing.T) {
	h := luaHost(t)

	res, err := h.Execute(context.Background(), Request{Code: `log("cleaning", 2) return 7`})
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	require.Equal(t, 7, res.ExitCode)
	require.Equal(t, "cleaning\t2\n", res.Output)
}

func TestLuaHostSandbox(t *testing.T) {
	h := luaHost(t)

	res, err := h.Execute(context.Background(), Request{
		Code: `return io == nil and require == nil and os.execute == nil and os.time ~= nil`,
	})
	require.NoError(t, err)
	require.Equal(t, Completed, res.Outcome)
	require.Equal(t, 0, res.ExitCode)
}

func TestLuaHostScriptError(t *testing.T) {
	h := luaHost(t)

	res, err := h.Execute(context.Background(), Request{Code: `error("boom")`})
	require.NoError(t, err)
	require.Equal(t, ScriptFailed, res.Outcome)
	var scriptErr *ScriptError
	require.True(t, errors.As(res.Err, &scriptErr))
	require.Contains(t, scriptErr.Error(), "boom")

	res, err = h.Execute(context.Background(), Request{Code: `return (`})
	require.NoError(t, err)
	require.Equal(t, ScriptFailed, res.Outcome)
}

func TestLuaHostHangKill(t *testing.T) {
	h := luaHost(t)

	res, err := h.Execute(context.Background(), Request{
		Code:    `while true do end`,
		Timeout: 50 * time.Millisecond,
		OnHang:  func(context.Context, string) HangDecision { return Kill },
	})
	require.NoError(t, err)
	require.Equal(t, HangKilled, res.Outcome)
	require.Equal(t, 1, res.HangEvents)
}

func TestLuaHostCancel(t *testing.T) {
	h := luaHost(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := h.Execute(ctx, Request{Code: `while true do checkpoint() end`})
	require.NoError(t, err)
	require.Equal(t, Cancelled, res.Outcome)
}

func TestLuaHostPauseAtCheckpoint(t *testing.T) {
	h := luaHost(t)

	res, err := h.Execute(context.Background(), Request{
		Code:    `sleep(0.05) checkpoint() return 1`,
		Timeout: 300 * time.Millisecond,
		OnHang:  func(context.Context, string) HangDecision { return Kill },
		OnStart: func(ex Execution) {
			require.NoError(t, ex.Suspend())
			time.AfterFunc(400*time.Millisecond, func() { _ = ex.Resume() })
		},
	})
	require.NoError(t, err)
	// Paused time does not count as a hang.
	require.Equal(t, Completed, res.Outcome)
	require.Equal(t, 1, res.ExitCode)
	require.GreaterOrEqual(t, res.Elapsed, 400*time.Millisecond)
}

func TestParseHangDecision(t *testing.T) {
	for in, want := range map[string]HangDecision{"kill": Kill, "keep": KeepRunning, "keep_running": KeepRunning} {
		got, err := ParseHangDecision(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseHangDecision("maybe")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	cat, err := catalog.Default()
	require.NoError(t, err)
	reg, err := NewRegistry(cat, NewProcessTree(), testLogger())
	require.NoError(t, err)

	desc, err := cat.Host("PowerShell")
	require.NoError(t, err)
	h, err := reg.Host(desc)
	require.NoError(t, err)
	require.IsType(t, &ProcessHost{}, h)

	desc, err = cat.EngineHost(EngineLua)
	require.NoError(t, err)
	h, err = reg.Host(desc)
	require.NoError(t, err)
	require.IsType(t, &LuaHost{}, h)

	_, err = reg.Host(&catalog.Host{Name: "Nope"})
	require.Error(t, err)
}
