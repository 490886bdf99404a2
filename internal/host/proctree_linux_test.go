package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// processGone reports whether pid has exited. An unreaped zombie counts as
// gone: it no longer runs and holds nothing but its table entry.
func processGone(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return false
	}
	// The state field follows the parenthesised command name.
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return false
	}
	fields := strings.Fields(string(data[i+1:]))
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid, err == nil && pid > 0
}

func TestProcessHostKillTerminatesChildren(t *testing.T) {
	h, dir := shellHost(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	res, err := h.Execute(context.Background(), Request{
		Code:        fmt.Sprintf("sleep 30 &\necho $! > %q\nwait\n", pidFile),
		DisplayName: "spawner",
		Timeout:     50 * time.Millisecond,
		OnHang: func(context.Context, string) HangDecision {
			if _, ok := readPID(pidFile); !ok {
				return KeepRunning
			}
			return Kill
		},
	})
	require.NoError(t, err)
	require.Equal(t, HangKilled, res.Outcome)
	requireEmptyDir(t, dir)

	pid, ok := readPID(pidFile)
	require.True(t, ok)
	require.Eventually(t, func() bool { return processGone(pid) }, 5*time.Second, 20*time.Millisecond,
		"child %d survived the kill", pid)
}

func TestProcessHostCancelTerminatesChildren(t *testing.T) {
	h, _ := shellHost(t)
	pidFile := filepath.Join(t.TempDir(), "child.pid")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for range 250 {
			if _, ok := readPID(pidFile); ok {
				cancel()
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	res, err := h.Execute(ctx, Request{
		Code:    fmt.Sprintf("sleep 30 &\necho $! > %q\nwait\n", pidFile),
		Timeout: time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, Cancelled, res.Outcome)

	pid, ok := readPID(pidFile)
	require.True(t, ok)
	require.Eventually(t, func() bool { return processGone(pid) }, 5*time.Second, 20*time.Millisecond,
		"child %d survived the cancel", pid)
}
