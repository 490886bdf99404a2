package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"winmaint/internal/host"
	"winmaint/internal/runner"
	"winmaint/internal/script"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "winmaint.yaml", `
scripts_dir: /srv/scripts
execution:
  timeout: 30s
  capabilities: [Detect, Execute]
  hang_policy:
    default: kill
mqtt:
  enabled: true
  broker: tcp://localhost:1883
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	require.Equal(t, "/srv/scripts", cfg.ScriptsDir)
	require.Equal(t, 30*time.Second, cfg.timeout)
	require.Equal(t, []script.Capability{script.Detect, script.Execute}, cfg.capabilities)
	require.Equal(t, host.Kill, cfg.hangDefault)
	require.Equal(t, 2*time.Minute, cfg.hangWait)
	require.Equal(t, "winmaint", cfg.MQTT.TopicPrefix)
	require.Equal(t, ".yaml", cfg.ScriptExtension)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeConfig(t, "winmaint.toml", `
scripts_dir = "C:/ProgramData/winmaint"
default_version_range = ">=10.0"

[execution]
timeout = "1m"

[web]
listen = ":9090"
allowed_origins = ["http://console.local"]
`)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	require.Equal(t, "C:/ProgramData/winmaint", cfg.ScriptsDir)
	require.Equal(t, time.Minute, cfg.timeout)
	require.Equal(t, ":9090", cfg.Web.Listen)
	require.Equal(t, []string{"http://console.local"}, cfg.Web.AllowedOrigins)
	require.Equal(t, ">=10.0", cfg.versions.String())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	require.Equal(t, "scripts", cfg.ScriptsDir)
	require.Equal(t, 5*time.Minute, cfg.timeout)
	require.Equal(t, host.KeepRunning, cfg.hangDefault)
	require.Equal(t, "127.0.0.1:8080", cfg.Web.Listen)
	require.Equal(t, []script.Capability{script.Detect, script.Execute}, cfg.capabilities)
}

func TestLoadConfigParseError(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "bad.yaml", "execution: [oops"))
	require.ErrorContains(t, err, "parse config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"extension without dot", func(c *Config) { c.ScriptExtension = "yaml" }, "script_extension"},
		{"bad timeout", func(c *Config) { c.Execution.Timeout = "soon" }, "execution.timeout"},
		{"negative wait", func(c *Config) { c.Execution.HangPolicy.Wait = "-1s" }, "hang_policy.wait"},
		{"bad decision", func(c *Config) { c.Execution.HangPolicy.Default = "panic" }, "hang_policy.default"},
		{"bad range", func(c *Config) { c.DefaultVersionRange = "newest" }, "default_version_range"},
		{"bad capability", func(c *Config) { c.Execution.Capabilities = []string{"Launch"} }, "capabilities"},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.applyDefaults()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.validate(), tt.want)
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	var buf bytes.Buffer
	logger := newLogger(&cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "script", "x")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "shown", line["msg"])
	require.Equal(t, "x", line["script"])
}

// execute runs the CLI against a config rooted in a temp dir.
func execute(t *testing.T, cfgPath string, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func testConfig(t *testing.T) (cfgPath, scriptsDir string) {
	t.Helper()
	dir := t.TempDir()
	scriptsDir = filepath.Join(dir, "scripts")
	cfgPath = writeConfig(t, "winmaint.yaml", fmt.Sprintf(`
scripts_dir: %q
store:
  path: %q
log:
  level: error
`, scriptsDir, filepath.Join(dir, "history.db")))
	return cfgPath, scriptsDir
}

func TestListCommand(t *testing.T) {
	cfgPath, _ := testConfig(t)

	out, err := execute(t, cfgPath, "", "list")
	require.NoError(t, err)
	require.Contains(t, out, "Flush DNS cache")
	require.Contains(t, out, "builtin")
	require.Contains(t, strings.ToUpper(out), "TOTAL 6")

	out, err = execute(t, cfgPath, "", "list", "--category", "network")
	require.NoError(t, err)
	require.Contains(t, out, "Flush DNS cache")
	require.NotContains(t, out, "Report system clock")

	_, err = execute(t, cfgPath, "", "list", "--os-version", "not-a-version")
	require.ErrorContains(t, err, "--os-version")
}

func TestAddAndRemoveCommands(t *testing.T) {
	cfgPath, scriptsDir := testConfig(t)
	src := writeConfig(t, "tidy.yaml", `names:
  - lang: en
    text: Tidy logs
category: Cleanup
safety: Safe
impact: Low
actions:
  Execute:
    host: Lua
    code: return 0
`)

	out, err := execute(t, cfgPath, "", "add", src)
	require.NoError(t, err)
	require.Contains(t, out, `added "Tidy logs"`)
	require.FileExists(t, filepath.Join(scriptsDir, "tidy_logs.yaml"))

	_, err = execute(t, cfgPath, "", "add", src)
	require.Error(t, err, "second add conflicts")

	_, err = execute(t, cfgPath, "", "remove", "Flush DNS cache")
	require.ErrorContains(t, err, "built in")

	out, err = execute(t, cfgPath, "", "remove", "Tidy logs")
	require.NoError(t, err)
	require.Contains(t, out, `removed "Tidy logs"`)
	require.NoFileExists(t, filepath.Join(scriptsDir, "tidy_logs.yaml"))

	_, err = execute(t, cfgPath, "", "remove", "Tidy logs")
	require.ErrorIs(t, err, errUnknownScript)
}

func TestRunCommand(t *testing.T) {
	cfgPath, _ := testConfig(t)

	out, err := execute(t, cfgPath, "", "run", "Report system clock", "--on-hang", "kill")
	require.NoError(t, err, out)
	require.Contains(t, out, "[1/1] Report system clock")
	require.Contains(t, out, "succeeded")
	require.Contains(t, out, "completed")

	_, err = execute(t, cfgPath, "", "run", "No such script")
	require.ErrorIs(t, err, errUnknownScript)

	_, err = execute(t, cfgPath, "", "run", "--all", "Report system clock")
	require.ErrorContains(t, err, "mutually exclusive")

	_, err = execute(t, cfgPath, "", "run", "Report system clock", "--on-hang", "shrug")
	require.ErrorContains(t, err, "--on-hang")
}

func plannedActions(a *app, s *script.Script, undo bool) []script.Capability {
	cfg := runner.Config{Capabilities: runCapabilities(a.cfg, undo)}
	var out []script.Capability
	for _, act := range runner.NewSession(s, a.hosts, cfg, a.logger).Actions() {
		out = append(out, act.Capability)
	}
	return out
}

func TestRunSkipsUndoByDefault(t *testing.T) {
	cfgPath, _ := testConfig(t)
	a, err := openApp(cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	s, ok := a.builtin.Get("Disable advertising ID")
	require.True(t, ok)
	_, hasUndo := s.Action(script.Undo)
	require.True(t, hasUndo)

	require.Equal(t, []script.Capability{script.Execute}, plannedActions(a, s, false))
	require.Equal(t, []script.Capability{script.Undo}, plannedActions(a, s, true))
}

func TestSelectScriptsUndo(t *testing.T) {
	cfgPath, _ := testConfig(t)
	a, err := openApp(cfgPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = selectScripts(a, []string{"Flush DNS cache"}, runFlags{undo: true})
	require.ErrorContains(t, err, "no Undo action")

	scripts, err := selectScripts(a, nil, runFlags{all: true, undo: true})
	require.NoError(t, err)
	var names []string
	for _, s := range scripts {
		names = append(names, s.InvariantName)
	}
	require.Equal(t, []string{"Disable advertising ID", "Reset Winsock catalog"}, names)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "unused.yaml", "", "version")
	require.NoError(t, err)
	require.Equal(t, "winmaint dev\n", out)
}

func TestHangPrompter(t *testing.T) {
	var out bytes.Buffer
	p := &hangPrompter{in: strings.NewReader("maybe\nk\n\n"), out: &out}

	require.Equal(t, host.Kill, p.ask(context.Background(), "Slow script"))
	require.Equal(t, 2, strings.Count(out.String(), "Slow script is taking longer"))

	require.Equal(t, host.KeepRunning, p.ask(context.Background(), "Slow script"), "empty line continues")
	require.Equal(t, host.KeepRunning, p.ask(context.Background(), "Slow script"), "closed input continues")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	blocked := &hangPrompter{in: pr, out: &bytes.Buffer{}}
	require.Equal(t, host.KeepRunning, blocked.ask(ctx, "x"))
}

func TestSummaryError(t *testing.T) {
	ok, failed := runner.Succeeded, runner.Failed
	s := &script.Script{InvariantName: "a"}

	require.NoError(t, summaryError(runner.Summary{State: runner.Completed, Records: []runner.Record{{Script: s, Outcome: &ok}}}))
	require.ErrorContains(t, summaryError(runner.Summary{State: runner.Completed, Records: []runner.Record{{Script: s, Outcome: &ok}, {Script: s, Outcome: &failed}}}), "1 of 2")
	require.ErrorContains(t, summaryError(runner.Summary{State: runner.Aborted}), "aborted")
}
