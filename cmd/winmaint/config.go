package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"winmaint/internal/host"
	"winmaint/internal/script"
)

type Config struct {
	ScriptsDir          string `yaml:"scripts_dir" toml:"scripts_dir"`
	ScriptExtension     string `yaml:"script_extension" toml:"script_extension"`
	CatalogPath         string `yaml:"catalog_path" toml:"catalog_path"`
	DefaultVersionRange string `yaml:"default_version_range" toml:"default_version_range"`
	Execution           struct {
		Timeout      string   `yaml:"timeout" toml:"timeout"`
		Capabilities []string `yaml:"capabilities" toml:"capabilities"`
		Language     string   `yaml:"language" toml:"language"`
		HangPolicy   struct {
			Wait    string `yaml:"wait" toml:"wait"`
			Default string `yaml:"default" toml:"default"` // "keep_running" or "kill"
		} `yaml:"hang_policy" toml:"hang_policy"`
	} `yaml:"execution" toml:"execution"`
	Store struct {
		Path string `yaml:"path" toml:"path"`
	} `yaml:"store" toml:"store"`
	Web struct {
		Listen         string   `yaml:"listen" toml:"listen"`
		APIKey         string   `yaml:"api_key" toml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	} `yaml:"web" toml:"web"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled" toml:"enabled"`
		Broker      string `yaml:"broker" toml:"broker"`
		Username    string `yaml:"username" toml:"username"`
		Password    string `yaml:"password" toml:"password"`
		TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
		NodeID      string `yaml:"node_id" toml:"node_id"`
		Discovery   bool   `yaml:"discovery" toml:"discovery"`
	} `yaml:"mqtt" toml:"mqtt"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`

	// Parsed by validate.
	timeout      time.Duration
	hangWait     time.Duration
	hangDefault  host.HangDecision
	versions     script.VersionRange
	capabilities []script.Capability
}

// loadConfig reads path as TOML when it ends in .toml and as YAML otherwise.
// A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	case strings.EqualFold(filepath.Ext(path), ".toml"):
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.ScriptExtension == "" {
		c.ScriptExtension = ".yaml"
	}
	if c.DefaultVersionRange == "" {
		c.DefaultVersionRange = ">=6.1"
	}
	if c.Execution.Timeout == "" {
		c.Execution.Timeout = "5m"
	}
	if len(c.Execution.Capabilities) == 0 {
		// Undo reverts Execute, so it only runs on request.
		c.Execution.Capabilities = []string{string(script.Detect), string(script.Execute)}
	}
	if c.Execution.Language == "" {
		c.Execution.Language = script.ReferenceLanguage
	}
	if c.Execution.HangPolicy.Wait == "" {
		c.Execution.HangPolicy.Wait = "2m"
	}
	if c.Execution.HangPolicy.Default == "" {
		c.Execution.HangPolicy.Default = "keep_running"
	}
	if c.Store.Path == "" {
		c.Store.Path = "winmaint.db"
	}
	if c.Web.Listen == "" {
		c.Web.Listen = "127.0.0.1:8080"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "winmaint"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.ScriptExtension, ".") {
		return fmt.Errorf("script_extension must start with a dot, got %q", c.ScriptExtension)
	}
	var err error
	if c.timeout, err = time.ParseDuration(c.Execution.Timeout); err != nil || c.timeout < 0 {
		return fmt.Errorf("execution.timeout: invalid duration %q", c.Execution.Timeout)
	}
	if c.hangWait, err = time.ParseDuration(c.Execution.HangPolicy.Wait); err != nil || c.hangWait < 0 {
		return fmt.Errorf("execution.hang_policy.wait: invalid duration %q", c.Execution.HangPolicy.Wait)
	}
	if c.hangDefault, err = host.ParseHangDecision(c.Execution.HangPolicy.Default); err != nil {
		return fmt.Errorf("execution.hang_policy.default: %w", err)
	}
	if c.versions, err = script.ParseVersionRange(c.DefaultVersionRange); err != nil {
		return fmt.Errorf("default_version_range: %w", err)
	}
	c.capabilities = c.capabilities[:0]
	for _, name := range c.Execution.Capabilities {
		switch capability := script.Capability(name); capability {
		case script.Execute, script.Detect, script.Undo:
			c.capabilities = append(c.capabilities, capability)
		default:
			return fmt.Errorf("execution.capabilities: unknown capability %q", name)
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
