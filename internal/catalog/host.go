package catalog

import (
	"fmt"
	"strings"
)

// PathPlaceholder is replaced by the full path of the generated script file
// when a process-backed host is invoked.
const PathPlaceholder = "{path}"

// ProcessInvocation describes how to start an external interpreter.
type ProcessInvocation struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
}

// Host describes an interpreter capable of running code of certain file
// extensions. Hosts are built once when the catalog is loaded and shared by
// pointer; nothing mutates them afterwards.
type Host struct {
	Name        string             `yaml:"name"`
	DisplayName string             `yaml:"display_name"`
	Description string             `yaml:"description"`
	Extensions  []string           `yaml:"extensions"`
	Process     *ProcessInvocation `yaml:"process,omitempty"`
	Engine      string             `yaml:"engine,omitempty"`
}

// PreferredExtension is the extension used when a script file is
// materialized for this host.
func (h *Host) PreferredExtension() string {
	if len(h.Extensions) == 0 {
		return ""
	}
	return h.Extensions[0]
}

// Supports reports whether the host runs files with the given extension.
func (h *Host) Supports(ext string) bool {
	for _, e := range h.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// InProcess reports whether the host is an embedded engine.
func (h *Host) InProcess() bool {
	return h.Engine != ""
}

// Arguments expands the argument template for a script file path.
func (p *ProcessInvocation) Arguments(path string) []string {
	args := make([]string, len(p.Args))
	for i, a := range p.Args {
		args[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}
	return args
}

func (h *Host) validate() error {
	if h.Name == "" {
		return fmt.Errorf("host name is required")
	}
	if len(h.Extensions) == 0 {
		return fmt.Errorf("host %s: at least one extension is required", h.Name)
	}
	for _, ext := range h.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("host %s: extension %q must start with a dot", h.Name, ext)
		}
	}
	switch {
	case h.Process != nil && h.Engine != "":
		return fmt.Errorf("host %s: process and engine are mutually exclusive", h.Name)
	case h.Process == nil && h.Engine == "":
		return fmt.Errorf("host %s: either process or engine is required", h.Name)
	case h.Process != nil:
		if h.Process.Executable == "" {
			return fmt.Errorf("host %s: process.executable is required", h.Name)
		}
		n := 0
		for _, a := range h.Process.Args {
			n += strings.Count(a, PathPlaceholder)
		}
		if n != 1 {
			return fmt.Errorf("host %s: process.args must contain %s exactly once, found %d", h.Name, PathPlaceholder, n)
		}
	}
	if h.DisplayName == "" {
		h.DisplayName = h.Name
	}
	return nil
}
