package host

import (
	"fmt"
	"log/slog"
	"sync"

	"winmaint/internal/catalog"
)

// Registry resolves host descriptors to runnable hosts.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]Host
}

// NewRegistry builds a host for every descriptor in the catalog.
func NewRegistry(cat *catalog.Catalog, tree ProcessTree, logger *slog.Logger) (*Registry, error) {
	r := &Registry{hosts: make(map[string]Host)}
	for _, desc := range cat.Hosts() {
		var (
			h   Host
			err error
		)
		switch {
		case desc.Process != nil:
			h, err = NewProcessHost(desc, tree, logger)
		case desc.Engine == EngineLua:
			h, err = NewLuaHost(desc, logger)
		default:
			err = fmt.Errorf("host %s: unsupported engine %q", desc.Name, desc.Engine)
		}
		if err != nil {
			return nil, err
		}
		r.hosts[desc.Name] = h
	}
	return r, nil
}

// Register adds or replaces the host for its descriptor's name.
func (r *Registry) Register(h Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[h.Descriptor().Name] = h
}

// Host returns the runnable host for desc.
func (r *Registry) Host(desc *catalog.Host) (Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[desc.Name]
	if !ok {
		return nil, fmt.Errorf("no host registered for %s", desc.Name)
	}
	return h, nil
}
