package repository

import (
	"io/fs"
	"log/slog"
)

// EmbeddedScheme prefixes the source of scripts loaded from an embedded
// namespace.
const EmbeddedScheme = "embedded:"

// EmbeddedRepository is a read-only collection loaded from every matching
// resource under a prefix of an fs.FS, typically an embed.FS.
type EmbeddedRepository struct {
	collection
	fsys   fs.FS
	prefix string
	opts   Options
	logger *slog.Logger
}

var _ Repository = (*EmbeddedRepository)(nil)

// NewEmbeddedRepository loads every script under prefix.
func NewEmbeddedRepository(fsys fs.FS, prefix string, opts Options, logger *slog.Logger) (*EmbeddedRepository, error) {
	opts.setDefaults()
	if prefix == "" {
		prefix = "."
	}
	r := &EmbeddedRepository{
		collection: collection{entries: newEntryMap()},
		fsys:       fsys,
		prefix:     prefix,
		opts:       opts,
		logger:     logger.With("component", "repository", "namespace", prefix),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *EmbeddedRepository) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := &loader{
		fsys:   r.fsys,
		root:   r.prefix,
		opts:   r.opts,
		logger: r.logger,
		source: func(p string) string { return EmbeddedScheme + p },
	}
	m, skipped, err := l.load()
	if err != nil {
		return err
	}
	r.entries = m
	r.logger.Debug("embedded scripts loaded", "count", m.len(), "skipped", skipped)
	return nil
}
