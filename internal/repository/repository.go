// Package repository holds the collections scripts are loaded from: a
// read-only one backed by embedded resources and a mutable one backed by a
// directory with one file per script.
package repository

import (
	"errors"
	"io/fs"
	"iter"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"winmaint/internal/catalog"
	"winmaint/internal/codec"
	"winmaint/internal/script"
)

// Repository is an iterable collection of scripts.
type Repository interface {
	// Scripts returns a snapshot ordered by invariant name.
	Scripts() []*script.Script
	// All iterates in invariant-name order while holding the read lock;
	// mutating the repository from inside the loop deadlocks.
	All() iter.Seq[*script.Script]
	Get(name string) (*script.Script, bool)
	Contains(s *script.Script) bool
	Len() int
	// Reload drops the in-memory set and loads it again from the backing
	// store. Individually broken files never make Reload fail.
	Reload() error
}

// Options configures loading for both repository variants.
type Options struct {
	// Extensions selects the files to load; the first one names new files.
	// Defaults to ".yaml".
	Extensions []string
	// Chain defaults to codec.DefaultChain().
	Chain           codec.Chain
	Catalog         *catalog.Catalog
	DefaultVersions script.VersionRange
	// OnFilesystemError and OnDeserializeError decide what happens to a
	// file that failed to load. Nil logs and ignores. They run while the
	// repository holds its write lock, so they must not call back into the
	// repository being loaded.
	OnFilesystemError  RecoveryFunc
	OnDeserializeError RecoveryFunc
}

func (o *Options) setDefaults() {
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".yaml"}
	}
	exts := make([]string, len(o.Extensions))
	for i, ext := range o.Extensions {
		exts[i] = strings.ToLower(ext)
	}
	o.Extensions = exts
	if o.Chain == nil {
		o.Chain = codec.DefaultChain()
	}
}

func (o *Options) matches(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return slices.Contains(o.Extensions, ext)
}

// collection is the locked entry map shared by both variants.
type collection struct {
	mu      sync.RWMutex
	entries *entryMap
}

func (c *collection) Scripts() []*script.Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.sorted()
}

func (c *collection) All() iter.Seq[*script.Script] {
	return func(yield func(*script.Script) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for _, s := range c.entries.sorted() {
			if !yield(s) {
				return
			}
		}
	}
}

func (c *collection) Get(name string) (*script.Script, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.get(name)
}

func (c *collection) Contains(s *script.Script) bool {
	if s == nil {
		return false
	}
	_, ok := c.Get(s.InvariantName)
	return ok
}

func (c *collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.len()
}

// loader reads every matching file under a root of fsys.
type loader struct {
	fsys    fs.FS
	root    string
	opts    Options
	mutable bool
	logger  *slog.Logger
	// source maps an fs path to the source identifier stored on scripts.
	source func(p string) string
	// remove deletes a file; nil when the backing store is read-only.
	remove func(p string) error
}

// load returns the entries and the number of files that were skipped. Only
// a failure to read the root itself is returned as an error.
func (l *loader) load() (*entryMap, int, error) {
	files, err := l.list()
	if err != nil {
		return nil, 0, err
	}

	m := newEntryMap()
	skipped := 0
	for _, p := range files {
		s, ok := l.loadFile(p)
		if !ok {
			skipped++
			continue
		}
		src := l.source(p)
		if prev, dup := m.pathOf(s.InvariantName); dup {
			l.logger.Warn("duplicate script identity, keeping first", "script", s.InvariantName, "path", src, "kept", prev)
			skipped++
			continue
		}
		m.put(src, s)
	}
	return m, skipped, nil
}

func (l *loader) list() ([]string, error) {
	var files []string
	err := fs.WalkDir(l.fsys, l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.root {
				return &FilesystemError{Op: "walk", Path: l.source(p), Err: err}
			}
			l.fsFailure(&FilesystemError{Op: "walk", Path: l.source(p), Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && l.opts.matches(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func (l *loader) loadFile(p string) (*script.Script, bool) {
	src := l.source(p)
	for {
		data, err := fs.ReadFile(l.fsys, p)
		if err != nil {
			if l.fsFailure(&FilesystemError{Op: "access", Path: src, Err: err}) == Retry {
				continue
			}
			return nil, false
		}

		ctx := codec.Context{
			Catalog:         l.opts.Catalog,
			DefaultVersions: l.opts.DefaultVersions,
			Source:          src,
			Mutable:         l.mutable,
		}
		s, err := l.opts.Chain.Deserialize(data, ctx)
		if err == nil {
			return s, true
		}

		switch l.decodeFailure(err, src) {
		case Retry:
			continue
		case Remove:
			if l.remove == nil {
				l.logger.Warn("cannot remove read-only script", "path", src)
				return nil, false
			}
			if err := l.remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				l.fsFailure(&FilesystemError{Op: "delete", Path: src, Err: err})
			} else {
				l.logger.Info("removed unreadable script", "path", src)
			}
		}
		return nil, false
	}
}

func (l *loader) fsFailure(err *FilesystemError) Recovery {
	if l.opts.OnFilesystemError == nil {
		l.logger.Warn("skip script file", "path", err.Path, "err", err)
		return Ignore
	}
	return l.opts.OnFilesystemError(err, err.Path)
}

func (l *loader) decodeFailure(err error, src string) Recovery {
	if l.opts.OnDeserializeError == nil {
		l.logger.Warn("skip unreadable script", "path", src, "err", err)
		return Ignore
	}
	return l.opts.OnDeserializeError(err, src)
}
