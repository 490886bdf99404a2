package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"winmaint/internal/codec"
	"winmaint/internal/script"
)

// FileRepository keeps one script per file in a directory tree. New scripts
// are written to <dir>/<FileName(invariant name)><first extension>.
//
// Add of a script whose identity or target path is already tracked, even by
// the same script, fails with *AlreadyExistsError; Replace is the explicit
// overwrite.
type FileRepository struct {
	collection
	dir    string
	opts   Options
	logger *slog.Logger
}

var _ Repository = (*FileRepository)(nil)

// NewFileRepository creates dir if needed and loads it.
func NewFileRepository(dir string, opts Options, logger *slog.Logger) (*FileRepository, error) {
	opts.setDefaults()
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve scripts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, &FilesystemError{Op: "create", Path: abs, Err: err}
	}
	r := &FileRepository{
		collection: collection{entries: newEntryMap()},
		dir:        abs,
		opts:       opts,
		logger:     logger.With("component", "repository", "dir", abs),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the absolute repository directory.
func (r *FileRepository) Dir() string { return r.dir }

func (r *FileRepository) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := &loader{
		fsys:    os.DirFS(r.dir),
		root:    ".",
		opts:    r.opts,
		mutable: true,
		logger:  r.logger,
		source:  func(p string) string { return filepath.Join(r.dir, filepath.FromSlash(p)) },
		remove:  func(p string) error { return os.Remove(filepath.Join(r.dir, filepath.FromSlash(p))) },
	}
	m, skipped, err := l.load()
	if err != nil {
		return err
	}
	r.entries = m
	r.logger.Info("scripts loaded", "count", m.len(), "skipped", skipped)
	return nil
}

// PathFor returns the file a script is written to by Add.
func (r *FileRepository) PathFor(s *script.Script) string {
	return filepath.Join(r.dir, script.FileName(s.InvariantName)+r.opts.Extensions[0])
}

// Add writes s to its target path and tracks it. The returned script is the
// tracked copy with Source set to that path.
func (r *FileRepository) Add(s *script.Script) (*script.Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.PathFor(s)
	if existing, ok := r.entries.at(path); ok {
		return nil, &AlreadyExistsError{Path: path, Existing: existing.InvariantName, Incoming: s.InvariantName}
	}
	if p, ok := r.entries.pathOf(s.InvariantName); ok {
		return nil, &AlreadyExistsError{Path: p, Existing: s.InvariantName, Incoming: s.InvariantName}
	}
	if _, err := os.Lstat(path); err == nil {
		return nil, &AlreadyExistsError{Path: path, Incoming: s.InvariantName}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, &FilesystemError{Op: "access", Path: path, Err: err}
	}

	return r.writeLocked(path, s)
}

// Replace writes s over the file tracking the same identity, or adds it
// when the identity is new. It still refuses to overwrite a different
// script.
func (r *FileRepository) Replace(s *script.Script) (*script.Script, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.entries.pathOf(s.InvariantName)
	if !ok {
		path = r.PathFor(s)
	}
	if existing, ok := r.entries.at(path); ok && !existing.Equal(s) {
		return nil, &AlreadyExistsError{Path: path, Existing: existing.InvariantName, Incoming: s.InvariantName}
	}
	return r.writeLocked(path, s)
}

// writeLocked serializes s to path and then commits the mapping. Nothing in
// memory changes when the write fails.
func (r *FileRepository) writeLocked(path string, s *script.Script) (*script.Script, error) {
	data, err := codec.Serialize(s)
	if err != nil {
		return nil, fmt.Errorf("serialize %q: %w", s.InvariantName, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, &FilesystemError{Op: "write", Path: path, Err: err}
	}

	tracked := *s
	tracked.Source = path
	tracked.Mutable = true
	r.entries.put(path, &tracked)
	r.logger.Info("script saved", "script", s.InvariantName, "path", path)
	return &tracked, nil
}

// AddFile imports a document from a path outside the repository.
func (r *FileRepository) AddFile(src string) (*script.Script, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return nil, &FilesystemError{Op: "access", Path: src, Err: err}
	}

	r.mu.RLock()
	tracked, ok := r.entries.at(abs)
	r.mu.RUnlock()
	if ok {
		return nil, &AlreadyExistsError{Path: abs, Existing: tracked.InvariantName, Incoming: tracked.InvariantName}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &FilesystemError{Op: "access", Path: abs, Err: err}
	}
	s, err := r.opts.Chain.Deserialize(data, codec.Context{
		Catalog:         r.opts.Catalog,
		DefaultVersions: r.opts.DefaultVersions,
		Source:          abs,
		Mutable:         true,
	})
	if err != nil {
		return nil, err
	}
	return r.Add(s)
}

// Remove deletes the file backing s. It reports false when s is not
// tracked.
func (r *FileRepository) Remove(s *script.Script) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.entries.pathOf(s.InvariantName)
	if !ok {
		return false, nil
	}
	return r.removeLocked(path)
}

// RemoveSource deletes a tracked file by path.
func (r *FileRepository) RemoveSource(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries.at(abs); !ok {
		return false, nil
	}
	return r.removeLocked(abs)
}

func (r *FileRepository) removeLocked(path string) (bool, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, &FilesystemError{Op: "delete", Path: path, Err: err}
	}
	s, _ := r.entries.removePath(path)
	r.logger.Info("script removed", "script", s.InvariantName, "path", path)
	return true, nil
}

// writeFileAtomic writes through a temp file in the same directory so a
// failed write never leaves a truncated script behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
