package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"winmaint/internal/builtin"
	"winmaint/internal/catalog"
	"winmaint/internal/host"
	"winmaint/internal/repository"
	"winmaint/internal/store"
)

// app is what every command works with once the config is loaded.
type app struct {
	cfg     *Config
	logger  *slog.Logger
	cat     *catalog.Catalog
	user    *repository.FileRepository
	builtin *repository.EmbeddedRepository
	scripts repository.Stack
	hosts   *host.Registry
	db      *store.BoltStore
}

func openApp(cfgPath string) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	if cfg.CatalogPath != "" {
		a.cat, err = catalog.LoadFile(cfg.CatalogPath)
	} else {
		a.cat, err = catalog.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	extensions := []string{cfg.ScriptExtension}
	for _, ext := range builtin.Extensions {
		if ext != cfg.ScriptExtension {
			extensions = append(extensions, ext)
		}
	}
	opts := repository.Options{
		Extensions:      extensions,
		Catalog:         a.cat,
		DefaultVersions: cfg.versions,
	}
	a.user, err = repository.NewFileRepository(cfg.ScriptsDir, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("open scripts dir: %w", err)
	}

	opts.Extensions = builtin.Extensions
	a.builtin, err = repository.NewEmbeddedRepository(builtin.FS, builtin.Namespace, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("load built-in scripts: %w", err)
	}
	a.scripts = repository.Stack{a.user, a.builtin}

	a.hosts, err = host.NewRegistry(a.cat, host.NewProcessTree(), logger)
	if err != nil {
		return nil, fmt.Errorf("create hosts: %w", err)
	}

	logger.Debug("scripts loaded", "user", a.user.Len(), "builtin", a.builtin.Len(), "dir", a.user.Dir())
	return a, nil
}

// openStore opens the history database. Commands that only read scripts
// never call it, so they do not contend for the file lock with serve.
func (a *app) openStore() (*store.BoltStore, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.NewBoltStore(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

var errUnknownScript = errors.New("unknown script")
