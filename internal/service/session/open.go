package session

import (
	"fmt"

	"github.com/dogwood/dashboard-client/internal/config"
	model "github.com/dogwood/dashboard-client/internal/model/session"
)

// OpenRepository builds the repository selected by cfg. The returned close func is never nil.
func OpenRepository(cfg config.SessionConfig) (model.Repository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return model.NewMemoryRepository(), noop, nil
	case config.BackendFile:
		return NewFileRepository(cfg.Path), noop, nil
	case config.BackendSQLite:
		repo, err := OpenSQLiteRepository(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return repo, repo.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
