package storage

import (
	"fmt"

	"github.com/zateckar/uptimo-sub000/internal/config"
)

// New creates the Store for the configured database backend.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Database.Type {
	case "sqlite":
		return NewSQLiteStore(&cfg.Database)
	case "postgres":
		return NewPostgresStore(&cfg.Database, cfg.ConnectionString())
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Database.Type)
	}
}
