package database

import (
	"fmt"
	"os"
	"path/filepath"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

// StoreFileName is the name of the SQLite file inside the data directory.
const StoreFileName = "snapshots.db"

// NewSnapshotStoreFromConfig creates a SnapshotStore based on the database config type.
func NewSnapshotStoreFromConfig(cfg config.DatabaseConfig, logger integrity.Logger) (integrity.SnapshotStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return open(filepath.Join(cfg.DataDir, StoreFileName), logger)
	case "memory":
		return open(":memory:", logger)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

func open(path string, logger integrity.Logger) (integrity.SnapshotStore, error) {
	store, err := NewSQLiteSnapshotStore(path, nil, nil, logger)
	if err != nil {
		return nil, err
	}
	return store, nil
}
