package database

import (
	"os"
	"path/filepath"
	"testing"

	"integrity-scm/internal/config"
)

func TestNewSnapshotStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		got, err := NewSnapshotStoreFromConfig(config.DatabaseConfig{Type: "memory"}, nil)
		if err != nil {
			t.Fatalf("NewSnapshotStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		jobs, err := got.ListJobs()
		if err != nil {
			t.Fatalf("ListJobs() error = %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("ListJobs() = %v, want empty", jobs)
		}
	})

	t.Run("sqlite database creates data dir", func(t *testing.T) {
		dataDir := filepath.Join(t.TempDir(), "nested", "data")
		got, err := NewSnapshotStoreFromConfig(config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}, nil)
		if err != nil {
			t.Fatalf("NewSnapshotStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := got.RegisterSnapshot("app", "default", 1); err != nil {
			t.Fatalf("RegisterSnapshot() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dataDir, StoreFileName)); err != nil {
			t.Errorf("store file not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		got, err := NewSnapshotStoreFromConfig(config.DatabaseConfig{Type: "sqlite"}, nil)
		if err == nil {
			t.Error("NewSnapshotStoreFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewSnapshotStoreFromConfig() should return nil on error")
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		got, err := NewSnapshotStoreFromConfig(config.DatabaseConfig{Type: "unknown"}, nil)
		if err == nil {
			t.Error("NewSnapshotStoreFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewSnapshotStoreFromConfig() should return nil on error")
		}
	})
}
