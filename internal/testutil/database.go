package testutil

import (
	"testing"

	"integrity-scm/internal/database"
)

// NewTestStore creates an in-memory snapshot store with the registry
// migrated and sequential table IDs. It is closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteSnapshotStore {
	t.Helper()

	store, err := database.NewSQLiteSnapshotStore(":memory:", NewStubIDGenerator(), FixedClock(), nil)
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
