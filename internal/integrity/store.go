package integrity

// SnapshotStore persists per-build project snapshots and the registry that maps
// (job, configuration, build) to a snapshot table. Implementations serialize
// each operation; there is no consistency guarantee spanning a registry row and
// the table it names.
type SnapshotStore interface {
	// Registry operations

	// RegisterSnapshot returns the table already registered for the exact key,
	// or allocates a fresh generated table name and registers it.
	RegisterSnapshot(jobName, configurationName string, buildNumber int64) (string, error)

	// LookupSnapshot returns the registry entry for the exact key, or nil.
	LookupSnapshot(jobName, configurationName string, buildNumber int64) (*RegistryEntry, error)

	// FindLatestSnapshot returns the newest registered snapshot with a build
	// number less than or equal to maxBuild whose table still exists, or nil.
	FindLatestSnapshot(jobName, configurationName string, maxBuild int64) (*RegistryEntry, error)

	// ListSnapshots returns the registry entries for a job, newest build first.
	ListSnapshots(jobName string) ([]*RegistryEntry, error)

	// ListJobs returns the distinct job names present in the registry.
	ListJobs() ([]string, error)

	// Snapshot table operations

	// CreateSnapshotTable drops any existing table of that name and creates an
	// empty one. An error here is fatal for the build.
	CreateSnapshotTable(table string) error

	// DropSnapshotTable drops the table if it exists.
	DropSnapshotTable(table string) error

	// InsertRows writes rows into the table in a single transaction.
	InsertRows(table string, rows []*SnapshotRow) error

	// ListRows returns every row of the table ordered by name.
	ListRows(table string) ([]*SnapshotRow, error)

	// ListChangedRows returns rows with a non-null, non-zero delta ordered by name.
	ListChangedRows(table string) ([]*SnapshotRow, error)

	// ListDirectories returns the relative paths of all directory rows.
	ListDirectories(table string) ([]string, error)

	// UpdateAuthor sets the author of a single row.
	UpdateAuthor(table string, rowID int64, author string) error

	// UpdateChecksums sets the checksum of file rows keyed by member ID.
	UpdateChecksums(table string, checksums map[string]string) error

	// CompareSnapshots annotates current with deltas against baseline and
	// returns the number of rows with a non-zero delta.
	CompareSnapshots(baseline, current string) (int, error)

	// Cleanup operations. These are best-effort: failures are logged and the
	// purge is abandoned.

	// DeleteSnapshot removes the registry entry for the key and drops its table.
	DeleteSnapshot(jobName, configurationName string, buildNumber int64) error

	// DeleteJob removes every registry entry of a job and drops their tables.
	DeleteJob(jobName string) error

	// PruneSnapshots keeps the RetainedSnapshots newest builds for the pair and
	// deletes the rest. Returns the number of snapshots removed.
	PruneSnapshots(jobName, configurationName string) (int, error)

	// Close closes the underlying database.
	Close() error
}

// RetainedSnapshots is the number of snapshots kept per (job, configuration).
const RetainedSnapshots = 2
