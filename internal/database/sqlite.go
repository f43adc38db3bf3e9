package database

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"integrity-scm/internal/database/migrations"
	"integrity-scm/internal/integrity"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// validTableName matches generated snapshot table names. Table names are
// interpolated into SQL, so anything else is rejected.
var validTableName = regexp.MustCompile(`^CM_[0-9A-Z]+$`)

// SQLiteSnapshotStore implements integrity.SnapshotStore on SQLite. The
// registry lives in a migrated table; each snapshot is its own table.
type SQLiteSnapshotStore struct {
	mu     sync.Mutex
	db     *sqlx.DB
	path   string
	idgen  integrity.IDGenerator
	clock  integrity.Clock
	logger integrity.Logger
}

// NewSQLiteSnapshotStore opens (or creates) the store at path and brings the
// registry schema up to date. path can be a file path or ":memory:".
// Nil idgen, clock and logger fall back to UUIDs, the real clock and no logging.
func NewSQLiteSnapshotStore(path string, idgen integrity.IDGenerator, clock integrity.Clock, logger integrity.Logger) (*SQLiteSnapshotStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating snapshot registry: %w", err)
	}
	return NewSQLiteSnapshotStoreFromDB(db, idgen, clock, logger), nil
}

// NewSQLiteSnapshotStoreFromDB wraps an existing, already migrated connection.
func NewSQLiteSnapshotStoreFromDB(db *sqlx.DB, idgen integrity.IDGenerator, clock integrity.Clock, logger integrity.Logger) *SQLiteSnapshotStore {
	if idgen == nil {
		idgen = integrity.UUIDGenerator{}
	}
	if clock == nil {
		clock = integrity.RealClock{}
	}
	if logger == nil {
		logger = integrity.NewNopLogger()
	}
	return &SQLiteSnapshotStore{db: db, idgen: idgen, clock: clock, logger: logger}
}

// OpenConnection opens and configures a SQLite connection.
// A single connection is used so ":memory:" databases are shared by every
// query and writes never contend with each other.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

func checkTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid snapshot table name %q", table)
	}
	return nil
}

// Registry operations

func (s *SQLiteSnapshotStore) RegisterSnapshot(jobName, configurationName string, buildNumber int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.lookup(jobName, configurationName, buildNumber)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.TableName, nil
	}

	table := integrity.SnapshotTableName(s.idgen.New())
	if err := checkTable(table); err != nil {
		return "", err
	}
	_, err = s.db.Exec(`INSERT INTO project_registry (job_name, configuration_name, cache_table, build_number, created_at)
		VALUES (?, ?, ?, ?, ?)`, jobName, configurationName, table, buildNumber, s.clock.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("registering snapshot: %w", err)
	}
	return table, nil
}

func (s *SQLiteSnapshotStore) LookupSnapshot(jobName, configurationName string, buildNumber int64) (*integrity.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(jobName, configurationName, buildNumber)
}

func (s *SQLiteSnapshotStore) lookup(jobName, configurationName string, buildNumber int64) (*integrity.RegistryEntry, error) {
	var e integrity.RegistryEntry
	err := s.db.Get(&e, `SELECT * FROM project_registry
		WHERE job_name = ? AND configuration_name = ? AND build_number = ?`, jobName, configurationName, buildNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up snapshot: %w", err)
	}
	return &e, nil
}

func (s *SQLiteSnapshotStore) FindLatestSnapshot(jobName, configurationName string, maxBuild int64) (*integrity.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*integrity.RegistryEntry
	err := s.db.Select(&entries, `SELECT * FROM project_registry
		WHERE job_name = ? AND configuration_name = ? AND build_number <= ?
		ORDER BY build_number DESC`, jobName, configurationName, maxBuild)
	if err != nil {
		return nil, fmt.Errorf("finding latest snapshot: %w", err)
	}
	for _, e := range entries {
		ok, err := s.tableExists(e.TableName)
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
		s.logger.Debug("registered snapshot has no table", "table", e.TableName, "build", e.BuildNumber)
	}
	return nil, nil
}

func (s *SQLiteSnapshotStore) ListSnapshots(jobName string) ([]*integrity.RegistryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*integrity.RegistryEntry
	err := s.db.Select(&entries, `SELECT * FROM project_registry
		WHERE job_name = ? ORDER BY build_number DESC, configuration_name`, jobName)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return entries, nil
}

func (s *SQLiteSnapshotStore) ListJobs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []string
	if err := s.db.Select(&jobs, `SELECT DISTINCT job_name FROM project_registry ORDER BY job_name`); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteSnapshotStore) tableExists(table string) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// Snapshot table operations

const snapshotColumns = `TYPE, NAME, MEMBER_ID, TIMESTAMP, DESCRIPTION, AUTHOR, CONFIG_PATH, REVISION, OLD_REVISION, RELATIVE_FILE, CHECKSUM, DELTA`

func (s *SQLiteSnapshotStore) CreateSnapshotTable(table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DROP TABLE IF EXISTS ` + table,
		`CREATE TABLE ` + table + ` (
			ID INTEGER PRIMARY KEY AUTOINCREMENT,
			TYPE INTEGER NOT NULL,
			NAME TEXT NOT NULL,
			MEMBER_ID TEXT NOT NULL DEFAULT '',
			TIMESTAMP TIMESTAMP NOT NULL,
			DESCRIPTION TEXT NOT NULL DEFAULT '',
			AUTHOR TEXT,
			CONFIG_PATH TEXT NOT NULL DEFAULT '',
			REVISION TEXT NOT NULL DEFAULT '',
			OLD_REVISION TEXT,
			RELATIVE_FILE TEXT NOT NULL DEFAULT '',
			CHECKSUM TEXT,
			DELTA INTEGER
		)`,
		`CREATE INDEX ` + table + `_MEMBER_ID ON ` + table + ` (MEMBER_ID)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("creating snapshot table %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSnapshotStore) DropSnapshotTable(table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
		return fmt.Errorf("dropping snapshot table %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) InsertRows(table string, rows []*integrity.SnapshotRow) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`INSERT INTO ` + table + ` (` + snapshotColumns + `)
		VALUES (:TYPE, :NAME, :MEMBER_ID, :TIMESTAMP, :DESCRIPTION, :AUTHOR, :CONFIG_PATH, :REVISION, :OLD_REVISION, :RELATIVE_FILE, :CHECKSUM, :DELTA)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		res, err := stmt.Exec(r)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", r.Name, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot rows: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) ListRows(table string) ([]*integrity.SnapshotRow, error) {
	return s.selectRows(table, `SELECT * FROM `+table+` ORDER BY NAME, ID`)
}

func (s *SQLiteSnapshotStore) ListChangedRows(table string) ([]*integrity.SnapshotRow, error) {
	return s.selectRows(table, `SELECT * FROM `+table+` WHERE DELTA IS NOT NULL AND DELTA <> 0 ORDER BY NAME, ID`)
}

func (s *SQLiteSnapshotStore) selectRows(table, query string) ([]*integrity.SnapshotRow, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []*integrity.SnapshotRow
	if err := s.db.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", table, err)
	}
	return rows, nil
}

func (s *SQLiteSnapshotStore) ListDirectories(table string) ([]string, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var dirs []string
	err := s.db.Select(&dirs, `SELECT RELATIVE_FILE FROM `+table+` WHERE TYPE = ? AND RELATIVE_FILE <> '' ORDER BY RELATIVE_FILE`, integrity.TypeDirectory)
	if err != nil {
		return nil, fmt.Errorf("reading directories of %s: %w", table, err)
	}
	return dirs, nil
}

func (s *SQLiteSnapshotStore) UpdateAuthor(table string, rowID int64, author string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE `+table+` SET AUTHOR = ? WHERE ID = ?`, author, rowID); err != nil {
		return fmt.Errorf("updating author: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) UpdateChecksums(table string, checksums map[string]string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`UPDATE ` + table + ` SET CHECKSUM = ? WHERE TYPE = 0 AND MEMBER_ID = ? AND (DELTA IS NULL OR DELTA <> 3)`)
	if err != nil {
		return fmt.Errorf("preparing checksum update: %w", err)
	}
	defer stmt.Close()

	for memberID, sum := range checksums {
		if _, err := stmt.Exec(sum, memberID); err != nil {
			return fmt.Errorf("updating checksum of %s: %w", memberID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checksums: %w", err)
	}
	return nil
}

// CompareSnapshots classifies every file row of current against baseline in
// one transaction. Comparing a snapshot again resets earlier results first.
func (s *SQLiteSnapshotStore) CompareSnapshots(baseline, current string) (int, error) {
	if err := checkTable(baseline); err != nil {
		return 0, err
	}
	if err := checkTable(current); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	// Rows the baseline itself recorded as dropped are not part of it.
	r := strings.NewReplacer("{B}", baseline, "{C}", current, "{LIVE}", "(b.DELTA IS NULL OR b.DELTA <> 3)")
	steps := []struct {
		name  string
		query string
	}{
		{"reset", `DELETE FROM {C} WHERE DELTA = 3`},
		{"reset", `UPDATE {C} SET DELTA = NULL, OLD_REVISION = NULL`},
		{"added", `UPDATE {C} SET DELTA = 1
			WHERE TYPE = 0 AND NOT EXISTS (
				SELECT 1 FROM {B} AS b WHERE b.TYPE = 0 AND {LIVE} AND b.MEMBER_ID = {C}.MEMBER_ID)`},
		{"changed", `UPDATE {C} SET DELTA = 2, OLD_REVISION = (
				SELECT b.REVISION FROM {B} AS b WHERE b.TYPE = 0 AND {LIVE} AND b.MEMBER_ID = {C}.MEMBER_ID)
			WHERE TYPE = 0 AND EXISTS (
				SELECT 1 FROM {B} AS b WHERE b.TYPE = 0 AND {LIVE} AND b.MEMBER_ID = {C}.MEMBER_ID AND b.REVISION <> {C}.REVISION)`},
		{"unchanged", `UPDATE {C} SET DELTA = 0, CHECKSUM = (
				SELECT b.CHECKSUM FROM {B} AS b WHERE b.TYPE = 0 AND {LIVE} AND b.MEMBER_ID = {C}.MEMBER_ID)
			WHERE TYPE = 0 AND EXISTS (
				SELECT 1 FROM {B} AS b WHERE b.TYPE = 0 AND {LIVE} AND b.MEMBER_ID = {C}.MEMBER_ID AND b.REVISION = {C}.REVISION)`},
		{"dropped", `INSERT INTO {C} (` + snapshotColumns + `)
			SELECT TYPE, NAME, MEMBER_ID, TIMESTAMP, DESCRIPTION, AUTHOR, CONFIG_PATH, REVISION, NULL, RELATIVE_FILE, CHECKSUM, 3
			FROM {B} AS b
			WHERE b.TYPE = 0 AND {LIVE} AND NOT EXISTS (
				SELECT 1 FROM {C} AS c WHERE c.TYPE = 0 AND c.MEMBER_ID = b.MEMBER_ID)`},
	}
	if baseline == current {
		// A snapshot compared with itself has nothing added, changed or dropped.
		steps = steps[:2]
		steps = append(steps, struct {
			name  string
			query string
		}{"unchanged", `UPDATE {C} SET DELTA = 0 WHERE TYPE = 0`})
	}
	for _, step := range steps {
		if _, err := tx.Exec(r.Replace(step.query)); err != nil {
			return 0, fmt.Errorf("comparing %s with %s (%s): %w", current, baseline, step.name, err)
		}
	}

	var n int
	if err := tx.Get(&n, `SELECT COUNT(*) FROM `+current+` WHERE DELTA IS NOT NULL AND DELTA <> 0`); err != nil {
		return 0, fmt.Errorf("counting changes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing comparison: %w", err)
	}
	return n, nil
}

// Cleanup operations

func (s *SQLiteSnapshotStore) DeleteSnapshot(jobName, configurationName string, buildNumber int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(jobName, configurationName, buildNumber)
	if err != nil {
		s.logger.Warn("cleanup: looking up snapshot", "job", jobName, "build", buildNumber, "error", err)
		return err
	}
	if e == nil {
		return nil
	}
	return s.purge([]*integrity.RegistryEntry{e})
}

func (s *SQLiteSnapshotStore) DeleteJob(jobName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*integrity.RegistryEntry
	if err := s.db.Select(&entries, `SELECT * FROM project_registry WHERE job_name = ?`, jobName); err != nil {
		s.logger.Warn("cleanup: listing job snapshots", "job", jobName, "error", err)
		return fmt.Errorf("listing snapshots of %s: %w", jobName, err)
	}
	return s.purge(entries)
}

func (s *SQLiteSnapshotStore) PruneSnapshots(jobName, configurationName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*integrity.RegistryEntry
	err := s.db.Select(&stale, `SELECT * FROM project_registry
		WHERE job_name = ? AND configuration_name = ?
		ORDER BY build_number DESC LIMIT -1 OFFSET ?`, jobName, configurationName, integrity.RetainedSnapshots)
	if err != nil {
		s.logger.Warn("cleanup: listing stale snapshots", "job", jobName, "error", err)
		return 0, fmt.Errorf("listing stale snapshots: %w", err)
	}
	if err := s.purge(stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// purge drops each entry's table and deletes its registry row. The first
// failure abandons the rest. Caller holds s.mu.
func (s *SQLiteSnapshotStore) purge(entries []*integrity.RegistryEntry) error {
	for _, e := range entries {
		if err := checkTable(e.TableName); err != nil {
			s.logger.Warn("cleanup: skipping unexpected table name", "table", e.TableName)
		} else if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + e.TableName); err != nil {
			s.logger.Warn("cleanup: dropping snapshot table", "table", e.TableName, "error", err)
			return fmt.Errorf("dropping %s: %w", e.TableName, err)
		}
		if _, err := s.db.Exec(`DELETE FROM project_registry WHERE id = ?`, e.ID); err != nil {
			s.logger.Warn("cleanup: deleting registry entry", "table", e.TableName, "error", err)
			return fmt.Errorf("deleting registry entry for %s: %w", e.TableName, err)
		}
		s.logger.Debug("snapshot purged", "job", e.JobName, "build", e.BuildNumber, "table", e.TableName)
	}
	return nil
}

// SchemaStatus reports the registry schema version.
func (s *SQLiteSnapshotStore) SchemaStatus() (migrations.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return migrations.ReadStatus(s.db.DB)
}

// Close closes the database connection.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

var _ integrity.SnapshotStore = (*SQLiteSnapshotStore)(nil)
