package integrity

import (
	"database/sql"
	"time"
)

// MemberType distinguishes file members from sub-project folder entries.
type MemberType int

const (
	TypeFile      MemberType = 0
	TypeDirectory MemberType = 1
)

// Delta classifies a snapshot row against a baseline snapshot.
type Delta int

const (
	DeltaUnchanged Delta = 0
	DeltaAdded     Delta = 1
	DeltaChanged   Delta = 2
	DeltaDropped   Delta = 3
)

// Action returns the change-log action name for the delta.
func (d Delta) Action() string {
	switch d {
	case DeltaAdded:
		return "add"
	case DeltaChanged:
		return "update"
	case DeltaDropped:
		return "delete"
	default:
		return "undefined"
	}
}

// DeltaFromAction is the inverse of Delta.Action. Unknown actions map to DeltaUnchanged.
func DeltaFromAction(action string) Delta {
	switch action {
	case "add":
		return DeltaAdded
	case "update":
		return DeltaChanged
	case "delete":
		return DeltaDropped
	default:
		return DeltaUnchanged
	}
}

// SnapshotRow is one member or sub-project entry of a project snapshot.
// Column names match the snapshot table schema.
type SnapshotRow struct {
	ID           int64          `db:"ID"`
	Type         MemberType     `db:"TYPE"`
	Name         string         `db:"NAME"`
	MemberID     string         `db:"MEMBER_ID"`
	Timestamp    time.Time      `db:"TIMESTAMP"`
	Description  string         `db:"DESCRIPTION"`
	Author       sql.NullString `db:"AUTHOR"`
	ConfigPath   string         `db:"CONFIG_PATH"`
	Revision     string         `db:"REVISION"`
	OldRevision  sql.NullString `db:"OLD_REVISION"`
	RelativeFile string         `db:"RELATIVE_FILE"`
	Checksum     sql.NullString `db:"CHECKSUM"`
	Delta        sql.NullInt64  `db:"DELTA"`
}

// IsFile reports whether the row is a file member.
func (r *SnapshotRow) IsFile() bool {
	return r.Type == TypeFile
}

// DeltaValue returns the row's delta, treating NULL as unchanged.
func (r *SnapshotRow) DeltaValue() Delta {
	if !r.Delta.Valid {
		return DeltaUnchanged
	}
	return Delta(r.Delta.Int64)
}

// HasChange reports whether the row carries a non-null, non-zero delta.
func (r *SnapshotRow) HasChange() bool {
	return r.Delta.Valid && r.Delta.Int64 != 0
}

// RegistryEntry maps a (job, configuration, build) triple to its snapshot table.
type RegistryEntry struct {
	ID                int64     `db:"id"`
	JobName           string    `db:"job_name"`
	ConfigurationName string    `db:"configuration_name"`
	TableName         string    `db:"cache_table"`
	BuildNumber       int64     `db:"build_number"`
	CreatedAt         time.Time `db:"created_at"`
}
