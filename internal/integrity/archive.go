package integrity

import (
	"errors"
	"io"
)

// ErrChangeLogNotFound is returned by ChangeLogArchive.Get when no change log
// was archived for the job and build.
var ErrChangeLogNotFound = errors.New("change log not found")

// ChangeLogArchive stores rendered change logs so they can be read back after
// the workspace has been reused.
type ChangeLogArchive interface {
	// Put stores the change log for a build, replacing any earlier one.
	// size is the number of bytes that will be read from r.
	Put(jobName string, buildNumber int64, r io.Reader, size int64) error

	// Get writes the change log for a build to w.
	Get(jobName string, buildNumber int64, w io.Writer) error

	// DeleteJob removes every change log archived for a job.
	DeleteJob(jobName string) error
}
