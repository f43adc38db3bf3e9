package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"integrity-scm/internal/integrity"
)

// FileSystemArchive stores change logs as files:
//
//	<root>/
//	  <escaped job name>/
//	    <build>.xml
type FileSystemArchive struct {
	root string
}

// NewFileSystemArchive creates an archive rooted at root, creating it if needed.
func NewFileSystemArchive(root string) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileSystemArchive{root: root}, nil
}

func (a *FileSystemArchive) path(jobName string, buildNumber int64) string {
	return filepath.Join(a.root, filepath.FromSlash(objectName(jobName, buildNumber)))
}

// Put stores the change log with an atomic write (temp file + rename).
func (a *FileSystemArchive) Put(jobName string, buildNumber int64, r io.Reader, size int64) error {
	dest := a.path(jobName, buildNumber)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	return writeFileAtomic(dest, r, size)
}

func (a *FileSystemArchive) Get(jobName string, buildNumber int64, w io.Writer) error {
	f, err := os.Open(a.path(jobName, buildNumber))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s build %d: %w", jobName, buildNumber, integrity.ErrChangeLogNotFound)
		}
		return fmt.Errorf("failed to open change log: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read change log: %w", err)
	}
	return nil
}

func (a *FileSystemArchive) DeleteJob(jobName string) error {
	if err := os.RemoveAll(filepath.Join(a.root, jobDir(jobName))); err != nil {
		return fmt.Errorf("failed to delete change logs of %s: %w", jobName, err)
	}
	return nil
}

// writeFileAtomic writes r to dest through a temp file in the same directory.
func writeFileAtomic(dest string, r io.Reader, expectedSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ integrity.ChangeLogArchive = (*FileSystemArchive)(nil)
