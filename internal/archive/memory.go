package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"integrity-scm/internal/integrity"
)

// MemoryArchive is an in-memory ChangeLogArchive, useful for testing.
// This implementation is safe for concurrent use.
type MemoryArchive struct {
	mu   sync.RWMutex
	logs map[string][]byte // objectName -> change log
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{logs: make(map[string][]byte)}
}

func (m *MemoryArchive) Put(jobName string, buildNumber int64, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read change log: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[objectName(jobName, buildNumber)] = data
	return nil
}

func (m *MemoryArchive) Get(jobName string, buildNumber int64, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.logs[objectName(jobName, buildNumber)]
	if !ok {
		return fmt.Errorf("%s build %d: %w", jobName, buildNumber, integrity.ErrChangeLogNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write change log: %w", err)
	}
	return nil
}

func (m *MemoryArchive) DeleteJob(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := jobDir(jobName) + "/"
	for name := range m.logs {
		if strings.HasPrefix(name, prefix) {
			delete(m.logs, name)
		}
	}
	return nil
}

// Len returns the number of archived change logs.
func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

var _ integrity.ChangeLogArchive = (*MemoryArchive)(nil)
