package testutil

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"integrity-scm/internal/integrity"
)

// MockWorkspace is an in-memory workspace for testing. Safe for concurrent use.
type MockWorkspace struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	removed []string
	wipes   []string
}

// NewMockWorkspace creates an empty mock workspace.
func NewMockWorkspace() *MockWorkspace {
	return &MockWorkspace{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// AddFile puts a file in the workspace.
func (m *MockWorkspace) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(path)] = content
}

// File returns a file's content and whether it exists.
func (m *MockWorkspace) File(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(path)]
	return data, ok
}

// HasDir reports whether MkdirAll was called for path.
func (m *MockWorkspace) HasDir(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[filepath.Clean(path)]
}

// Removed returns the paths passed to Remove, in order.
func (m *MockWorkspace) Removed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.removed...)
}

// Wipes returns the directories passed to RemoveContents, in order.
func (m *MockWorkspace) Wipes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.wipes...)
}

func (m *MockWorkspace) MkdirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[filepath.Clean(path)] = true
	return nil
}

func (m *MockWorkspace) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = filepath.Clean(path)
	m.removed = append(m.removed, path)
	delete(m.files, path)
	return nil
}

func (m *MockWorkspace) RemoveContents(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = filepath.Clean(dir)
	m.wipes = append(m.wipes, dir)
	prefix := dir + string(filepath.Separator)
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			delete(m.files, p)
		}
	}
	for p := range m.dirs {
		if strings.HasPrefix(p, prefix) {
			delete(m.dirs, p)
		}
	}
	m.dirs[dir] = true
	return nil
}

func (m *MockWorkspace) Checksum(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filepath.Clean(path)]
	if !ok {
		return "", nil
	}
	return SHA256Hex(data), nil
}

func (m *MockWorkspace) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[filepath.Clean(path)] = append([]byte(nil), data...)
	return nil
}

func (m *MockWorkspace) ListFiles(dir string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = filepath.Clean(dir)
	prefix := dir + string(filepath.Separator)
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, filepath.ToSlash(strings.TrimPrefix(p, prefix)))
		}
	}
	if out == nil && !m.dirs[dir] {
		return nil, fmt.Errorf("directory not found: %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

// Compile-time check
var _ integrity.Workspace = (*MockWorkspace)(nil)
