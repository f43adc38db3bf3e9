package integrity

// Workspace abstracts the build workspace on disk so the checkout engine can
// be tested without touching the real filesystem. All paths are absolute.
type Workspace interface {
	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string) error

	// Remove deletes a file. A missing file is not an error.
	Remove(path string) error

	// RemoveContents deletes everything inside dir, keeping dir itself.
	// A missing dir is created empty.
	RemoveContents(dir string) error

	// Checksum returns the SHA-256 hex of a file's content, or "" if the file
	// does not exist.
	Checksum(path string) (string, error)

	// WriteFile atomically replaces the file at path with data.
	WriteFile(path string, data []byte) error

	// ListFiles returns the regular files under dir as slash-separated paths
	// relative to dir, sorted.
	ListFiles(dir string) ([]string, error)
}

// MemberFilter decides which members of a project listing are kept.
type MemberFilter interface {
	// Include reports whether the member at the slash-separated relative path
	// belongs in the snapshot.
	Include(relativePath string) bool
}
