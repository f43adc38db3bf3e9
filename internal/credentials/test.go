package credentials

import (
	"fmt"
	"sync"

	"integrity-scm/internal/integrity"
)

// TestStore keeps the password in memory. It is meant for tests and for
// ephemeral setups that pass the password through the environment.
type TestStore struct {
	mu       sync.Mutex
	password string
}

var _ integrity.CredentialStore = (*TestStore)(nil)

// NewTestStore creates a store holding password; empty means unconfigured.
func NewTestStore(password string) *TestStore {
	return &TestStore{password: password}
}

func (s *TestStore) SetPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
	return nil
}

func (s *TestStore) Password() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password == "" {
		return "", integrity.ErrNoCredentials
	}
	return s.password, nil
}

func (s *TestStore) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password != ""
}
