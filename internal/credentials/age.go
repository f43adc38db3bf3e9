// Package credentials stores the server password at rest.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

// AgeStore implements integrity.CredentialStore using filippo.io/age with an
// X25519 key. The identity file is readable by the owner only; the password
// file is encrypted to the identity's recipient, so builds can run unattended
// while the password never sits on disk in plaintext.
type AgeStore struct {
	identityPath string
	passwordPath string
}

var _ integrity.CredentialStore = (*AgeStore)(nil)

// NewAgeStore creates a new AgeStore from configuration.
func NewAgeStore(cfg config.CredentialsConfig) *AgeStore {
	return &AgeStore{
		identityPath: cfg.IdentityFile,
		passwordPath: cfg.PasswordFile,
	}
}

// SetPassword encrypts the password to the store's identity, generating the
// identity on first use.
func (s *AgeStore) SetPassword(password string) error {
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	identity, err := s.loadOrCreateIdentity()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.passwordPath), 0700); err != nil {
		return fmt.Errorf("creating password directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, password); err != nil {
		return fmt.Errorf("encrypting password: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted password: %w", err)
	}

	if err := os.WriteFile(s.passwordPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing password file: %w", err)
	}
	return nil
}

// Password decrypts the stored password.
func (s *AgeStore) Password() (string, error) {
	data, err := os.ReadFile(s.passwordPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", integrity.ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}

	identity, err := s.loadIdentity()
	if err != nil {
		return "", err
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return "", fmt.Errorf("decrypting password: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading decrypted password: %w", err)
	}
	return string(plain), nil
}

// IsConfigured returns true if both the identity and the password file exist.
func (s *AgeStore) IsConfigured() bool {
	if _, err := os.Stat(s.identityPath); err != nil {
		return false
	}
	if _, err := os.Stat(s.passwordPath); err != nil {
		return false
	}
	return true
}

func (s *AgeStore) loadIdentity() (age.Identity, error) {
	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", s.identityPath)
	}
	return identities[0], nil
}

func (s *AgeStore) loadOrCreateIdentity() (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.identityPath)
	if err == nil {
		identity, err := age.ParseX25519Identity(strings.TrimSpace(lastLine(string(data))))
		if err != nil {
			return nil, fmt.Errorf("parsing identity file: %w", err)
		}
		return identity, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	content := "# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	if err := os.WriteFile(s.identityPath, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("writing identity file: %w", err)
	}
	return identity, nil
}

// lastLine returns the last non-comment, non-blank line of an identity file.
func lastLine(s string) string {
	var last string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		last = line
	}
	return last
}
