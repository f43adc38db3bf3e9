package integrity

import "errors"

// ErrNoCredentials is returned when no server password has been stored yet.
var ErrNoCredentials = errors.New("no server password stored")

// CredentialStore keeps the server password needed to open sessions.
type CredentialStore interface {
	// SetPassword stores the password, replacing any previous one.
	SetPassword(password string) error

	// Password returns the stored password, or ErrNoCredentials.
	Password() (string, error)

	// IsConfigured reports whether a password has been stored.
	IsConfigured() bool
}
