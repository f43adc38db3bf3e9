package credentials

import (
	"fmt"
	"os"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

// PasswordEnv overrides the stored password for the "test" store.
const PasswordEnv = "ISCM_PASSWORD"

// NewStoreFromConfig creates a CredentialStore based on the configuration type.
func NewStoreFromConfig(cfg config.CredentialsConfig) (integrity.CredentialStore, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.IdentityFile == "" || cfg.PasswordFile == "" {
			return nil, fmt.Errorf("age credentials require identity_file and password_file")
		}
		return NewAgeStore(cfg), nil
	case "test":
		return NewTestStore(os.Getenv(PasswordEnv)), nil
	default:
		return nil, fmt.Errorf("unknown credentials type: %q", cfg.Type)
	}
}
