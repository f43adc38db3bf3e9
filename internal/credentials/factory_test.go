package credentials

import (
	"testing"

	"integrity-scm/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.CredentialsConfig
		wantErr bool
	}{
		{"age store", config.CredentialsConfig{Type: "age", IdentityFile: "k", PasswordFile: "p"}, false},
		{"default is age", config.CredentialsConfig{IdentityFile: "k", PasswordFile: "p"}, false},
		{"age without files", config.CredentialsConfig{Type: "age"}, true},
		{"test store", config.CredentialsConfig{Type: "test"}, false},
		{"unknown type", config.CredentialsConfig{Type: "vault"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got == nil {
				t.Error("NewStoreFromConfig() returned nil")
			}
		})
	}
}

func TestNewStoreFromConfig_TestStoreReadsEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")

	s, err := NewStoreFromConfig(config.CredentialsConfig{Type: "test"})
	if err != nil {
		t.Fatalf("NewStoreFromConfig() error = %v", err)
	}
	got, err := s.Password()
	if err != nil {
		t.Fatalf("Password() error = %v", err)
	}
	if got != "from-env" {
		t.Errorf("Password() = %q, want %q", got, "from-env")
	}
}

func TestTestStore(t *testing.T) {
	s := NewTestStore("")
	if s.IsConfigured() {
		t.Error("empty TestStore should not be configured")
	}
	if err := s.SetPassword("pw"); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	got, err := s.Password()
	if err != nil || got != "pw" {
		t.Errorf("Password() = %q, %v; want pw, nil", got, err)
	}
}
