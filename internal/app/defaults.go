package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigPath = "ISCM_CONFIG_PATH"
	envHome       = "ISCM_HOME"
)

// GetDefaults resolves where iscm keeps its files before any config is read.
//
// The TOML config is at $ISCM_CONFIG_PATH, else ~/.config/iscm.toml. Every
// build artifact lives under $ISCM_HOME (else ~/.local/share/iscm): the
// SQLite snapshot registry in db/, archived change logs in changelogs/ and
// per-run log files in log/. `iscm config init` seeds a new config from these.
func GetDefaults() (map[string]string, error) {
	configPath, err := fromEnvOrHome(envConfigPath, ".config", "iscm.toml")
	if err != nil {
		return nil, err
	}
	home, err := fromEnvOrHome(envHome, ".local", "share", "iscm")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path":   configPath,
		"base_dir":      home,
		"db_dir":        filepath.Join(home, "db"),
		"changelog_dir": filepath.Join(home, "changelogs"),
		"log_dir":       filepath.Join(home, "log"),
	}, nil
}

// fromEnvOrHome returns $env verbatim when set, else rel joined under the
// user's home directory.
func fromEnvOrHome(env string, rel ...string) (string, error) {
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving %s: no home directory: %w", env, err)
	}
	return filepath.Join(append([]string{home}, rel...)...), nil
}
