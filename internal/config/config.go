package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for iscm.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	Server      ServerConfig      `toml:"server"`
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Checkout    CheckoutConfig    `toml:"checkout"`
	Archive     ArchiveConfig     `toml:"archive"`
	Cache       CacheConfig       `toml:"cache"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Jobs        []JobConfig       `toml:"jobs"`
}

// ServerConfig identifies the Integrity server and the si client used to reach it.
type ServerConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	User    string `toml:"user"`
	SIPath  string `toml:"si_path,omitempty"`  // defaults to "si" on PATH
	BaseURL string `toml:"base_url,omitempty"` // web root for change-log links, e.g. http://mks:7001/si
}

// CredentialsConfig locates the encrypted server password.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CredentialsConfig struct {
	Type         string `toml:"type"` // "age" (default) or "test"
	IdentityFile string `toml:"identity_file,omitempty"`
	PasswordFile string `toml:"password_file,omitempty"`
}

// DatabaseConfig represents configuration for the snapshot store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CheckoutConfig holds the checkout defaults every job inherits.
type CheckoutConfig struct {
	Threads                    int    `toml:"threads"`
	Clean                      bool   `toml:"clean"`
	RestoreTimestamp           bool   `toml:"restore_timestamp"`
	LineTerminator             string `toml:"line_terminator"` // "native", "lf" or "crlf"
	ChecksumUpdate             bool   `toml:"checksum_update"`
	FetchChangedWorkspaceFiles bool   `toml:"fetch_changed_workspace_files"`
	SkipAuthorInfo             bool   `toml:"skip_author_info"`
	CheckpointBeforeBuild      bool   `toml:"checkpoint_before_build"`
}

// JobConfig describes one build job. Zero-valued overrides inherit [checkout].
type JobConfig struct {
	Name               string   `toml:"name"`
	ConfigurationName  string   `toml:"configuration_name,omitempty"`
	ConfigPath         string   `toml:"config_path"`
	Workspace          string   `toml:"workspace"`
	AlternateWorkspace string   `toml:"alternate_workspace,omitempty"`
	ChangeLogFile      string   `toml:"changelog_file,omitempty"`
	Includes           []string `toml:"includes,omitempty"`
	Excludes           []string `toml:"excludes,omitempty"`
	Threads            int      `toml:"threads,omitempty"`
	Clean              *bool    `toml:"clean,omitempty"`
}

// ArchiveConfig represents configuration for the change-log archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// CacheConfig sizes the project metadata cache.
type CacheConfig struct {
	Capacity int    `toml:"capacity"`
	TTL      string `toml:"ttl,omitempty"` // Go duration; empty means entries never expire
}

// MaintenanceConfig schedules snapshot store maintenance.
type MaintenanceConfig struct {
	Schedule string `toml:"schedule"` // cron spec, e.g. "@daily" or "0 3 * * *"
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Textfile string `toml:"textfile,omitempty"` // node-exporter textfile path; empty disables export
}

// Line terminator modes accepted by the si client.
var LineTerminators = []string{"native", "lf", "crlf"}

// Thread pool bounds for checkouts.
const (
	MinThreads = 1
	MaxThreads = 10
)

// NewConfig creates a new Config with default paths under baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server: ServerConfig{
			Port: 7001,
		},
		Credentials: CredentialsConfig{
			Type:         "age",
			IdentityFile: filepath.Join(baseDir, "keys", "iscm.key"),
			PasswordFile: filepath.Join(baseDir, "keys", "password.age"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Checkout: CheckoutConfig{
			Threads:        2,
			LineTerminator: "native",
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "changelogs"),
		},
		Cache: CacheConfig{
			Capacity: 64,
		},
		Maintenance: MaintenanceConfig{
			Schedule: "@daily",
		},
	}
}

// Job returns the job with the given name, or nil.
func (c *Config) Job(name string) *JobConfig {
	for i := range c.Jobs {
		if c.Jobs[i].Name == name {
			return &c.Jobs[i]
		}
	}
	return nil
}

// JobNames returns the names of all configured jobs.
func (c *Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		names = append(names, j.Name)
	}
	return names
}

// Validate checks the settings the checkout engine relies on.
func (c *Config) Validate() error {
	var errs []error
	if err := validateThreads("checkout.threads", c.Checkout.Threads); err != nil {
		errs = append(errs, err)
	}
	if !validLineTerminator(c.Checkout.LineTerminator) {
		errs = append(errs, fmt.Errorf("checkout.line_terminator: unknown mode %q", c.Checkout.LineTerminator))
	}
	if c.Checkout.FetchChangedWorkspaceFiles && !c.Checkout.ChecksumUpdate {
		errs = append(errs, errors.New("checkout.fetch_changed_workspace_files requires checkout.checksum_update"))
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, j := range c.Jobs {
		field := fmt.Sprintf("jobs[%d]", i)
		switch {
		case j.Name == "":
			errs = append(errs, fmt.Errorf("%s: name is required", field))
		case seen[j.Name]:
			errs = append(errs, fmt.Errorf("%s: duplicate job name %q", field, j.Name))
		}
		seen[j.Name] = true
		if j.ConfigPath == "" {
			errs = append(errs, fmt.Errorf("%s: config_path is required", field))
		}
		if j.Workspace == "" {
			errs = append(errs, fmt.Errorf("%s: workspace is required", field))
		}
		if j.Threads != 0 {
			if err := validateThreads(field+".threads", j.Threads); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func validateThreads(field string, n int) error {
	if n < MinThreads || n > MaxThreads {
		return fmt.Errorf("%s: %d is outside %d-%d", field, n, MinThreads, MaxThreads)
	}
	return nil
}

func validLineTerminator(mode string) bool {
	for _, m := range LineTerminators {
		if m == mode {
			return true
		}
	}
	return false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
