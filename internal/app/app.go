package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"integrity-scm/internal/archive"
	"integrity-scm/internal/cache"
	"integrity-scm/internal/config"
	"integrity-scm/internal/credentials"
	"integrity-scm/internal/database"
	"integrity-scm/internal/database/migrations"
	"integrity-scm/internal/fs"
	"integrity-scm/internal/integrity"
	"integrity-scm/internal/maintenance"
	"integrity-scm/internal/metrics"
	"integrity-scm/internal/session"
)

// Options adjust how an App is built. The zero value is what the CLI uses.
type Options struct {
	// Runner executes the si client. Nil runs the real binary.
	Runner session.Runner
	// Stderr receives log output next to the log file. Nil means os.Stderr.
	Stderr io.Writer
	// Verbose enables debug logging.
	Verbose bool
	// Clock defaults to the real clock.
	Clock integrity.Clock
}

// App is the application layer between the CLI and the integrity Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept job names, and releases resources on Close.
type App struct {
	cfg      *config.Config
	store    integrity.SnapshotStore
	archive  integrity.ChangeLogArchive
	creds    integrity.CredentialStore
	recorder *metrics.Recorder
	service  *integrity.Service
	clock    integrity.Clock
	logger   integrity.Logger
	op       *Operation
	logFile  *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Checkout", "Poll").
// The caller must call Close when done.
func NewApp(cfg *config.Config, operation, parameters string, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = integrity.RealClock{}
	}
	op := NewOperation(operation, parameters, clock.Now())

	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Stderr, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &App{cfg: cfg, clock: clock, logger: logger, op: op, logFile: logFile}
	if err := a.wire(opts); err != nil {
		a.closeResources()
		return nil, err
	}

	logger.Info("operation started", "operation", op.Name, "parameters", op.Parameters)
	return a, nil
}

func (a *App) wire(opts Options) error {
	store, err := database.NewSnapshotStoreFromConfig(a.cfg.Database, a.logger)
	if err != nil {
		return fmt.Errorf("creating snapshot store: %w", err)
	}
	a.store = store

	arch, err := archive.NewArchiveFromConfig(context.Background(), a.cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating change-log archive: %w", err)
	}
	a.archive = arch

	creds, err := credentials.NewStoreFromConfig(a.cfg.Credentials)
	if err != nil {
		return fmt.Errorf("creating credential store: %w", err)
	}
	a.creds = creds

	projects, err := cache.NewProjectCacheFromConfig(a.cfg.Cache)
	if err != nil {
		return fmt.Errorf("creating project cache: %w", err)
	}

	a.recorder = metrics.NewRecorder()
	factory := &credentialFactory{
		server: a.cfg.Server,
		creds:  creds,
		runner: opts.Runner,
		logger: a.logger,
	}

	a.service = integrity.NewService(
		store, factory, fs.NewOSWorkspace(), arch, projects, a.recorder,
		a.logger, a.clock, integrity.UUIDGenerator{}, a.cfg.Server.BaseURL,
	)
	return nil
}

// Service exposes the wired service.
func (a *App) Service() *integrity.Service {
	return a.service
}

// Checkout runs a build checkout of a configured job.
func (a *App) Checkout(ctx context.Context, jobName string, buildNumber int64) (*integrity.BuildResult, error) {
	job, err := JobSpec(a.cfg, jobName)
	if err != nil {
		return nil, a.fail(err)
	}
	res, err := a.service.Checkout(ctx, job, buildNumber)
	if err != nil {
		return nil, a.fail(err)
	}
	return res, nil
}

// Poll returns the number of changes since the job's last build. Failures
// count as no changes.
func (a *App) Poll(ctx context.Context, jobName string) (int, error) {
	job, err := JobSpec(a.cfg, jobName)
	if err != nil {
		return 0, a.fail(err)
	}
	return a.service.Poll(ctx, job), nil
}

// ChangeLog returns the archived change log of a build.
func (a *App) ChangeLog(jobName string, buildNumber int64) (*integrity.ChangeLog, error) {
	cl, err := a.service.ChangeLog(jobName, buildNumber)
	if err != nil {
		return nil, a.fail(err)
	}
	return cl, nil
}

// Checkin writes the files under dir back to the job's project.
func (a *App) Checkin(ctx context.Context, jobName, dir string, opts integrity.CheckinOptions) (*integrity.CheckinResult, error) {
	job, err := JobSpec(a.cfg, jobName)
	if err != nil {
		return nil, a.fail(err)
	}
	res, err := a.service.CheckinArtifacts(ctx, job, dir, opts)
	if err != nil {
		return nil, a.fail(err)
	}
	return res, nil
}

// ListSnapshots returns the registered snapshots of a job, newest first.
func (a *App) ListSnapshots(jobName string) ([]*integrity.RegistryEntry, error) {
	entries, err := a.service.ListSnapshots(jobName)
	if err != nil {
		return nil, a.fail(err)
	}
	return entries, nil
}

// ListJobs returns every job with registered snapshots.
func (a *App) ListJobs() ([]string, error) {
	jobs, err := a.store.ListJobs()
	if err != nil {
		return nil, a.fail(err)
	}
	return jobs, nil
}

// DeleteJob drops every snapshot and change log of a job.
func (a *App) DeleteJob(jobName string) error {
	return a.fail(a.service.DeleteJob(jobName))
}

// DeleteBuild drops the snapshot of one build. The configuration name is
// taken from the job's config when the job still exists.
func (a *App) DeleteBuild(jobName string, buildNumber int64) error {
	var cfgName string
	if jc := a.cfg.Job(jobName); jc != nil {
		cfgName = jc.ConfigurationName
	}
	return a.fail(a.service.DeleteBuild(jobName, cfgName, buildNumber))
}

// Maintain runs one maintenance pass against the configured jobs.
func (a *App) Maintain() (*integrity.MaintenanceResult, error) {
	res, err := a.service.Maintain(a.cfg.JobNames())
	if err != nil {
		return nil, a.fail(err)
	}
	return res, nil
}

// NewScheduler creates a maintenance scheduler on the configured schedule.
// reload is called before each pass to learn the current job names; nil uses
// the jobs loaded at startup.
func (a *App) NewScheduler(reload maintenance.JobLister) (*maintenance.Scheduler, error) {
	if reload == nil {
		reload = func() ([]string, error) { return a.cfg.JobNames(), nil }
	}
	s, err := maintenance.NewScheduler(a.cfg.Maintenance.Schedule, a.service, reload, a.logger)
	if err != nil {
		return nil, a.fail(err)
	}
	return s, nil
}

// SetPassword stores the server password.
func (a *App) SetPassword(password string) error {
	return a.fail(a.creds.SetPassword(password))
}

// Status describes the local installation.
type Status struct {
	Server                string
	CredentialsConfigured bool
	Schema                *migrations.Status
	Jobs                  map[string]int // registered snapshots per job
}

// Status reports credentials, schema version and registered snapshots.
func (a *App) Status() (*Status, error) {
	st := &Status{
		Server:                fmt.Sprintf("%s@%s:%d", a.cfg.Server.User, a.cfg.Server.Host, a.cfg.Server.Port),
		CredentialsConfigured: a.creds.IsConfigured(),
		Jobs:                  make(map[string]int),
	}
	if sq, ok := a.store.(interface {
		SchemaStatus() (migrations.Status, error)
	}); ok {
		schema, err := sq.SchemaStatus()
		if err != nil {
			return nil, a.fail(err)
		}
		st.Schema = &schema
	}

	jobs, err := a.store.ListJobs()
	if err != nil {
		return nil, a.fail(err)
	}
	for _, job := range jobs {
		entries, err := a.store.ListSnapshots(job)
		if err != nil {
			return nil, a.fail(err)
		}
		st.Jobs[job] = len(entries)
	}
	return st, nil
}

// fail marks the operation failed when err is non-nil and returns err.
func (a *App) fail(err error) error {
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Close finalizes the operation: writes the metrics textfile when configured,
// closes the snapshot store and the log file.
func (a *App) Close() error {
	var errs []error

	if path := a.cfg.Metrics.Textfile; path != "" && a.recorder != nil {
		if err := a.recorder.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()).Round(time.Millisecond))

	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing snapshot store: %w", err))
		}
		a.store = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return errors.Join(errs...)
}
