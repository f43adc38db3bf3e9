package integrity

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"
)

// Service is the orchestration layer that coordinates the snapshot store, the
// server sessions and the workspace to perform the operations the CLI needs.
type Service struct {
	store     SnapshotStore
	factory   SessionFactory
	workspace Workspace
	archive   ChangeLogArchive
	cache     ProjectCache
	recorder  CheckoutRecorder
	logger    Logger
	clock     Clock
	idgen     IDGenerator
	executor  *CheckoutExecutor
	baseURL   string
}

// NewService creates a Service with the provided dependencies. baseURL is the
// server web root used for change-log links and may be empty.
func NewService(store SnapshotStore, factory SessionFactory, workspace Workspace, archive ChangeLogArchive, cache ProjectCache, recorder CheckoutRecorder, logger Logger, clock Clock, idgen IDGenerator, baseURL string) *Service {
	return &Service{
		store:     store,
		factory:   factory,
		workspace: workspace,
		archive:   archive,
		cache:     cache,
		recorder:  recorder,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		executor:  NewCheckoutExecutor(factory, workspace, logger),
		baseURL:   baseURL,
	}
}

// Executor exposes the checkout executor so callers can tune it.
func (s *Service) Executor() *CheckoutExecutor {
	return s.executor
}

// BuildResult summarizes a build checkout.
type BuildResult struct {
	Project       *Project
	Table         string
	BaselineTable string
	Changes       int
	Clean         bool
	Checkout      *CheckoutResult
	ChangeLog     []*ChangeLogItem
	ChangeLogPath string
	Duration      time.Duration
}

// Checkout snapshots the job's project for a build, diffs it against the
// latest earlier build and brings the workspace up to date.
func (s *Service) Checkout(ctx context.Context, job *JobSpec, buildNumber int64) (*BuildResult, error) {
	start := s.clock.Now()

	sess, err := s.factory.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer s.terminate(sess)

	project, err := s.primeProject(ctx, sess, job)
	if err != nil {
		return nil, err
	}

	table, err := s.store.RegisterSnapshot(job.Name, job.ConfigurationName, buildNumber)
	if err != nil {
		return nil, fmt.Errorf("registering snapshot: %w", err)
	}
	if err := s.store.CreateSnapshotTable(table); err != nil {
		return nil, fmt.Errorf("creating snapshot table: %w", err)
	}

	rows, err := FetchSnapshot(ctx, sess, project, job.Filter, s.logger)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertRows(table, rows); err != nil {
		return nil, fmt.Errorf("populating snapshot: %w", err)
	}
	s.logger.Info("snapshot recorded", "job", job.Name, "build", buildNumber, "table", table, "rows", len(rows))

	baseline, err := s.store.FindLatestSnapshot(job.Name, job.ConfigurationName, buildNumber-1)
	if err != nil {
		return nil, fmt.Errorf("finding baseline snapshot: %w", err)
	}

	result := &BuildResult{Project: project, Table: table, Clean: job.Checkout.Clean}
	if baseline == nil {
		s.logger.Info("no baseline snapshot, checking out everything", "job", job.Name, "build", buildNumber)
		result.Clean = true
		result.Changes = countFiles(rows)
	} else {
		result.BaselineTable = baseline.TableName
		result.Changes, err = s.store.CompareSnapshots(baseline.TableName, table)
		if err != nil {
			return nil, fmt.Errorf("comparing with build %d: %w", baseline.BuildNumber, err)
		}
		s.logger.Info("snapshot compared", "job", job.Name, "baseline_build", baseline.BuildNumber, "changes", result.Changes)
		if !project.SkipAuthorInfo {
			if err := s.primeAuthors(ctx, sess, table); err != nil {
				return nil, err
			}
		}
	}

	root := job.WorkspaceRoot()
	if result.Clean {
		if err := s.workspace.RemoveContents(root); err != nil {
			return nil, fmt.Errorf("cleaning workspace: %w", err)
		}
	}

	all, err := s.store.ListRows(table)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	dirs, err := s.store.ListDirectories(table)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directories: %w", err)
	}

	opts := job.Checkout
	opts.Clean = result.Clean
	checkout, err := s.executor.Run(ctx, root, all, dirs, opts)
	result.Checkout = checkout
	if err != nil {
		return result, fmt.Errorf("checking out workspace: %w", err)
	}
	if opts.ChecksumUpdate && len(checkout.Checksums) > 0 {
		if err := s.store.UpdateChecksums(table, checkout.Checksums); err != nil {
			return result, fmt.Errorf("updating checksums: %w", err)
		}
	}

	if err := s.writeChangeLog(job, buildNumber, baseline != nil, table, result); err != nil {
		return result, err
	}

	if removed, err := s.store.PruneSnapshots(job.Name, job.ConfigurationName); err != nil {
		s.logger.Warn("pruning snapshots", "job", job.Name, "error", err)
	} else if removed > 0 {
		s.logger.Info("old snapshots pruned", "job", job.Name, "removed", removed)
	}

	result.Duration = s.clock.Now().Sub(start)
	s.recorder.RecordCheckout(job.Name, result.Changes, checkout)
	s.logger.Info("build checkout complete", "job", job.Name, "build", buildNumber, "changes", result.Changes, "duration", result.Duration)
	return result, nil
}

func (s *Service) writeChangeLog(job *JobSpec, buildNumber int64, hasBaseline bool, table string, result *BuildResult) error {
	var changed []*SnapshotRow
	if hasBaseline {
		var err error
		changed, err = s.store.ListChangedRows(table)
		if err != nil {
			return fmt.Errorf("reading changed members: %w", err)
		}
	}

	opts := ChangeLogOptions{Version: buildNumber, BaseURL: s.baseURL}
	var buf bytes.Buffer
	if err := WriteChangeLog(&buf, changed, opts); err != nil {
		return err
	}
	result.ChangeLog = ChangeLogItems(changed, opts)
	result.ChangeLogPath = job.ChangeLogPath()

	if err := s.workspace.WriteFile(result.ChangeLogPath, buf.Bytes()); err != nil {
		return fmt.Errorf("writing change log: %w", err)
	}
	if err := s.archive.Put(job.Name, buildNumber, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		s.logger.Warn("archiving change log", "job", job.Name, "build", buildNumber, "error", err)
	}
	return nil
}

// primeProject returns the cached project for the job or fetches it.
func (s *Service) primeProject(ctx context.Context, sess Session, job *JobSpec) (*Project, error) {
	if p, ok := s.cache.Get(job.Name, job.ConfigurationName); ok && p.ConfigPath != "" {
		return p.WithOptions(job.projectOptions()), nil
	}
	p, err := FetchProject(ctx, sess, job.ConfigPath, s.logger)
	if err != nil {
		return nil, err
	}
	s.cache.Put(job.Name, job.ConfigurationName, p)
	return p.WithOptions(job.projectOptions()), nil
}

// primeAuthors looks up the author of every added or changed member. Dropped
// members already carry their baseline author. A failed lookup leaves the
// author empty.
func (s *Service) primeAuthors(ctx context.Context, sess Session, table string) error {
	changed, err := s.store.ListChangedRows(table)
	if err != nil {
		return fmt.Errorf("reading changed members: %w", err)
	}
	for _, r := range changed {
		d := r.DeltaValue()
		if d != DeltaAdded && d != DeltaChanged {
			continue
		}
		author, err := MemberAuthor(ctx, sess, r.ConfigPath, r.MemberID, r.Revision)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("author lookup failed", "member", r.Name, "revision", r.Revision, "error", err)
			continue
		}
		if author == "" {
			continue
		}
		if err := s.store.UpdateAuthor(table, r.ID, author); err != nil {
			return fmt.Errorf("recording author of %s: %w", r.Name, err)
		}
	}
	return nil
}

// Poll reports how many members differ between the server and the latest
// recorded snapshot, without recording anything. Failures are logged and
// reported as zero changes.
func (s *Service) Poll(ctx context.Context, job *JobSpec) int {
	n, err := s.poll(ctx, job)
	if err != nil {
		s.logger.Error("poll failed", "job", job.Name, "error", err)
		return 0
	}
	s.recorder.RecordPoll(job.Name, n)
	s.logger.Info("poll complete", "job", job.Name, "changes", n)
	return n
}

func (s *Service) poll(ctx context.Context, job *JobSpec) (int, error) {
	baseline, err := s.store.FindLatestSnapshot(job.Name, job.ConfigurationName, math.MaxInt64)
	if err != nil {
		return 0, fmt.Errorf("finding baseline snapshot: %w", err)
	}

	sess, err := s.factory.NewSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("opening session: %w", err)
	}
	defer s.terminate(sess)

	project, err := s.primeProject(ctx, sess, job)
	if err != nil {
		return 0, err
	}
	rows, err := FetchSnapshot(ctx, sess, project, job.Filter, s.logger)
	if err != nil {
		return 0, err
	}
	if baseline == nil {
		return countFiles(rows), nil
	}

	temp := SnapshotTableName(s.idgen.New())
	if err := s.store.CreateSnapshotTable(temp); err != nil {
		return 0, fmt.Errorf("creating poll snapshot: %w", err)
	}
	defer func() {
		if err := s.store.DropSnapshotTable(temp); err != nil {
			s.logger.Warn("dropping poll snapshot", "table", temp, "error", err)
		}
	}()
	if err := s.store.InsertRows(temp, rows); err != nil {
		return 0, fmt.Errorf("populating poll snapshot: %w", err)
	}
	n, err := s.store.CompareSnapshots(baseline.TableName, temp)
	if err != nil {
		return 0, fmt.Errorf("comparing with build %d: %w", baseline.BuildNumber, err)
	}
	return n, nil
}

// ChangeLog reads back the archived change log of a build.
func (s *Service) ChangeLog(jobName string, buildNumber int64) (*ChangeLog, error) {
	var buf bytes.Buffer
	if err := s.archive.Get(jobName, buildNumber, &buf); err != nil {
		return nil, fmt.Errorf("reading archived change log: %w", err)
	}
	return ParseChangeLog(&buf)
}

// ListSnapshots returns the recorded snapshots of a job, newest first.
func (s *Service) ListSnapshots(jobName string) ([]*RegistryEntry, error) {
	entries, err := s.store.ListSnapshots(jobName)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return entries, nil
}

func (s *Service) terminate(sess Session) {
	if err := sess.Terminate(); err != nil {
		s.logger.Warn("terminating session", "error", err)
	}
}

func countFiles(rows []*SnapshotRow) int {
	n := 0
	for _, r := range rows {
		if r.IsFile() {
			n++
		}
	}
	return n
}
