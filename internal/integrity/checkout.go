package integrity

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// MaxCheckoutThreads bounds the checkout pool size.
const MaxCheckoutThreads = 10

// WorkerShutdownTimeout bounds how long an interrupted checkout waits for
// in-flight fetches before it releases its sessions.
const WorkerShutdownTimeout = 30 * time.Second

// CheckoutOptions control a checkout pass.
type CheckoutOptions struct {
	// Clean fetches every file member regardless of its delta. Dropped members
	// are not deleted individually; the caller is expected to have wiped the
	// workspace.
	Clean            bool
	RestoreTimestamp bool
	LineTerminator   string
	// ChecksumUpdate recomputes the checksum of every fetched file so it can
	// be persisted to the snapshot.
	ChecksumUpdate bool
	// FetchChangedWorkspaceFiles also fetches unchanged members whose file on
	// disk is missing or no longer matches the cached checksum. Members with
	// no cached checksum are only fetched when missing.
	FetchChangedWorkspaceFiles bool
	Threads                    int
}

// CheckoutResult summarizes a checkout pass.
type CheckoutResult struct {
	Scheduled int
	Completed int
	Ignored   int
	Deleted   int
	Skipped   int
	Refreshes int
	// ByAction counts completed checkouts per change-log action.
	ByAction map[string]int
	// Checksums maps member ID to the checksum of the fetched file. Only
	// populated when ChecksumUpdate is set.
	Checksums map[string]string
}

// CheckoutExecutor materializes snapshot rows into a workspace.
type CheckoutExecutor struct {
	factory   SessionFactory
	workspace Workspace
	logger    Logger
	threshold int
	shutdown  time.Duration
}

// NewCheckoutExecutor creates an executor that draws sessions from factory.
func NewCheckoutExecutor(factory SessionFactory, workspace Workspace, logger Logger) *CheckoutExecutor {
	return &CheckoutExecutor{
		factory:   factory,
		workspace: workspace,
		logger:    logger,
		threshold: SessionRefreshThreshold,
		shutdown:  WorkerShutdownTimeout,
	}
}

// SetRefreshThreshold overrides the number of checkouts a session serves
// before it is replaced.
func (e *CheckoutExecutor) SetRefreshThreshold(n int) {
	e.threshold = n
}

type checkoutTask struct {
	row    *SnapshotRow
	target string
}

type checkoutOutcome struct {
	task     checkoutTask
	checksum string
	err      error
}

// Run checks out rows under root. Directories are created first, dropped
// members are deleted on the calling goroutine, and the remaining fetches run
// on a pool of opts.Threads sessions.
func (e *CheckoutExecutor) Run(ctx context.Context, root string, rows []*SnapshotRow, dirs []string, opts CheckoutOptions) (*CheckoutResult, error) {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	if threads > MaxCheckoutThreads {
		threads = MaxCheckoutThreads
	}

	result := &CheckoutResult{
		ByAction:  make(map[string]int),
		Checksums: make(map[string]string),
	}

	if err := e.workspace.MkdirAll(root); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", root, err)
	}
	created := map[string]bool{root: true}
	mkdir := func(dir string) error {
		if created[dir] {
			return nil
		}
		if err := e.workspace.MkdirAll(dir); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		created[dir] = true
		return nil
	}
	for _, d := range dirs {
		if err := mkdir(filepath.Join(root, filepath.FromSlash(d))); err != nil {
			return nil, err
		}
	}

	tasks, err := e.plan(root, rows, opts, result)
	if err != nil {
		return result, err
	}
	for _, t := range tasks {
		if err := mkdir(filepath.Dir(t.target)); err != nil {
			return result, err
		}
	}
	result.Scheduled = len(tasks)
	if len(tasks) == 0 {
		e.logger.Info("checkout complete", "scheduled", 0, "deleted", result.Deleted, "skipped", result.Skipped)
		return result, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewSessionPool(e.factory, threads, e.threshold, e.logger)
	defer func() {
		if err := pool.Close(); err != nil {
			e.logger.Warn("terminating checkout sessions", "error", err)
		}
	}()

	outcomes := make(chan checkoutOutcome, len(tasks))
	go e.submit(ctx, pool, tasks, threads, opts, outcomes)

	e.logger.Info("checkout started", "members", len(tasks), "threads", threads, "clean", opts.Clean)
	var firstErr error
	step := progressStep(len(tasks))
	for received := 0; received < len(tasks); {
		var o checkoutOutcome
		var ok bool
		select {
		case o, ok = <-outcomes:
			if !ok {
				received = len(tasks)
				continue
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			e.drain(outcomes)
			result.Refreshes = pool.Refreshes()
			return result, fmt.Errorf("checkout interrupted: %w", firstErr)
		}
		received++

		switch {
		case o.err == nil:
			result.Completed++
			result.ByAction[o.task.row.DeltaValue().Action()]++
			if opts.ChecksumUpdate {
				result.Checksums[o.task.row.MemberID] = o.checksum
			}
			e.logger.Debug("member checked out", "member", o.task.row.Name, "revision", o.task.row.Revision)
			if result.Completed%step == 0 {
				e.logger.Info("checkout progress", "completed", result.Completed, "scheduled", result.Scheduled)
			}
		case Classify(o.err) == ClassUnbufferedRequest:
			result.Ignored++
			e.logger.Warn("ignoring transient checkout failure", "member", o.task.row.Name, "error", o.err)
		default:
			e.logger.Error("checkout failed", "member", o.task.row.Name, "error", o.err)
			if firstErr == nil {
				firstErr = o.err
				cancel()
			}
		}
	}

	result.Refreshes = pool.Refreshes()
	if firstErr != nil {
		return result, firstErr
	}
	e.logger.Info("checkout complete",
		"scheduled", result.Scheduled,
		"completed", result.Completed,
		"ignored", result.Ignored,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"refreshes", result.Refreshes)
	return result, nil
}

// plan deletes dropped members and returns the fetches to run.
func (e *CheckoutExecutor) plan(root string, rows []*SnapshotRow, opts CheckoutOptions, result *CheckoutResult) ([]checkoutTask, error) {
	var tasks []checkoutTask
	for _, r := range rows {
		if !r.IsFile() {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(r.RelativeFile))
		delta := r.DeltaValue()

		if delta == DeltaDropped {
			if opts.Clean {
				continue
			}
			if err := e.workspace.Remove(target); err != nil {
				return nil, fmt.Errorf("deleting dropped member %s: %w", r.Name, err)
			}
			result.Deleted++
			e.logger.Debug("dropped member deleted", "member", r.Name)
			continue
		}

		if opts.Clean || delta == DeltaAdded || delta == DeltaChanged {
			tasks = append(tasks, checkoutTask{row: r, target: target})
			continue
		}

		if opts.FetchChangedWorkspaceFiles {
			sum, err := e.workspace.Checksum(target)
			if err != nil {
				e.logger.Warn("computing workspace checksum", "member", r.Name, "error", err)
			}
			// A present file with no cached checksum cannot be compared; it
			// is left alone rather than refetched on every build.
			cached := r.Checksum.Valid && r.Checksum.String != ""
			if err != nil || sum == "" || (cached && sum != r.Checksum.String) {
				tasks = append(tasks, checkoutTask{row: r, target: target})
				continue
			}
		}
		result.Skipped++
	}
	return tasks, nil
}

// submit feeds tasks to a bounded group and closes outcomes once every task
// has reported.
func (e *CheckoutExecutor) submit(ctx context.Context, pool *SessionPool, tasks []checkoutTask, threads int, opts CheckoutOptions, outcomes chan<- checkoutOutcome) {
	var g errgroup.Group
	g.SetLimit(threads)
	for _, t := range tasks {
		g.Go(func() error {
			outcomes <- e.fetch(ctx, pool, t, opts)
			return nil
		})
	}
	_ = g.Wait()
	close(outcomes)
}

// drain waits for in-flight fetches to report so the pool is not closed under
// them. Fetches that started after the interruption fail fast on the context.
func (e *CheckoutExecutor) drain(outcomes <-chan checkoutOutcome) {
	timer := time.NewTimer(e.shutdown)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-outcomes:
			if !ok {
				return
			}
		case <-timer.C:
			e.logger.Warn("checkout workers still running after interruption", "timeout", e.shutdown)
			return
		}
	}
}

func (e *CheckoutExecutor) fetch(ctx context.Context, pool *SessionPool, t checkoutTask, opts CheckoutOptions) checkoutOutcome {
	if err := ctx.Err(); err != nil {
		return checkoutOutcome{task: t, err: err}
	}
	err := pool.Do(ctx, func(s Session) error {
		return CheckoutMember(ctx, s, CheckoutRequest{
			ConfigPath:       t.row.ConfigPath,
			MemberID:         t.row.MemberID,
			Revision:         t.row.Revision,
			TargetFile:       t.target,
			LineTerminator:   opts.LineTerminator,
			RestoreTimestamp: opts.RestoreTimestamp,
		})
	})
	if err != nil {
		return checkoutOutcome{task: t, err: err}
	}
	if !opts.ChecksumUpdate {
		return checkoutOutcome{task: t}
	}
	sum, err := e.workspace.Checksum(t.target)
	if err != nil {
		return checkoutOutcome{task: t, err: err}
	}
	return checkoutOutcome{task: t, checksum: sum}
}

func progressStep(total int) int {
	step := total / 10
	if step < 1 {
		return 1
	}
	return step
}
