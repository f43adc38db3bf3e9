package app

import (
	"fmt"

	"integrity-scm/internal/config"
	"integrity-scm/internal/fs"
	"integrity-scm/internal/integrity"
)

// JobSpec resolves a configured job into the spec the service runs, merging
// the job's overrides over the [checkout] defaults.
func JobSpec(cfg *config.Config, name string) (*integrity.JobSpec, error) {
	jc := cfg.Job(name)
	if jc == nil {
		return nil, fmt.Errorf("job %q is not configured", name)
	}

	co := cfg.Checkout
	threads := co.Threads
	if jc.Threads != 0 {
		threads = jc.Threads
	}
	clean := co.Clean
	if jc.Clean != nil {
		clean = *jc.Clean
	}

	spec := &integrity.JobSpec{
		Name:               jc.Name,
		ConfigurationName:  jc.ConfigurationName,
		ConfigPath:         jc.ConfigPath,
		Workspace:          jc.Workspace,
		AlternateWorkspace: jc.AlternateWorkspace,
		ChangeLogFile:      jc.ChangeLogFile,
		Checkout: integrity.CheckoutOptions{
			Clean:                      clean,
			RestoreTimestamp:           co.RestoreTimestamp,
			LineTerminator:             co.LineTerminator,
			ChecksumUpdate:             co.ChecksumUpdate,
			FetchChangedWorkspaceFiles: co.FetchChangedWorkspaceFiles,
			Threads:                    threads,
		},
		SkipAuthorInfo:        co.SkipAuthorInfo,
		CheckpointBeforeBuild: co.CheckpointBeforeBuild,
	}

	if filter := fs.NewFilterMatcher(jc.Includes, jc.Excludes); !filter.Empty() {
		spec.Filter = filter
	}
	return spec, nil
}
