package integrity

import "fmt"

// DeleteJob removes every snapshot and archived change log of a job. Used
// when the job itself is deleted.
func (s *Service) DeleteJob(jobName string) error {
	if err := s.store.DeleteJob(jobName); err != nil {
		return fmt.Errorf("deleting snapshots of %s: %w", jobName, err)
	}
	s.cache.Invalidate(jobName)
	if err := s.archive.DeleteJob(jobName); err != nil {
		s.logger.Warn("deleting archived change logs", "job", jobName, "error", err)
	}
	s.logger.Info("job deleted", "job", jobName)
	return nil
}

// DeleteBuild removes the snapshot of a single build.
func (s *Service) DeleteBuild(jobName, configurationName string, buildNumber int64) error {
	if err := s.store.DeleteSnapshot(jobName, configurationName, buildNumber); err != nil {
		return fmt.Errorf("deleting snapshot of %s build %d: %w", jobName, buildNumber, err)
	}
	s.logger.Info("build snapshot deleted", "job", jobName, "configuration", configurationName, "build", buildNumber)
	return nil
}

// MaintenanceResult summarizes a maintenance pass.
type MaintenanceResult struct {
	JobsDeleted     int
	SnapshotsPruned int
	Failures        int
}

// Maintain drops the snapshots of jobs that no longer exist and enforces
// retention for the rest. Individual failures are logged and skipped.
func (s *Service) Maintain(existingJobs []string) (*MaintenanceResult, error) {
	jobs, err := s.store.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("listing registered jobs: %w", err)
	}

	existing := make(map[string]bool, len(existingJobs))
	for _, j := range existingJobs {
		existing[j] = true
	}

	res := &MaintenanceResult{}
	for _, job := range jobs {
		if !existing[job] {
			if err := s.DeleteJob(job); err != nil {
				s.logger.Warn("maintenance: deleting stale job", "job", job, "error", err)
				res.Failures++
				continue
			}
			res.JobsDeleted++
			continue
		}

		entries, err := s.store.ListSnapshots(job)
		if err != nil {
			s.logger.Warn("maintenance: listing snapshots", "job", job, "error", err)
			res.Failures++
			continue
		}
		seen := make(map[string]bool)
		for _, e := range entries {
			if seen[e.ConfigurationName] {
				continue
			}
			seen[e.ConfigurationName] = true
			n, err := s.store.PruneSnapshots(job, e.ConfigurationName)
			if err != nil {
				s.logger.Warn("maintenance: pruning snapshots", "job", job, "configuration", e.ConfigurationName, "error", err)
				res.Failures++
				continue
			}
			res.SnapshotsPruned += n
		}
	}

	s.logger.Info("maintenance complete", "jobs_deleted", res.JobsDeleted, "snapshots_pruned", res.SnapshotsPruned, "failures", res.Failures)
	return res, nil
}
