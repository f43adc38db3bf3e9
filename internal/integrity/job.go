package integrity

import "path/filepath"

// JobSpec describes one build job's view of an Integrity project.
type JobSpec struct {
	Name              string
	ConfigurationName string
	ConfigPath        string

	Workspace          string
	AlternateWorkspace string
	// ChangeLogFile overrides where the change log is written.
	// Defaults to changelog.xml in the workspace root.
	ChangeLogFile string

	// Filter restricts the members kept in the snapshot. Nil keeps all.
	Filter MemberFilter

	Checkout              CheckoutOptions
	SkipAuthorInfo        bool
	CheckpointBeforeBuild bool
}

// WorkspaceRoot returns the directory members are checked out into.
func (j *JobSpec) WorkspaceRoot() string {
	if j.AlternateWorkspace != "" {
		if filepath.IsAbs(j.AlternateWorkspace) {
			return j.AlternateWorkspace
		}
		return filepath.Join(j.Workspace, j.AlternateWorkspace)
	}
	return j.Workspace
}

// ChangeLogPath returns where the change log for a build is written.
func (j *JobSpec) ChangeLogPath() string {
	if j.ChangeLogFile != "" {
		return j.ChangeLogFile
	}
	return filepath.Join(j.WorkspaceRoot(), "changelog.xml")
}

func (j *JobSpec) projectOptions() ProjectOptions {
	return ProjectOptions{
		LineTerminator:        j.Checkout.LineTerminator,
		RestoreTimestamp:      j.Checkout.RestoreTimestamp,
		SkipAuthorInfo:        j.SkipAuthorInfo,
		CheckpointBeforeBuild: j.CheckpointBeforeBuild,
	}
}
