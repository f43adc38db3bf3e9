package integrity_test

import (
	"path/filepath"
	"testing"

	"integrity-scm/internal/integrity"
)

func TestJobSpec_Paths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		job           integrity.JobSpec
		wantRoot      string
		wantChangeLog string
	}{
		{
			name:          "workspace",
			job:           integrity.JobSpec{Workspace: "/ws/app"},
			wantRoot:      "/ws/app",
			wantChangeLog: filepath.Join("/ws/app", "changelog.xml"),
		},
		{
			name:          "relative alternate workspace",
			job:           integrity.JobSpec{Workspace: "/ws/app", AlternateWorkspace: "src"},
			wantRoot:      filepath.Join("/ws/app", "src"),
			wantChangeLog: filepath.Join("/ws/app", "src", "changelog.xml"),
		},
		{
			name:          "absolute alternate workspace",
			job:           integrity.JobSpec{Workspace: "/ws/app", AlternateWorkspace: "/build/app"},
			wantRoot:      "/build/app",
			wantChangeLog: filepath.Join("/build/app", "changelog.xml"),
		},
		{
			name:          "explicit change log file",
			job:           integrity.JobSpec{Workspace: "/ws/app", ChangeLogFile: "/logs/app.xml"},
			wantRoot:      "/ws/app",
			wantChangeLog: "/logs/app.xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.WorkspaceRoot(); got != tt.wantRoot {
				t.Errorf("WorkspaceRoot() = %q, want %q", got, tt.wantRoot)
			}
			if got := tt.job.ChangeLogPath(); got != tt.wantChangeLog {
				t.Errorf("ChangeLogPath() = %q, want %q", got, tt.wantChangeLog)
			}
		})
	}
}

func TestSnapshotTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want string
	}{
		{"id-1", "CM_ID1"},
		{"5f0c2a9e-1b2c-4d3e-8f90-a1b2c3d4e5f6", "CM_5F0C2A9E1B2C4D3E8F90A1B2C3D4E5F6"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := integrity.SnapshotTableName(tt.id); got != tt.want {
				t.Errorf("SnapshotTableName(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
