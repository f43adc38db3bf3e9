package integrity

import (
	"context"
	"fmt"
	"path/filepath"
)

// CheckinOptions control writing build artifacts back to the server.
type CheckinOptions struct {
	// ItemID is the work item the change package is created against.
	ItemID string
	// ConfigPath is the project receiving the artifacts. Defaults to the
	// job's configuration path.
	ConfigPath  string
	Description string
}

// CheckinResult summarizes a check-in.
type CheckinResult struct {
	ChangePackageID string
	CheckedIn       int
	Added           int
}

// CheckinArtifacts checks every file under dir into the project under a new
// change package. Files that are not yet members are added.
func (s *Service) CheckinArtifacts(ctx context.Context, job *JobSpec, dir string, opts CheckinOptions) (*CheckinResult, error) {
	if opts.ItemID == "" {
		return nil, fmt.Errorf("check-in requires an item id")
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = job.ConfigPath
	}
	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("Build artifacts of %s", job.Name)
	}

	files, err := s.workspace.ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	if len(files) == 0 {
		return &CheckinResult{}, nil
	}

	sess, err := s.factory.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	defer s.terminate(sess)

	cpid, err := CreateChangePackage(ctx, sess, opts.ItemID, description)
	if err != nil {
		return nil, err
	}
	res := &CheckinResult{ChangePackageID: cpid}

	for _, member := range files {
		source := filepath.Join(dir, filepath.FromSlash(member))
		err := LockMember(ctx, sess, configPath, member, cpid)
		switch Classify(err) {
		case ClassNone:
			if err := CheckinMember(ctx, sess, configPath, member, source, cpid, description); err != nil {
				return res, err
			}
			res.CheckedIn++
		case ClassMemberNotFound:
			if err := AddMember(ctx, sess, configPath, member, source, cpid, description); err != nil {
				return res, err
			}
			res.Added++
		default:
			return res, err
		}
		s.logger.Debug("artifact checked in", "member", member, "cpid", cpid)
	}

	if err := SubmitChangePackage(ctx, sess, cpid); err != nil {
		return res, err
	}
	s.logger.Info("artifacts checked in", "job", job.Name, "cpid", cpid, "checked_in", res.CheckedIn, "added", res.Added)
	return res, nil
}
