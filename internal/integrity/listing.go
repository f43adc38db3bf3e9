package integrity

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Member listing field names requested from viewproject.
var listingFields = []string{"name", "memberid", "memberrev", "memberrevlastmodified", "memberdescription", "type"}

// FetchProject runs projectinfo for a configuration path.
func FetchProject(ctx context.Context, s Session, configPath string, logger Logger) (*Project, error) {
	resp, err := s.Run(ctx, NewCommand("projectinfo").With("project", configPath))
	if err != nil {
		return nil, fmt.Errorf("fetching project info for %s: %w", configPath, err)
	}
	return ParseProject(resp, configPath, logger)
}

// FetchSnapshot lists the project recursively and converts the listing into
// snapshot rows. Sub-projects become directory rows; members rejected by
// filter are left out.
func FetchSnapshot(ctx context.Context, s Session, p *Project, filter MemberFilter, logger Logger) ([]*SnapshotRow, error) {
	cmd := NewCommand("viewproject").
		With("project", p.ConfigPath).
		Flag("recurse").
		With("fields", strings.Join(listingFields, ","))
	resp, err := s.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("listing project %s: %w", p.ConfigPath, err)
	}

	root := projectDir(p.Name)
	names := make(map[string]bool, len(resp.WorkItems))
	memberIDs := make(map[string]bool, len(resp.WorkItems))
	rows := make([]*SnapshotRow, 0, len(resp.WorkItems))

	for _, wi := range resp.WorkItems {
		name, ok := wi.Field("name")
		if !ok || name == "" {
			name = wi.ID
		}
		name = normalizeName(name)
		if names[name] {
			logger.Warn("duplicate member name in listing", "name", name)
			continue
		}

		kind, _ := wi.Field("type")
		if isSubproject(kind) {
			names[name] = true
			rows = append(rows, &SnapshotRow{
				Type:         TypeDirectory,
				Name:         name,
				ConfigPath:   wi.Context,
				RelativeFile: relativeTo(root, projectDir(name)),
			})
			continue
		}

		rel := relativeTo(root, name)
		if filter != nil && !filter.Include(rel) {
			logger.Debug("member filtered", "name", name)
			continue
		}

		memberID, _ := wi.Field("memberid")
		if memberID == "" {
			memberID = name
		}
		if memberIDs[memberID] {
			logger.Warn("duplicate member id in listing", "member_id", memberID, "name", name)
			continue
		}
		names[name] = true
		memberIDs[memberID] = true

		row := &SnapshotRow{
			Type:         TypeFile,
			Name:         name,
			MemberID:     memberID,
			ConfigPath:   wi.Context,
			RelativeFile: rel,
		}
		if row.ConfigPath == "" {
			row.ConfigPath = p.ConfigPath
		}
		row.Revision, _ = wi.Field("memberrev")
		row.Description, _ = wi.Field("memberdescription")
		if ts, ok := wi.Field("memberrevlastmodified"); ok && ts != "" {
			t, err := ParseServerTime(ts)
			if err != nil {
				logger.Warn("unparseable member timestamp", "name", name, "value", ts)
			} else {
				row.Timestamp = t
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isSubproject(kind string) bool {
	return strings.Contains(strings.ToLower(kind), "subproject")
}

func normalizeName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// projectDir returns the directory holding a project file such as
// /repo/app/project.pj.
func projectDir(projectName string) string {
	return path.Dir(normalizeName(projectName))
}

// relativeTo trims dir from name. Names outside dir are returned unchanged
// without a leading slash.
func relativeTo(dir, name string) string {
	if dir == "." || dir == "/" || dir == "" {
		return strings.TrimPrefix(name, "/")
	}
	if name == dir {
		return ""
	}
	if strings.HasPrefix(name, dir+"/") {
		return name[len(dir)+1:]
	}
	return strings.TrimPrefix(name, "/")
}
