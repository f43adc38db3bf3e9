package integrity

import (
	"fmt"
	"strings"
	"time"
)

// Project types reported by the server.
const (
	ProjectTypeNormal  = "Normal"
	ProjectTypeVariant = "Variant"
	ProjectTypeBuild   = "Build"
)

const undefinedValue = "undefined"

// Project is the metadata of an Integrity project configuration plus the
// invocation options that govern how it is checked out.
type Project struct {
	Name           string
	Type           string
	ConfigPath     string
	LastCheckpoint time.Time

	LineTerminator        string
	RestoreTimestamp      bool
	SkipAuthorInfo        bool
	CheckpointBeforeBuild bool
}

// ProjectOptions are the invocation options of a project.
type ProjectOptions struct {
	LineTerminator        string
	RestoreTimestamp      bool
	SkipAuthorInfo        bool
	CheckpointBeforeBuild bool
}

// WithOptions returns a copy of the project carrying the invocation options.
func (p *Project) WithOptions(opts ProjectOptions) *Project {
	cp := *p
	cp.LineTerminator = opts.LineTerminator
	cp.RestoreTimestamp = opts.RestoreTimestamp
	cp.SkipAuthorInfo = opts.SkipAuthorInfo
	cp.CheckpointBeforeBuild = opts.CheckpointBeforeBuild
	return &cp
}

func (p *Project) IsNormal() bool  { return strings.EqualFold(p.Type, ProjectTypeNormal) }
func (p *Project) IsVariant() bool { return strings.EqualFold(p.Type, ProjectTypeVariant) }
func (p *Project) IsBuild() bool   { return strings.EqualFold(p.Type, ProjectTypeBuild) }

// ParseProject builds a Project from a projectinfo response. Missing fields
// are defaulted and logged rather than failing the build.
func ParseProject(resp *Response, requestedConfigPath string, logger Logger) (*Project, error) {
	wi := resp.FirstWorkItem()
	if wi == nil {
		return nil, fmt.Errorf("projectinfo for %s returned no work items", requestedConfigPath)
	}

	p := &Project{}
	var ok bool
	if p.Name, ok = wi.Field("projectName"); !ok {
		logger.Warn("project name missing from projectinfo", "config_path", requestedConfigPath)
		p.Name = undefinedValue
	}
	if p.Type, ok = wi.Field("projectType"); !ok {
		logger.Warn("project type missing from projectinfo", "config_path", requestedConfigPath)
		p.Type = undefinedValue
	}
	if p.ConfigPath, ok = wi.Field("fullConfigSyntax"); !ok || p.ConfigPath == "" {
		logger.Warn("full configuration path missing from projectinfo", "config_path", requestedConfigPath)
		p.ConfigPath = requestedConfigPath
	}
	checkpoint, ok := wi.Field("lastCheckpoint")
	if !ok || checkpoint == "" {
		logger.Warn("last checkpoint missing from projectinfo", "config_path", requestedConfigPath)
		return p, nil
	}
	t, err := ParseServerTime(checkpoint)
	if err != nil {
		logger.Warn("unparseable last checkpoint", "config_path", requestedConfigPath, "value", checkpoint, "error", err)
		return p, nil
	}
	p.LastCheckpoint = t
	return p, nil
}

// ServerTimeFormat is the layout the server uses for datetime fields and the
// change log uses for dates.
const ServerTimeFormat = "Jan 02, 2006 3:04:05 PM"

var serverTimeLayouts = []string{
	ServerTimeFormat,
	"Jan 2, 2006 3:04:05 PM",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseServerTime parses a datetime as rendered in server responses.
func ParseServerTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range serverTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parsing time %q: %w", s, lastErr)
}
