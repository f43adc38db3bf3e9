package fs

import (
	"path"
	"strings"

	"integrity-scm/internal/integrity"
)

// pattern is a parsed glob with its matching strategy.
type pattern struct {
	glob      string
	matchPath bool // true = match against relative path; false = match against basename only
}

// patternSet is a list of globs.
// Globs without '/' match against the member's basename only.
// Globs with '/' match against the relative path, or any leading directory of it,
// so "docs/*" also covers "docs/api/index.html".
type patternSet []pattern

func newPatternSet(raw []string) patternSet {
	var set patternSet
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		r = strings.TrimPrefix(strings.ReplaceAll(r, "\\", "/"), "/")
		set = append(set, pattern{glob: r, matchPath: strings.Contains(r, "/")})
	}
	return set
}

func (s patternSet) match(relativePath string) bool {
	base := path.Base(relativePath)
	for _, p := range s {
		if !p.matchPath {
			if ok, err := path.Match(p.glob, base); err == nil && ok {
				return true
			}
			continue
		}
		for candidate := relativePath; candidate != "." && candidate != "/" && candidate != ""; candidate = path.Dir(candidate) {
			// Bad pattern: skip rather than fail the listing.
			if ok, err := path.Match(p.glob, candidate); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// FilterMatcher selects project members by include and exclude globs.
// A member is kept when it matches at least one include (or no includes are
// configured) and matches no exclude.
type FilterMatcher struct {
	includes patternSet
	excludes patternSet
}

// NewFilterMatcher creates a matcher. Blank patterns and lines starting with
// '#' are skipped.
func NewFilterMatcher(includes, excludes []string) *FilterMatcher {
	return &FilterMatcher{
		includes: newPatternSet(includes),
		excludes: newPatternSet(excludes),
	}
}

// Empty reports whether the matcher keeps every member.
func (m *FilterMatcher) Empty() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0
}

func (m *FilterMatcher) Include(relativePath string) bool {
	if relativePath == "" {
		return false
	}
	if m.excludes.match(relativePath) {
		return false
	}
	if len(m.includes) == 0 {
		return true
	}
	return m.includes.match(relativePath)
}

var _ integrity.MemberFilter = (*FilterMatcher)(nil)
