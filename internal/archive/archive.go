// Package archive keeps rendered change logs outside the build workspace.
package archive

import (
	"net/url"
	"strconv"
)

// objectName returns the archive-relative name of a build's change log.
// Job names may contain slashes (folders), so they are escaped into a single
// path segment.
func objectName(jobName string, buildNumber int64) string {
	return jobDir(jobName) + "/" + strconv.FormatInt(buildNumber, 10) + ".xml"
}

func jobDir(jobName string) string {
	return url.PathEscape(jobName)
}
