package version

import (
	"github.com/earthboundkid/versioninfo/v2"
)

// GetVersion returns the short version string, e.g. "v1.2.0" or "devel-abc1234"
func GetVersion() string {
	return versioninfo.Short()
}

// GetFullVersion returns version with commit info
func GetFullVersion() string {
	ver := versioninfo.Short()
	if versioninfo.Revision == "" || versioninfo.Revision == "unknown" {
		return ver
	}

	commit := versioninfo.Revision
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if versioninfo.DirtyBuild {
		commit += "-dirty"
	}
	return ver + " (commit: " + commit + ")"
}
