// Package version exposes the build version used in user agents, OTel
// resources and the health endpoint.
//
//	version.GitCommit  // "a3f8c2d1" or "dev"
//	version.Full()     // "merlinn/a3f8c2d1"
package version

import "runtime/debug"

// AppName is the service name reported to vendors and telemetry backends.
const AppName = "merlinn"

// gitCommitOverride is set with -ldflags for container builds without .git.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when build info has none.
var GitCommit = resolveCommit(gitCommitOverride, readVCSRevision())

func readVCSRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func resolveCommit(override, revision string) string {
	commit := override
	if commit == "" {
		commit = revision
	}
	if commit == "" {
		return "dev"
	}
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}

// Full returns "merlinn/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

// UserAgent is sent on outbound vendor API calls.
func UserAgent() string {
	return Full() + " (+https://merlinn.co)"
}
