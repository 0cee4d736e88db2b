// Package version provides version information for feedguard.
package version

// Version is the current version of feedguard.
const Version = "0.3.0"

// AgentString returns the full agent string with versioning.
// Format: feedguard/v{version}
func AgentString() string {
	return "feedguard/v" + Version
}
