// Package version provides version information for the chainhopper pricing daemon.
package version

// Version is the current version of the chainhopper application.
const Version = "0.1.0"

// AgentString returns the full agent string with versioning.
// Sent as the User-Agent on upstream API calls.
func AgentString() string {
	return "chainhopper/v" + Version
}
