// SPDX-License-Identifier: MIT
package build

// ldFlags holds build-time information injected during compilation, e.g.:
//
//	go build -ldflags "-X bpmdetect/internal/build.buildName=bpmdetect \
//	                   -X bpmdetect/internal/build.buildVersion=0.1.0"
//
// Unset fields fall back to development defaults so `go run` works without
// the full flag set.
type ldFlags struct {
	Name        string // Application name
	Description string // Short description for CLI help
	Time        string // Build timestamp
	Commit      string // Git commit hash
	Version     string // Semantic version
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string

	buildFlags = &ldFlags{
		Name:        "bpmdetect",
		Description: "Real-time 180 BPM detection from a microphone",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
)

// Initialize copies any injected ldflags values over the development
// defaults. Call early in program startup, before GetBuildFlags.
func Initialize() {
	if buildName != "" {
		buildFlags.Name = buildName
	}
	if buildTime != "" {
		buildFlags.Time = buildTime
	}
	if buildCommit != "" {
		buildFlags.Commit = buildCommit
	}
	if buildVersion != "" {
		buildFlags.Version = buildVersion
	}
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}
