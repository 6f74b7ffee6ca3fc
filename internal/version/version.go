// Package version provides the build version of the greenroom server.
package version

// Version is the current semantic version.
var Version = "0.3.1"

// DevVersion is the version suffix used in dev mode builds.
var DevVersion = Version + "-dev"

func GetCurrentVersion(mode string) string {
	if mode == "dev" {
		return DevVersion
	}
	return Version
}
