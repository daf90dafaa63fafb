// Package version carries the graphport build metadata, stamped by the
// release build via -ldflags.
package version

var (
	// Version is the graphport release version, "dev" for local builds.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "none"
	// Date is the build timestamp.
	Date = "unknown"
)

// Info returns the version, commit and build date on separate lines.
func Info() string {
	return "Version: " + Version + "\nCommit: " + Commit + "\nBuild Date: " + Date
}
