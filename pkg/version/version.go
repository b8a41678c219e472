// Package version provides the build version information for the gitperf binary.
package version

import (
	"strconv"
	"strings"
)

// Version is the release version, injected via ldflags at build time.
var Version = "dev"

// Commit is the git commit hash, injected via ldflags at build time.
var Commit = "none"

// Date is the build date, injected via ldflags at build time.
var Date = "unknown"

// Binary is the notes wire-format schema version gitperf reads and writes
// (the "3" in refs/notes/perf-v3), extracted at startup by
// InitBinaryVersion so a version check never drifts from the ref a build
// actually uses.
var Binary = 0

// InitBinaryVersion extracts the trailing "-v<N>" schema version from ref
// (the notes ref gitperf writes to) and sets Binary. Leaves Binary at 0 if
// ref has no such suffix.
func InitBinaryVersion(ref string) {
	idx := strings.LastIndex(ref, "-v")
	if idx < 0 {
		return
	}

	parsed, err := strconv.Atoi(ref[idx+2:])
	if err == nil {
		Binary = parsed
	}
}
