// Package version stamps this build with a semver string, shared by the
// daemon's startup banner and the queue's on-disk checkpoint format.
package version

import (
	"fmt"

	"github.com/blang/semver"
)

// Binary is the current release version. It doubles as the checkpoint
// format version written into every QueueCheckpoint.
const Binary = "1.0.0"

// Semver is Binary parsed once at init time; a malformed Binary panics at
// package initialization, before any caller can use it.
var Semver = semver.MustParse(Binary)

func String(app string) string {
	return fmt.Sprintf("%s v%s", app, Binary)
}
