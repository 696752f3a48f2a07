// Package version holds the host's build identity, set at link time via
// -ldflags, plus the bundle manifest schema it was built against.
package version

import (
	"fmt"
	"runtime"

	"github.com/r3e-network/hermes/internal/container"
)

// Build information set by the compiler flags.
var (
	// Release is the host's own release tag.
	Release = "0.1.0"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// BuiltAt is the time the binary was built.
	BuiltAt = "unknown"

	// Runtime is the Go toolchain version used to build the binary.
	Runtime = runtime.Version()
)

// ManifestSchema is the bundle manifest schema this build parses
// (container.ManifestSchemaVersion). A host advertises it so operators can
// tell, from a running process, whether it understands bundles built
// against a newer manifest shape before attempting to load one.
const ManifestSchema = container.ManifestSchemaVersion

// FullVersion returns the host's release, commit, build time, Go runtime,
// and the manifest schema version it accepts.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s, manifest-schema: %d)",
		Release, Commit, BuiltAt, Runtime, ManifestSchema)
}

// UserAgent returns a string suitable for use as an HTTP User-Agent header
// when the host acts as a client (docsync peer fetches, provider polls).
func UserAgent() string {
	return fmt.Sprintf("hermes/%s", Release)
}
