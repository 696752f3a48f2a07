package version

import (
	"fmt"
	"strings"
	"testing"

	"github.com/r3e-network/hermes/internal/container"
)

func TestFullVersionContainsFields(t *testing.T) {
	Release = "1.2.3"
	Commit = "abcdef"
	BuiltAt = "now"

	fv := FullVersion()
	want := []string{"1.2.3", "abcdef", "now", fmt.Sprintf("manifest-schema: %d", ManifestSchema)}
	if fv == "" || !containsAll(fv, want) {
		t.Fatalf("full version missing details: %s", fv)
	}

	if ua := UserAgent(); ua != "hermes/1.2.3" {
		t.Fatalf("unexpected user agent %s", ua)
	}
}

func TestManifestSchemaTracksContainerPackage(t *testing.T) {
	if ManifestSchema != container.ManifestSchemaVersion {
		t.Fatalf("version.ManifestSchema = %d, want %d", ManifestSchema, container.ManifestSchemaVersion)
	}
}

func containsAll(s string, parts []string) bool {
	for _, part := range parts {
		if !strings.Contains(s, part) {
			return false
		}
	}
	return true
}
