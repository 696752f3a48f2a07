package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/hermes/internal/vfs"
)

func validManifestBytes() []byte {
	return []byte(`{"app_id":"app-1","version":"1.0.0","display_name":"App One","modules":[{"name":"core","capabilities":["kv"]}]}`)
}

func minimalFiles() map[string][]byte {
	return map[string][]byte{
		"/metadata.json":              validManifestBytes(),
		"/author.cose":                []byte("sig"),
		"/lib/core/module.wasm":       []byte("\x00asm"),
		"/lib/core/author.cose":       []byte("sig"),
		"/lib/core/metadata.json":     []byte(`{"name":"core","version":"1.0.0","capabilities":["kv"],"entrypoints":["init"]}`),
	}
}

// =============================================================================
// Load
// =============================================================================

func TestLoadBuildsBundleFromFiles(t *testing.T) {
	bundle, err := Load(minimalFiles())
	require.NoError(t, err)
	assert.Equal(t, "app-1", bundle.Manifest.AppID)
	assert.Len(t, bundle.Manifest.Modules, 1)

	data, err := bundle.Tree.Read("/lib/core/module.wasm", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm"), data)
}

func TestLoadFailsWithoutMetadata(t *testing.T) {
	files := minimalFiles()
	delete(files, "/metadata.json")
	_, err := Load(files)
	assert.Error(t, err)
}

// =============================================================================
// Validate
// =============================================================================

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	bundle, err := Load(minimalFiles())
	require.NoError(t, err)
	require.NoError(t, bundle.Manifest.Validate(bundle.Tree))
}

func TestValidateRejectsMissingAppID(t *testing.T) {
	m := &Manifest{Version: "1.0.0"}
	tree := vfs.New()
	err := m.Validate(tree)
	assert.Error(t, err)
}

func TestValidateRejectsReservedSrvWwwApi(t *testing.T) {
	files := minimalFiles()
	files["/srv/www/api/index.html"] = []byte("nope")
	bundle, err := Load(files)
	require.NoError(t, err)
	err = bundle.Manifest.Validate(bundle.Tree)
	assert.Error(t, err)
}

func TestValidateRejectsPackageWithoutModuleOrStaticAssets(t *testing.T) {
	m := &Manifest{AppID: "app-1", Version: "1.0.0"}
	tree := vfs.New()
	_, _ = tree.Mount("/author.cose", []byte("sig"))
	err := m.Validate(tree)
	assert.Error(t, err)
}

func TestValidateRejectsModuleMissingWasm(t *testing.T) {
	files := minimalFiles()
	delete(files, "/lib/core/module.wasm")
	bundle, err := Load(files)
	require.NoError(t, err)
	err = bundle.Manifest.Validate(bundle.Tree)
	assert.Error(t, err)
}

func TestValidateRejectsMissingTopLevelSignature(t *testing.T) {
	files := minimalFiles()
	delete(files, "/author.cose")
	bundle, err := Load(files)
	require.NoError(t, err)
	err = bundle.Manifest.Validate(bundle.Tree)
	assert.Error(t, err)
}

func TestValidateAcceptsStaticOnlyPackage(t *testing.T) {
	m := &Manifest{AppID: "app-2", Version: "1.0.0"}
	tree := vfs.New()
	_, _ = tree.Mount("/srv/www/index.html", []byte("hi"))
	_, _ = tree.Mount("/author.cose", []byte("sig"))
	require.NoError(t, m.Validate(tree))
}

// =============================================================================
// Manifest parsing
// =============================================================================

func TestParseManifestRejectsInvalidJSON(t *testing.T) {
	_, err := ParseManifest([]byte("not-json"))
	assert.Error(t, err)
}

func TestParseModuleManifestRoundtrip(t *testing.T) {
	raw := []byte(`{"name":"core","version":"1.0.0","capabilities":["kv","timer"],"entrypoints":["init","handle-http"]}`)
	m, err := ParseModuleManifest(raw)
	require.NoError(t, err)
	assert.Equal(t, "core", m.Name)
	assert.Equal(t, []string{"kv", "timer"}, m.Capabilities)
}
