// Package container describes the on-disk package bundle format (§3.1):
// a hierarchical, content-addressable, signed tree carrying a bundle
// manifest, zero or more modules, and optional static assets.
package container

import (
	"encoding/json"
	"fmt"

	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/vfs"
)

// ManifestSchemaVersion is the bundle manifest schema this build of the
// host can parse. Bumped whenever a field is added or reinterpreted in a
// way older hosts can't safely ignore.
const ManifestSchemaVersion = 1

// Manifest is the bundle manifest stored at /metadata.json.
type Manifest struct {
	AppID       string            `json:"app_id"`
	Version     string            `json:"version"`
	DisplayName string            `json:"display_name"`
	Author      string            `json:"author,omitempty"`
	Description string            `json:"description,omitempty"`
	License     string            `json:"license,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Modules []ModuleDeclaration `json:"modules"`
}

// ModuleDeclaration names a module directory the application mounts under
// /lib/<name>.
type ModuleDeclaration struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// ModuleManifest is the per-module manifest stored at /lib/<m>/metadata.json.
type ModuleManifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Entrypoints  []string `json:"entrypoints"`
}

// Validate enforces the structural invariants named in §3.1: a package
// needs at least one module or at least one static asset under /srv/www,
// and /srv/www/api is reserved.
func (m *Manifest) Validate(tree *vfs.Tree) error {
	if m.AppID == "" {
		return herrors.MalformedStructure("/metadata.json: app_id is required")
	}
	if m.Version == "" {
		return herrors.MalformedStructure("/metadata.json: version is required")
	}

	if _, err := tree.Lookup("/srv/www/api"); err == nil {
		return herrors.MalformedStructure("/srv/www/api is reserved and must not exist in a package")
	}

	hasModule := len(m.Modules) > 0
	wwwEntries, _ := tree.List("/srv/www")
	hasWWW := len(wwwEntries) > 0
	if !hasModule && !hasWWW {
		return herrors.MalformedStructure("package must declare >=1 module or >=1 file under /srv/www")
	}

	for _, decl := range m.Modules {
		if decl.Name == "" {
			return herrors.MalformedStructure("module declaration missing name")
		}
		wasmPath := fmt.Sprintf("/lib/%s/module.wasm", decl.Name)
		if _, err := tree.Lookup(wasmPath); err != nil {
			return herrors.MissingRequiredFile(wasmPath)
		}
		cosePath := fmt.Sprintf("/lib/%s/author.cose", decl.Name)
		if _, err := tree.Lookup(cosePath); err != nil {
			return herrors.MissingRequiredFile(cosePath)
		}
	}

	if _, err := tree.Lookup("/author.cose"); err != nil {
		return herrors.MissingRequiredFile("/author.cose")
	}

	return nil
}

// ParseManifest decodes the manifest bytes at /metadata.json.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, herrors.SchemaViolation("/metadata.json", err)
	}
	return &m, nil
}

// ParseModuleManifest decodes a per-module manifest.
func ParseModuleManifest(raw []byte) (*ModuleManifest, error) {
	var m ModuleManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, herrors.SchemaViolation("metadata.json", err)
	}
	return &m, nil
}

// Bundle pairs a loaded VFS tree with its parsed top-level manifest.
type Bundle struct {
	Manifest *Manifest
	Tree     *vfs.Tree
}

// Load builds a Bundle from a set of named files (path -> content), as
// produced by unpacking a package archive. It materializes the fixed
// directory skeleton and mounts every file, then parses the manifest.
func Load(files map[string][]byte) (*Bundle, error) {
	tree := vfs.New()
	for _, dir := range []string{"/srv/www", "/srv/share", "/usr/lib", "/lib", "/etc", "/tmp", "/var"} {
		if err := tree.MountDir(dir); err != nil {
			return nil, err
		}
	}
	for p, content := range files {
		if _, err := tree.Mount(p, content); err != nil {
			return nil, herrors.MalformedStructure(p)
		}
	}

	raw, err := tree.Read("/metadata.json", 0, -1)
	if err != nil {
		return nil, herrors.MissingRequiredFile("/metadata.json")
	}
	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	return &Bundle{Manifest: manifest, Tree: tree}, nil
}
