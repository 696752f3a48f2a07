// Package vfs implements the hierarchical virtual filesystem each
// application is presented: an immutable package tree overlaid with
// writable engine-managed regions, with deterministic subtree hashing so
// signature verification never needs per-file enumeration by the caller.
package vfs

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/r3e-network/hermes/internal/herrors"
)

// NodeType distinguishes directories from files.
type NodeType int

const (
	NodeDir NodeType = iota
	NodeFile
)

// Node is one entry in the tree: a directory (with children) or a file
// (with content bytes).
type Node struct {
	Name     string
	Type     NodeType
	Content  []byte
	Children map[string]*Node
}

func newDir(name string) *Node {
	return &Node{Name: name, Type: NodeDir, Children: make(map[string]*Node)}
}

func newFile(name string, content []byte) *Node {
	return &Node{Name: name, Type: NodeFile, Content: content}
}

// OverlayID identifies a mounted overlay so it can later be unmounted.
type OverlayID string

type overlay struct {
	id   OverlayID
	path string
	node *Node
}

// Tree is a mutable VFS instance: an immutable base plus zero or more
// mounted overlays, resolved eagerly in mount order so precedence is
// frozen at mount time (§4.1).
type Tree struct {
	mu       sync.RWMutex
	root     *Node
	overlays []overlay
}

// writable prefixes: reads/writes outside these and the package tree fail.
var writablePrefixes = []string{"/etc", "/tmp", "/var"}

// New returns an empty tree with just a root directory.
func New() *Tree {
	return &Tree{root: newDir("")}
}

// normalize cleans a path, rejecting empty segments and traversal.
func normalize(p string) (string, error) {
	if p == "" {
		return "", herrors.New(herrors.KindPackageInvalid, "empty path")
	}
	clean := path.Clean("/" + p)
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path traversal rejected: %q", p)
		}
	}
	return clean, nil
}

func segments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Mount attaches content at path, recorded as a new overlay. Returns an
// OverlayID that can later be passed to Unmount. Overlays resolve by
// mount order: a later mount at the same path shadows an earlier one.
func (t *Tree) Mount(p string, content []byte) (OverlayID, error) {
	clean, err := normalize(p)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	id := OverlayID(uuid.NewString())
	node := t.insert(clean, content)
	t.overlays = append(t.overlays, overlay{id: id, path: clean, node: node})
	return id, nil
}

// MountDir ensures clean exists as a directory without attaching content,
// used to materialize the package tree's fixed directories.
func (t *Tree) MountDir(p string) error {
	clean, err := normalize(p)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mkdirAll(clean)
	return nil
}

func (t *Tree) insert(clean string, content []byte) *Node {
	segs := segments(clean)
	if len(segs) == 0 {
		t.root.Content = content
		t.root.Type = NodeFile
		return t.root
	}
	dir := t.mkdirAll("/" + strings.Join(segs[:len(segs)-1], "/"))
	leaf := segs[len(segs)-1]
	node := newFile(leaf, content)
	dir.Children[leaf] = node
	return node
}

func (t *Tree) mkdirAll(clean string) *Node {
	cur := t.root
	for _, seg := range segments(clean) {
		child, ok := cur.Children[seg]
		if !ok || child.Type != NodeDir {
			child = newDir(seg)
			cur.Children[seg] = child
		}
		cur = child
	}
	return cur
}

// Unmount removes the overlay identified by id. It does not attempt to
// restore whatever the overlay shadowed; re-mounting the remaining
// overlays from scratch is the caller's responsibility if that matters.
func (t *Tree) Unmount(id OverlayID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ov := range t.overlays {
		if ov.id == id {
			t.overlays = append(t.overlays[:i], t.overlays[i+1:]...)
			t.removePath(ov.path)
			return nil
		}
	}
	return fmt.Errorf("overlay %s not found", id)
}

func (t *Tree) removePath(clean string) {
	segs := segments(clean)
	if len(segs) == 0 {
		t.root = newDir("")
		return
	}
	dir := t.walk(segs[:len(segs)-1])
	if dir != nil {
		delete(dir.Children, segs[len(segs)-1])
	}
}

func (t *Tree) walk(segs []string) *Node {
	cur := t.root
	for _, seg := range segs {
		child, ok := cur.Children[seg]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// Lookup resolves p to its node.
func (t *Tree) Lookup(p string) (*Node, error) {
	clean, err := normalize(p)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	node := t.walk(segments(clean))
	if node == nil {
		return nil, fmt.Errorf("not found: %s", p)
	}
	return node, nil
}

func isWritable(clean string) bool {
	for _, prefix := range writablePrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return true
		}
	}
	return false
}

// Read returns up to length bytes of the file at p, starting at offset; a
// negative length reads to the end of the file. Read applies no
// permission check: any file in the tree can be read, and only Write
// restricts its destination to /etc, /tmp and /var.
func (t *Tree) Read(p string, offset, length int) ([]byte, error) {
	node, err := t.Lookup(p)
	if err != nil {
		return nil, err
	}
	if node.Type != NodeFile {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	if offset < 0 || offset > len(node.Content) {
		return nil, fmt.Errorf("offset out of range")
	}
	end := offset + length
	if length < 0 || end > len(node.Content) {
		end = len(node.Content)
	}
	return node.Content[offset:end], nil
}

// Write stores content at p. Only /etc, /tmp and /var accept writes; any
// other destination fails with permission-denied (§4.1 Safety).
func (t *Tree) Write(p string, content []byte) error {
	clean, err := normalize(p)
	if err != nil {
		return err
	}
	if !isWritable(clean) {
		return fmt.Errorf("permission-denied: %s is not writable", p)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(clean, content)
	return nil
}

// List returns the names of entries directly under dir, sorted.
func (t *Tree) List(dir string) ([]string, error) {
	node, err := t.Lookup(dir)
	if err != nil {
		return nil, err
	}
	if node.Type != NodeDir {
		return nil, fmt.Errorf("%s is a file", dir)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(node.Children))
	for name := range node.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Hash computes a deterministic digest over the canonical serialization
// of names, types and contents under subtree root, in lexicographic
// order (§4.1 Subtree hashing).
func (t *Tree) Hash(root string) ([]byte, error) {
	node, err := t.Lookup(root)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := sha256.New()
	hashNode(h, node)
	return h.Sum(nil), nil
}

func hashNode(h interface{ Write([]byte) (int, error) }, n *Node) {
	switch n.Type {
	case NodeFile:
		h.Write([]byte{'F'})
		writeUint64(h, uint64(len(n.Content)))
		h.Write(n.Content)
	case NodeDir:
		h.Write([]byte{'D'})
		names := make([]string, 0, len(n.Children))
		for name := range n.Children {
			names = append(names, name)
		}
		sort.Strings(names)
		writeUint64(h, uint64(len(names)))
		for _, name := range names {
			h.Write([]byte(name))
			h.Write([]byte{0})
			hashNode(h, n.Children[name])
		}
	}
}

func writeUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// Equal reports whether two digests are identical, provided as a small
// convenience so callers don't reach for bytes.Equal directly everywhere.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
