package wasmhost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/registry"
)

// emptyModule is the minimal valid WebAssembly binary: just the magic
// number and version header, no sections. It compiles and instantiates
// but exports nothing, which is enough to exercise Host without needing
// a real guest toolchain in this test.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := New(context.Background(), registry.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

// =============================================================================
// PreLink
// =============================================================================

func TestPreLinkCompilesValidModule(t *testing.T) {
	h := newTestHost(t)
	pre, err := h.PreLink(context.Background(), "core", emptyModule)
	require.NoError(t, err)
	assert.Equal(t, "core", pre.ModuleID)
	require.NoError(t, pre.Close(context.Background()))
}

func TestPreLinkRejectsGarbageBytes(t *testing.T) {
	h := newTestHost(t)
	_, err := h.PreLink(context.Background(), "core", []byte("not wasm"))
	assert.Error(t, err)
}

// =============================================================================
// Invoke
// =============================================================================

func TestInvokeReportsMissingEntrypoint(t *testing.T) {
	h := newTestHost(t)
	pre, err := h.PreLink(context.Background(), "core", emptyModule)
	require.NoError(t, err)
	defer pre.Close(context.Background())

	_, err = h.Invoke(context.Background(), pre, "app-1", "init", "does-not-exist", 0, nil)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.KindHostCallError))
}

func TestInvokeAssignsIncreasingCallSequence(t *testing.T) {
	h := newTestHost(t)
	pre, err := h.PreLink(context.Background(), "core", emptyModule)
	require.NoError(t, err)
	defer pre.Close(context.Background())

	before := h.callSeq
	_, _ = h.Invoke(context.Background(), pre, "app-1", "init", "missing", 0, nil)
	_, _ = h.Invoke(context.Background(), pre, "app-1", "init", "missing", 0, nil)
	assert.Equal(t, before+2, h.callSeq)
}
