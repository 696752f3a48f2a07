// Package wasmhost hosts WebAssembly component-model modules: each
// module's binary is parsed once into a pre-linked instance descriptor
// (§4.4 Pre-link), and every event invocation gets a fresh instantiation
// so side effects persist only through explicit host-capability calls.
package wasmhost

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/registry"
)

// Host owns the shared wazero runtime and compilation cache used across
// every application's modules.
type Host struct {
	runtime  wazero.Runtime
	registry *registry.Registry
	callSeq  uint64
}

// New builds a Host backed by a single wazero.Runtime, configured for
// the component model's deterministic, isolated-per-call execution.
func New(ctx context.Context, reg *registry.Registry) (*Host, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	return &Host{runtime: rt, registry: reg}, nil
}

// Close releases the underlying wazero runtime.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// PreLinkedInstance is the immutable descriptor produced by parsing a
// module's component binary once. It is reused across calls.
type PreLinkedInstance struct {
	ModuleID string
	compiled wazero.CompiledModule
}

// PreLink parses wasmBytes once, yielding a descriptor reused across every
// subsequent call to this module.
func (h *Host) PreLink(ctx context.Context, moduleID string, wasmBytes []byte) (*PreLinkedInstance, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module %s: %w", moduleID, err)
	}
	return &PreLinkedInstance{ModuleID: moduleID, compiled: compiled}, nil
}

// Close releases the compiled module.
func (p *PreLinkedInstance) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

// Result is an entrypoint invocation's outcome.
type Result struct {
	Values []uint64
}

// Invoke builds a fresh per-call store — a runtime context carrying
// applicationID/moduleID/eventName, a monotonic call sequence, and a new
// module instantiation — then calls the exported function named
// entrypoint with args, surfacing traps as module-trap errors (§4.4
// Failure semantics). The instantiated module is torn down on return
// regardless of outcome.
func (h *Host) Invoke(ctx context.Context, pre *PreLinkedInstance, applicationID, eventName, entrypoint string, timeout time.Duration, args []uint64) (*Result, error) {
	seq := atomic.AddUint64(&h.callSeq, 1)
	cc := registry.CallContext{
		ApplicationID: applicationID,
		ModuleID:      pre.ModuleID,
		EventName:     eventName,
		CallSeq:       seq,
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := h.registry.Link(ctx, h.runtime, cc); err != nil {
		return nil, herrors.HostCallError(pre.ModuleID, "link", err)
	}

	moduleConfig := wazero.NewModuleConfig().WithName(fmt.Sprintf("%s-%s-%d", applicationID, pre.ModuleID, seq))
	instance, err := h.runtime.InstantiateModule(ctx, pre.compiled, moduleConfig)
	if err != nil {
		if ctx.Err() != nil {
			return nil, herrors.Timeout(pre.ModuleID, eventName)
		}
		return nil, herrors.ModuleTrap(pre.ModuleID, eventName, err)
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(entrypoint)
	if fn == nil {
		return nil, herrors.HostCallError(pre.ModuleID, "missing-entrypoint",
			fmt.Errorf("module %s exports no function %q", pre.ModuleID, entrypoint))
	}

	values, err := fn.Call(ctx, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, herrors.Timeout(pre.ModuleID, eventName)
		}
		return nil, herrors.ModuleTrap(pre.ModuleID, eventName, err)
	}

	return &Result{Values: values}, nil
}

// ReadExportedMemory copies length bytes from the instantiated module's
// exported memory, used by extensions that need to read a pointer/length
// pair the guest returned.
func ReadExportedMemory(mem api.Memory, offset, length uint32) ([]byte, error) {
	buf, ok := mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d length=%d", offset, length)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}
