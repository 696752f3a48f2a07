// Package kv implements the "kv" runtime extension: a per-application
// in-process key/value store exposed to guest modules as a host
// capability (§4.3), backed by an LRU-bounded map so no single
// application can exhaust host memory.
package kv

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/r3e-network/hermes/internal/registry"
	"github.com/r3e-network/hermes/internal/wasmhost"
)

const defaultCapacity = 4096

// Extension implements registry.Extension, exporting get/set/delete to
// guest modules under the "kv" import namespace.
type Extension struct {
	mu     sync.Mutex
	stores map[string]*lru.Cache[string, []byte]
}

// New returns an empty kv extension.
func New() *Extension {
	return &Extension{stores: make(map[string]*lru.Cache[string, []byte])}
}

func (e *Extension) Name() string { return "kv" }

func (e *Extension) storeFor(applicationID string) *lru.Cache[string, []byte] {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.stores[applicationID]
	if !ok {
		s, _ = lru.New[string, []byte](defaultCapacity)
		e.stores[applicationID] = s
	}
	return s
}

// OnContextEntered provisions the per-application store lazily; nothing
// to do here since storeFor already lazily provisions.
func (e *Extension) OnContextEntered(ctx context.Context, applicationID, moduleID string) error {
	e.storeFor(applicationID)
	return nil
}

// Shutdown releases every application's store.
func (e *Extension) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stores = make(map[string]*lru.Cache[string, []byte])
	return nil
}

// Bind wires kv-get/kv-set/kv-delete into linker for the call's
// application (§4.3 capability binding).
func (e *Extension) Bind(ctx context.Context, linker wazero.HostModuleBuilder, cc registry.CallContext) error {
	store := e.storeFor(cc.ApplicationID)

	linker.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
			key, err := wasmhost.ReadExportedMemory(m.Memory(), keyPtr, keyLen)
			if err != nil {
				return 1
			}
			val, err := wasmhost.ReadExportedMemory(m.Memory(), valPtr, valLen)
			if err != nil {
				return 1
			}
			store.Add(string(key), val)
			return 0
		}).
		Export("kv-set")

	linker.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen, outPtr, outCap uint32) uint32 {
			key, err := wasmhost.ReadExportedMemory(m.Memory(), keyPtr, keyLen)
			if err != nil {
				return 0
			}
			val, ok := store.Get(string(key))
			if !ok {
				return 0
			}
			if uint32(len(val)) > outCap {
				return 0
			}
			if !m.Memory().Write(outPtr, val) {
				return 0
			}
			return uint32(len(val))
		}).
		Export("kv-get")

	linker.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, keyPtr, keyLen uint32) uint32 {
			key, err := wasmhost.ReadExportedMemory(m.Memory(), keyPtr, keyLen)
			if err != nil {
				return 1
			}
			store.Remove(string(key))
			return 0
		}).
		Export("kv-delete")

	return nil
}
