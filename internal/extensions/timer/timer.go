// Package timer implements the "timer" runtime extension: guest modules
// schedule a cron expression to fire a named event back into the engine's
// dispatch queue (§4.3, §6.2), backed by robfig/cron.
package timer

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/r3e-network/hermes/internal/events"
	"github.com/r3e-network/hermes/internal/registry"
	"github.com/r3e-network/hermes/internal/wasmhost"
)

// Extension schedules cron jobs per application that enqueue an event
// back onto the shared dispatch queue when they fire.
type Extension struct {
	queue *events.Queue

	mu   sync.Mutex
	cron map[string]*cron.Cron // applicationID -> scheduler
	ids  map[string]map[int]cron.EntryID
}

// New returns a timer extension that enqueues fired events onto queue.
func New(queue *events.Queue) *Extension {
	return &Extension{
		queue: queue,
		cron:  make(map[string]*cron.Cron),
		ids:   make(map[string]map[int]cron.EntryID),
	}
}

func (e *Extension) Name() string { return "timer" }

func (e *Extension) schedulerFor(applicationID string) *cron.Cron {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.cron[applicationID]
	if !ok {
		c = cron.New(cron.WithSeconds())
		e.cron[applicationID] = c
		e.ids[applicationID] = make(map[int]cron.EntryID)
		c.Start()
	}
	return c
}

// OnContextEntered starts the per-application scheduler lazily.
func (e *Extension) OnContextEntered(ctx context.Context, applicationID, moduleID string) error {
	e.schedulerFor(applicationID)
	return nil
}

// Shutdown stops every application's scheduler.
func (e *Extension) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.cron {
		c.Stop()
	}
	e.cron = make(map[string]*cron.Cron)
	e.ids = make(map[string]map[int]cron.EntryID)
	return nil
}

// Bind wires timer-schedule/timer-cancel into linker for the call's
// application and module.
func (e *Extension) Bind(ctx context.Context, linker wazero.HostModuleBuilder, cc registry.CallContext) error {
	scheduler := e.schedulerFor(cc.ApplicationID)
	applicationID := cc.ApplicationID
	moduleID := cc.ModuleID

	linker.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, exprPtr, exprLen, eventPtr, eventLen uint32, handle uint32) uint32 {
			expr, err := wasmhost.ReadExportedMemory(m.Memory(), exprPtr, exprLen)
			if err != nil {
				return 1
			}
			eventName, err := wasmhost.ReadExportedMemory(m.Memory(), eventPtr, eventLen)
			if err != nil {
				return 1
			}

			id, err := scheduler.AddFunc(string(expr), func() {
				env := &events.Envelope{
					SourceID:  "timer:" + applicationID,
					EventName: string(eventName),
					Target: events.Target{
						Applications: []string{applicationID},
						Modules:      []string{moduleID},
					},
				}
				_ = e.queue.Enqueue(env)
			})
			if err != nil {
				return 1
			}

			e.mu.Lock()
			e.ids[applicationID][int(handle)] = id
			e.mu.Unlock()
			return 0
		}).
		Export("timer-schedule")

	linker.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, handle uint32) uint32 {
			e.mu.Lock()
			id, ok := e.ids[applicationID][int(handle)]
			if ok {
				delete(e.ids[applicationID], int(handle))
			}
			e.mu.Unlock()
			if !ok {
				return 1
			}
			scheduler.Remove(id)
			return 0
		}).
		Export("timer-cancel")

	return nil
}
