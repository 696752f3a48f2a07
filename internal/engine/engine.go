// Package engine implements the Engine Orchestrator: the facade that
// composes the module host, event dispatcher, application lifecycle
// table, runtime-extension registry, document-sync channels and HTTP
// surface into one running process.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/r3e-network/hermes/internal/config"
	"github.com/r3e-network/hermes/internal/container"
	"github.com/r3e-network/hermes/internal/contentnet"
	"github.com/r3e-network/hermes/internal/docsync"
	"github.com/r3e-network/hermes/internal/events"
	"github.com/r3e-network/hermes/internal/extensions/httpstimulus"
	"github.com/r3e-network/hermes/internal/extensions/kv"
	"github.com/r3e-network/hermes/internal/extensions/timer"
	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/httpmiddleware"
	"github.com/r3e-network/hermes/internal/httpsurface"
	"github.com/r3e-network/hermes/internal/lifecycle"
	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/metrics"
	"github.com/r3e-network/hermes/internal/registry"
	"github.com/r3e-network/hermes/internal/trust"
	"github.com/r3e-network/hermes/internal/validator"
	"github.com/r3e-network/hermes/internal/wasmhost"
)

// httpEntrypoint is the conventional module export name the engine
// routes dynamic HTTP requests to, when a module declares it.
const httpEntrypoint = "handle-http"

// initEntrypoint is the optional per-module entrypoint invoked once, in
// declaration order, while an application transitions out of the
// initialized state (§4.6). A false return fails the application.
const initEntrypoint = "init"

func hasEntrypoint(entrypoints []string, name string) bool {
	for _, e := range entrypoints {
		if e == name {
			return true
		}
	}
	return false
}

// application is the engine's bookkeeping for one mounted application:
// its descriptor, lifecycle state machine, and pre-linked modules.
type application struct {
	descriptor *validator.Descriptor
	lifecycle  *lifecycle.Application
	modules    map[string]*wasmhost.PreLinkedInstance // module name -> pre-link
	manifests  map[string]*container.ModuleManifest
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithContentNetwork supplies the content-addressed storage collaborator
// used by document-sync channels.
func WithContentNetwork(n contentnet.Network) Option {
	return func(e *Engine) { e.net = n }
}

// Engine composes every Hermes subsystem behind a single facade,
// following the orchestrator-over-subsystems shape: unexported fields,
// delegating methods, functional-option constructor.
type Engine struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics

	trustStore *trust.Store
	registry   *registry.Registry
	host       *wasmhost.Host
	queue      *events.Queue
	surface    *httpsurface.Surface
	httpServer *http.Server
	net        contentnet.Network

	identity *docsync.PeerIdentity

	mu      sync.RWMutex
	apps    map[string]*application
	docsync map[string]*docsync.Channel // channel base -> Channel, one per distinct app/topic

	kvExt   *kv.Extension
	timerExt *timer.Extension
	httpExt *httpstimulus.Extension
}

// New constructs an Engine from cfg, wiring every subsystem together
// (teacher's facade-over-subsystems `system/core/engine.go` shape).
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, opts ...Option) (*Engine, error) {
	m := metrics.New(nil)

	reg := registry.New()
	host, err := wasmhost.New(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("init module host: %w", err)
	}

	identity, err := docsync.NewPeerIdentity()
	if err != nil {
		return nil, fmt.Errorf("generate peer identity: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		trustStore: trust.NewStore(),
		registry:   reg,
		host:       host,
		surface:    httpsurface.New(log, httpmiddleware.Chain(log, m, httpmiddleware.DefaultConfig())),
		identity:   identity,
		apps:       make(map[string]*application),
		docsync:    make(map[string]*docsync.Channel),
		kvExt:      kv.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	// The queue's resolver/invoker are bound method values on e; safe to
	// take before e's remaining fields are populated below, since the
	// queue only calls them once Start has been invoked.
	e.queue = events.New(events.Config{
		Capacity:    cfg.Queue.Capacity,
		WorkerCount: cfg.Queue.WorkerCount,
		GracePeriod: cfg.Queue.GracePeriod,
		CallTimeout: cfg.Queue.CallTimeout,
	}, log, m, e.resolveTargets, e.invokeModule)

	e.timerExt = timer.New(e.queue)
	e.httpExt = httpstimulus.New(e.queue, cfg.Queue.CallTimeout)

	reg.Register(e.kvExt)
	reg.Register(e.timerExt)

	return e, nil
}

// Start launches the event dispatcher workers and the HTTP surface.
func (e *Engine) Start(ctx context.Context) error {
	e.queue.Start(ctx)

	addr := fmt.Sprintf("%s:%d", e.cfg.HTTP.Host, e.cfg.HTTP.Port)
	e.surface.MountMetrics("/metrics", promhttp.Handler())
	e.httpServer = &http.Server{Addr: addr, Handler: e.surface.Handler()}

	go func() {
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.WithError(err).Error("http surface stopped unexpectedly")
		}
	}()

	e.log.WithField("addr", addr).Info("engine started")
	return nil
}

// Stop drains the event queue, tears down every application's modules,
// shuts down the extension registry, and stops the HTTP surface.
func (e *Engine) Stop(ctx context.Context) error {
	if e.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = e.httpServer.Shutdown(shutdownCtx)
	}

	e.queue.Stop()

	e.mu.RLock()
	apps := make([]*application, 0, len(e.apps))
	for _, a := range e.apps {
		apps = append(apps, a)
	}
	e.mu.RUnlock()

	var g errgroup.Group
	for _, a := range apps {
		a := a
		g.Go(func() error {
			_ = a.lifecycle.Advance(lifecycle.StateDraining)
			_ = a.lifecycle.AwaitDrainTimeout(e.cfg.Queue.GracePeriod)
			for _, pre := range a.modules {
				_ = pre.Close(ctx)
			}
			return a.lifecycle.Advance(lifecycle.StateStopped)
		})
	}
	if err := g.Wait(); err != nil {
		e.log.WithError(err).Warn("one or more applications failed to stop cleanly")
	}

	if err := e.registry.Shutdown(ctx); err != nil {
		e.log.WithError(err).Warn("extension shutdown reported an error")
	}

	return e.host.Close(ctx)
}

// TrustStore exposes the certificate store so callers can provision
// trust anchors before loading packages.
func (e *Engine) TrustStore() *trust.Store { return e.trustStore }

// HTTPSurface exposes the router for tests that want to drive requests
// directly without a listening socket.
func (e *Engine) HTTPSurface() *httpsurface.Surface { return e.surface }

// LoadApplication validates bundle against sigs and the engine's trust
// store, pre-links every declared module, and advances the application
// through validating -> mounting -> instantiating -> initialized.
func (e *Engine) LoadApplication(ctx context.Context, bundle *container.Bundle, sigs validator.Signatures) error {
	desc, err := validator.Validate(bundle, sigs, e.trustStore, e.metrics)
	if err != nil {
		return err
	}

	app := &application{
		descriptor: desc,
		lifecycle:  lifecycle.New(),
		modules:    make(map[string]*wasmhost.PreLinkedInstance),
		manifests:  make(map[string]*container.ModuleManifest),
	}

	if err := app.lifecycle.Advance(lifecycle.StateMounting); err != nil {
		return err
	}
	if err := app.lifecycle.Advance(lifecycle.StateInstantiating); err != nil {
		return err
	}

	for _, decl := range desc.Manifest.Modules {
		wasmPath := fmt.Sprintf("/lib/%s/module.wasm", decl.Name)
		raw, err := bundle.Tree.Read(wasmPath, 0, -1)
		if err != nil {
			app.lifecycle.Fail(err)
			return herrors.MissingRequiredFile(wasmPath)
		}
		pre, err := e.host.PreLink(ctx, decl.Name, raw)
		if err != nil {
			app.lifecycle.Fail(err)
			return err
		}
		app.modules[decl.Name] = pre

		mmPath := fmt.Sprintf("/lib/%s/metadata.json", decl.Name)
		if mmRaw, err := bundle.Tree.Read(mmPath, 0, -1); err == nil {
			if mm, err := container.ParseModuleManifest(mmRaw); err == nil {
				app.manifests[decl.Name] = mm
			}
		}
	}

	if err := app.lifecycle.Advance(lifecycle.StateInitialized); err != nil {
		return err
	}

	for _, decl := range desc.Manifest.Modules {
		mm, ok := app.manifests[decl.Name]
		if !ok || !hasEntrypoint(mm.Entrypoints, initEntrypoint) {
			continue
		}
		pre := app.modules[decl.Name]
		result, err := e.host.Invoke(ctx, pre, desc.Manifest.AppID, initEntrypoint, initEntrypoint, e.cfg.Queue.CallTimeout, nil)
		if err != nil {
			app.lifecycle.Fail(err)
			return err
		}
		if len(result.Values) > 0 && result.Values[0] == 0 {
			err := fmt.Errorf("module %s init returned false", decl.Name)
			app.lifecycle.Fail(err)
			return err
		}
	}

	if err := app.lifecycle.Advance(lifecycle.StateRunning); err != nil {
		return err
	}

	e.mu.Lock()
	e.apps[desc.Manifest.AppID] = app
	e.mu.Unlock()

	var dynamic http.HandlerFunc
	for modName, mm := range app.manifests {
		if hasEntrypoint(mm.Entrypoints, httpEntrypoint) {
			moduleID, appID := modName, desc.Manifest.AppID
			router := mux.NewRouter()
			e.httpExt.Route(router, "/", appID, moduleID, "http.request", httpEntrypoint)
			dynamic = router.ServeHTTP
			break
		}
	}

	e.surface.Mount(httpsurface.AppRoute{
		ApplicationID:  desc.Manifest.AppID,
		PathPrefix:     "/" + desc.Manifest.AppID,
		Tree:           desc.Tree,
		DynamicHandler: dynamic,
	})

	if e.metrics != nil {
		e.metrics.ApplicationsRunning.Inc()
	}
	e.log.WithField("application", desc.Manifest.AppID).Info("application running")
	return nil
}

// UnloadApplication drains and stops applicationID, releasing its
// pre-linked modules.
func (e *Engine) UnloadApplication(ctx context.Context, applicationID string) error {
	e.mu.Lock()
	app, ok := e.apps[applicationID]
	if ok {
		delete(e.apps, applicationID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown application: %s", applicationID)
	}

	if err := app.lifecycle.Advance(lifecycle.StateDraining); err != nil {
		return err
	}
	if err := app.lifecycle.AwaitDrainTimeout(e.cfg.Queue.GracePeriod); err != nil {
		e.log.WithField("application", applicationID).Warn("drain timed out, forcing stop")
	}
	for _, pre := range app.modules {
		_ = pre.Close(ctx)
	}
	if err := app.lifecycle.Advance(lifecycle.StateStopped); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.ApplicationsRunning.Dec()
	}
	return nil
}

// Dispatch enqueues env for routing (§4.5); it is the engine's public
// entry point onto the dispatch queue. The timer and HTTP stimulus
// extensions hold the queue itself and enqueue onto it directly.
func (e *Engine) Dispatch(env *events.Envelope) error {
	return e.queue.Enqueue(env)
}

// resolveTargets expands a Target into concrete (application, module)
// pairs at dequeue time (§4.5), skipping applications that are not
// currently accepting events.
func (e *Engine) resolveTargets(t events.Target) []events.Pair {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var appIDs []string
	if t.Broadcast {
		for id := range e.apps {
			appIDs = append(appIDs, id)
		}
	} else {
		appIDs = t.Applications
	}

	var pairs []events.Pair
	for _, appID := range appIDs {
		app, ok := e.apps[appID]
		if !ok || !app.lifecycle.AcceptEvent() {
			continue
		}
		modules := t.Modules
		if len(modules) == 0 {
			for name := range app.modules {
				modules = append(modules, name)
			}
		}
		for _, modName := range modules {
			if _, ok := app.modules[modName]; ok {
				pairs = append(pairs, events.Pair{ApplicationID: appID, ModuleID: modName})
			}
		}
	}
	return pairs
}

// invokeModule bridges the dispatch queue to the module host: claims an
// in-flight call slot via lifecycle.CallGuard, resolves the entrypoint,
// and invokes it.
func (e *Engine) invokeModule(ctx context.Context, applicationID, moduleID string, env *events.Envelope) ([]uint64, error) {
	e.mu.RLock()
	app, ok := e.apps[applicationID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown application: %s", applicationID)
	}

	guard := lifecycle.NewCallGuard(app.lifecycle)
	if guard == nil {
		return nil, herrors.Shutdown()
	}
	defer guard.Release()

	pre, ok := app.modules[moduleID]
	if !ok {
		return nil, fmt.Errorf("unknown module: %s/%s", applicationID, moduleID)
	}

	entrypoint := env.Entrypoint
	if entrypoint == "" {
		entrypoint = env.EventName
	}

	result, err := e.host.Invoke(ctx, pre, applicationID, env.EventName, entrypoint, e.cfg.Queue.CallTimeout, nil)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ModuleTraps.WithLabelValues(moduleID).Inc()
		}
		return nil, err
	}
	return result.Values, nil
}

// OpenDocSyncChannel lazily creates and subscribes a document-sync
// channel for base, wiring it to the engine's content network.
func (e *Engine) OpenDocSyncChannel(ctx context.Context, base string) (*docsync.Channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.docsync[base]; ok {
		return ch, nil
	}
	if e.net == nil {
		return nil, fmt.Errorf("no content network configured")
	}

	cfg := docsync.Config{
		BackoffMin:     e.cfg.DocSync.BackoffMin,
		BackoffMax:     e.cfg.DocSync.BackoffMax,
		JitterMin:      e.cfg.DocSync.JitterMin,
		JitterMax:      e.cfg.DocSync.JitterMax,
		ManifestTTL:    e.cfg.DocSync.ManifestTTL,
		MaxInlineBytes: e.cfg.DocSync.MaxInlineBytes,
		MaxRounds:      e.cfg.DocSync.MaxRounds,
	}
	ch, err := docsync.NewChannel(base, e.identity, e.net, cfg, e.log, e.metrics)
	if err != nil {
		return nil, err
	}
	if err := ch.Subscribe(ctx); err != nil {
		return nil, err
	}
	e.docsync[base] = ch
	return ch, nil
}
