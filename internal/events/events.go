// Package events implements the Event Queue & Dispatcher (§4.5): a single
// multi-producer, single-consumer FIFO queue, per-source-id ordering
// discipline with cross-source parallelism, and a worker pool sized by
// logical CPU count.
package events

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/metrics"
)

// Target describes which applications and, within them, which modules an
// event is routed to.
type Target struct {
	Broadcast    bool
	Applications []string
	Modules      []string // empty means every module of each targeted application
}

// Envelope is a typed message carrying a payload, a targeting descriptor,
// the entrypoint to invoke, and a source identifier used for ordering.
type Envelope struct {
	SourceID   string
	EventName  string
	Entrypoint string
	Payload    []byte
	Target     Target

	// Reply, if non-nil, receives outcomes for sources that couple
	// request/response (e.g. HTTP) and need their own sequencing.
	Reply chan<- Outcome

	enqueuedAt time.Time
}

// Outcome reports one (application, module) dispatch's result.
type Outcome struct {
	ApplicationID string
	ModuleID      string
	Values        []uint64
	Err           error
}

// Invoker executes one (application, module, event) triple. The engine
// supplies this to bridge the queue to the module host and application
// table without this package depending on either.
type Invoker func(ctx context.Context, applicationID, moduleID string, env *Envelope) ([]uint64, error)

// Resolver expands a Target into concrete (application, module) pairs at
// dequeue time, so applications loaded after enqueue don't retroactively
// receive the event and applications unloaded after enqueue are skipped.
type Resolver func(t Target) []Pair

// Pair names one target (application, module).
type Pair struct {
	ApplicationID string
	ModuleID      string
}

// Config sizes the queue and worker pool.
type Config struct {
	Capacity    int
	WorkerCount int
	GracePeriod time.Duration
	CallTimeout time.Duration
}

// Queue is the single MPSC channel plus worker pool described in §4.5.
type Queue struct {
	cfg      Config
	ch       chan *Envelope
	log      *logging.Logger
	metrics  *metrics.Metrics
	resolve  Resolver
	invoke   Invoker

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// sem bounds the number of envelopes being dispatched concurrently to
	// WorkerCount, the worker pool fed by the single consumer goroutine.
	sem chan struct{}

	// seqChan serializes dispatch of same-source-id events while
	// letting distinct sources run in parallel (§4.5 Ordering discipline).
	// Gates are claimed in dequeue order by the single consumer goroutine
	// so per-source FIFO is fixed at the handoff point, not at whichever
	// worker happens to win a lock race afterward.
	seqMu   sync.Mutex
	seqChan map[string]chan struct{}
}

// New builds a Queue. resolve and invoke are supplied by the engine.
func New(cfg Config, log *logging.Logger, m *metrics.Metrics, resolve Resolver, invoke Invoker) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = runtime.NumCPU()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Queue{
		cfg:     cfg,
		ch:      make(chan *Envelope, cfg.Capacity),
		log:     log,
		metrics: m,
		resolve: resolve,
		invoke:  invoke,
		sem:     make(chan struct{}, cfg.WorkerCount),
		seqChan: make(map[string]chan struct{}),
	}
}

// Enqueue submits env for dispatch. Non-blocking; returns a backpressure
// HermesError if the queue is at capacity.
func (q *Queue) Enqueue(env *Envelope) error {
	env.enqueuedAt = time.Now()
	select {
	case q.ch <- env:
		if q.metrics != nil {
			q.metrics.EventsEnqueued.WithLabelValues(env.SourceID).Inc()
			q.metrics.QueueDepth.Set(float64(len(q.ch)))
		}
		return nil
	default:
		if q.metrics != nil {
			q.metrics.EventsDropped.WithLabelValues(env.SourceID).Inc()
		}
		return herrors.Backpressure(len(q.ch))
	}
}

// Start launches the single consumer goroutine and its worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go func() {
		var wg sync.WaitGroup
		q.consume(ctx, &wg)
		wg.Wait()
		close(q.doneCh)
	}()

	q.log.WithField("workers", q.cfg.WorkerCount).Info("event dispatcher started")
}

// Stop drains the queue, honoring the configured grace period, then joins
// the worker pool (§4.5 Shutdown).
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	select {
	case <-q.doneCh:
	case <-time.After(q.cfg.GracePeriod):
		q.log.Warn("event dispatcher grace period exceeded, forcing shutdown")
	}
	q.log.Info("event dispatcher stopped")
}

// consume is the queue's single multi-producer, single-consumer reader
// (§4.5): it dequeues envelopes from ch in strict FIFO order, claims each
// one's per-source gate right there (fixing per-source order at the
// handoff point), then hands the envelope to the bounded worker pool for
// actual dispatch. wg tracks every in-flight handoff so Start's goroutine
// can join them before closing doneCh.
func (q *Queue) consume(ctx context.Context, wg *sync.WaitGroup) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case env := <-q.ch:
			if q.metrics != nil {
				q.metrics.QueueDepth.Set(float64(len(q.ch)))
			}

			mine, prev := q.claimSourceGate(env.SourceID)

			select {
			case q.sem <- struct{}{}:
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-q.sem }()
				if prev != nil {
					<-prev
				}
				q.dispatch(ctx, env)
				q.releaseSourceGate(env.SourceID, mine)
			}()
		}
	}
}

// dispatch resolves targets at dequeue time and fans out to the
// per-module invoker, enforcing same-source-id ordering via a
// per-source sequencing gate while unrelated sources interleave freely.
func (q *Queue) dispatch(ctx context.Context, env *Envelope) {
	pairs := q.resolve(env.Target)
	var wg sync.WaitGroup
	outcomes := make(chan Outcome, len(pairs))

	for _, p := range pairs {
		wg.Add(1)
		go func(p Pair) {
			defer wg.Done()
			start := time.Now()
			values, err := q.invoke(ctx, p.ApplicationID, p.ModuleID, env)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				q.log.WithField("application", p.ApplicationID).
					WithField("module", p.ModuleID).
					WithField("event", env.EventName).
					WithError(err).
					Warn("module call failed")
			}
			if q.metrics != nil {
				q.metrics.RecordDispatch(p.ModuleID, outcome, time.Since(start))
			}
			outcomes <- Outcome{ApplicationID: p.ApplicationID, ModuleID: p.ModuleID, Values: values, Err: err}
		}(p)
	}

	wg.Wait()
	close(outcomes)

	if env.Reply != nil {
		for o := range outcomes {
			env.Reply <- o
		}
	}
}

// claimSourceGate registers this dispatch's gate for sourceID, returning
// it along with the previous holder's gate if one is still in flight.
// Claiming is a non-blocking map swap: calling it only from the single
// consumer goroutine, in dequeue order, is what makes per-source ordering
// deterministic — the caller must wait on prev itself before doing any
// source-visible work, so two claims for the same source always resolve
// in the order they were dequeued.
func (q *Queue) claimSourceGate(sourceID string) (mine, prev chan struct{}) {
	if sourceID == "" {
		return nil, nil
	}
	q.seqMu.Lock()
	defer q.seqMu.Unlock()
	prev, busy := q.seqChan[sourceID]
	mine = make(chan struct{})
	q.seqChan[sourceID] = mine
	if !busy {
		return mine, nil
	}
	return mine, prev
}

func (q *Queue) releaseSourceGate(sourceID string, mine chan struct{}) {
	if sourceID == "" || mine == nil {
		return
	}
	close(mine)
	q.seqMu.Lock()
	if q.seqChan[sourceID] == mine {
		delete(q.seqChan, sourceID)
	}
	q.seqMu.Unlock()
}

// Depth returns the current queue length.
func (q *Queue) Depth() int { return len(q.ch) }
