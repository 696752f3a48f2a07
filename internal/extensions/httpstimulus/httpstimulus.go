// Package httpstimulus adapts inbound HTTP requests into dispatch-queue
// events and blocks for the module's reply, letting a guest module serve
// dynamic HTTP traffic (§4.3, §6.4) as opposed to the static file surface
// served directly from the VFS overlay.
package httpstimulus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-network/hermes/internal/events"
	"github.com/r3e-network/hermes/internal/herrors"
)

// Extension is not itself a registry.Extension (guest modules never call
// into it directly); it is the engine-side half of the HTTP stimulus
// path, registered alongside the Runtime-Extension Registry but invoked
// from the HTTP router rather than from a guest import.
type Extension struct {
	queue   *events.Queue
	timeout time.Duration
}

// New returns an httpstimulus adapter that enqueues requests onto queue.
func New(queue *events.Queue, timeout time.Duration) *Extension {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Extension{queue: queue, timeout: timeout}
}

// Route registers a handler on router that turns the request's method,
// path and query parameters into an event targeting applicationID/moduleID
// and waits for its single reply.
func (e *Extension) Route(router *mux.Router, pattern, applicationID, moduleID, eventName, entrypoint string) {
	router.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		e.serve(w, r, applicationID, moduleID, eventName, entrypoint)
	})
}

func (e *Extension) serve(w http.ResponseWriter, r *http.Request, applicationID, moduleID, eventName, entrypoint string) {
	ctx, cancel := context.WithTimeout(r.Context(), e.timeout)
	defer cancel()

	body := struct {
		Method string            `json:"method"`
		Path   string            `json:"path"`
		Query  map[string]string `json:"query"`
	}{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  flattenQuery(r.URL.Query()),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "encode request", http.StatusInternalServerError)
		return
	}

	reply := make(chan events.Outcome, 1)
	env := &events.Envelope{
		SourceID:   "http:" + r.RemoteAddr,
		EventName:  eventName,
		Entrypoint: entrypoint,
		Payload:    payload,
		Target: events.Target{
			Applications: []string{applicationID},
			Modules:      []string{moduleID},
		},
		Reply: reply,
	}

	if err := e.queue.Enqueue(env); err != nil {
		if herrors.Is(err, herrors.KindBackpressure) {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	select {
	case <-ctx.Done():
		http.Error(w, "request timed out", http.StatusGatewayTimeout)
	case outcome := <-reply:
		if outcome.Err != nil {
			http.Error(w, outcome.Err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
	}
}

func flattenQuery(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
