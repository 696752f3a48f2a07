// Package httpmiddleware provides the HTTP middleware chain wrapped around
// every route on the Engine's HTTP surface (§6.4): panic recovery, security
// headers, CORS, request body limiting, per-request timeouts, per-client
// rate limiting, and request latency metrics.
package httpmiddleware

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/metrics"
)

// Chain composes the standard middleware stack in a fixed, teacher-style
// order: recovery wraps everything, then security headers, CORS, body
// limit, timeout, rate limit, and finally request metrics closest to the
// handler.
func Chain(log *logging.Logger, m *metrics.Metrics, cfg Config) func(http.Handler) http.Handler {
	recovery := NewRecovery(log)
	security := NewSecurityHeaders(nil)
	cors := NewCORS(cfg.CORS)
	bodyLimit := NewBodyLimit(cfg.MaxBodyBytes)
	timeout := NewTimeout(cfg.RequestTimeout)
	limiter := NewRateLimit(cfg.RatePerSecond, cfg.RateBurst)

	return func(next http.Handler) http.Handler {
		h := next
		h = withRequestMetrics(h, m)
		h = limiter.Handler(h)
		h = timeout.Handler(h)
		h = bodyLimit.Handler(h)
		h = cors.Handler(h)
		h = security.Handler(h)
		h = recovery.Handler(h)
		return h
	}
}

// Config tunes the middleware chain's limits.
type Config struct {
	CORS           CORSConfig
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
}

// DefaultConfig returns conservative defaults matching the teacher's
// middleware package defaults.
func DefaultConfig() Config {
	return Config{
		CORS:           CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}},
		MaxBodyBytes:   8 << 20,
		RequestTimeout: 30 * time.Second,
		RatePerSecond:  50,
		RateBurst:      100,
	}
}

// Recovery recovers from panics in downstream handlers, logging the stack
// and returning a 500 instead of crashing the worker goroutine.
type Recovery struct {
	log *logging.Logger
}

func NewRecovery(log *logging.Logger) *Recovery { return &Recovery{log: log} }

func (m *Recovery) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if m.log != nil {
					m.log.WithFields(map[string]interface{}{
						"panic":  fmt.Sprintf("%v", err),
						"stack":  string(debug.Stack()),
						"path":   r.URL.Path,
						"method": r.Method,
					}).Error("panic recovered in http handler")
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets a fixed set of response headers on every request.
type SecurityHeaders struct {
	headers map[string]string
}

func DefaultSecurityHeaders() map[string]string {
	return map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
}

func NewSecurityHeaders(headers map[string]string) *SecurityHeaders {
	if headers == nil {
		headers = DefaultSecurityHeaders()
	}
	return &SecurityHeaders{headers: headers}
}

func (s *SecurityHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range s.headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// CORSConfig configures allowed origins and methods for the CORS middleware.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
}

type CORS struct {
	cfg      CORSConfig
	allowAll bool
}

func NewCORS(cfg CORSConfig) *CORS {
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	return &CORS{cfg: cfg, allowAll: allowAll}
}

func (c *CORS) Handler(next http.Handler) http.Handler {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(c.cfg.AllowedMethods) > 0 {
		methods = ""
		for i, m := range c.cfg.AllowedMethods {
			if i > 0 {
				methods += ", "
			}
			methods += m
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (c.allowAll || c.originAllowed(origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) originAllowed(origin string) bool {
	for _, o := range c.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// BodyLimit caps request bodies so a guest-module-bound request cannot
// exhaust host memory before the application ever sees it.
type BodyLimit struct {
	maxBytes int64
}

func NewBodyLimit(maxBytes int64) *BodyLimit {
	if maxBytes <= 0 {
		maxBytes = 8 << 20
	}
	return &BodyLimit{maxBytes: maxBytes}
}

func (b *BodyLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, b.maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// Timeout bounds how long a request may run before the client sees a 503,
// independent of the queue's own per-call timeout (§4.5).
type Timeout struct {
	d time.Duration
}

func NewTimeout(d time.Duration) *Timeout {
	if d <= 0 {
		d = 30 * time.Second
	}
	return &Timeout{d: d}
}

func (t *Timeout) Handler(next http.Handler) http.Handler {
	return http.TimeoutHandler(next, t.d, "request timed out")
}

// RateLimit applies a per-client-IP token bucket (golang.org/x/time/rate),
// evicting idle buckets is intentionally left out: the set is bounded by
// distinct concurrent client IPs, which operators can cap with BodyLimit
// and a reverse proxy in front.
type RateLimit struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimit(perSecond float64, burst int) *RateLimit {
	if perSecond <= 0 {
		perSecond = 50
	}
	if burst <= 0 {
		burst = 100
	}
	return &RateLimit{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *RateLimit) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if !rl.limiterFor(key).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRequestMetrics records request latency using the histogram the
// dispatch queue also writes to, labeled http:<status> so it is visible
// alongside module dispatch latency.
func withRequestMetrics(next http.Handler, m *metrics.Metrics) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.DispatchDuration.WithLabelValues("http:" + strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
