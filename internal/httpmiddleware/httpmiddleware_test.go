package httpmiddleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/metrics"
)

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

// =============================================================================
// Recovery
// =============================================================================

func TestRecoveryConvertsPanicToServerError(t *testing.T) {
	r := NewRecovery(logging.NewDefault("test"))
	h := r.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoveryPassesThroughNormalRequests(t *testing.T) {
	r := NewRecovery(nil)
	h := r.Handler(http.HandlerFunc(ok))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// SecurityHeaders
// =============================================================================

func TestSecurityHeadersSetsDefaults(t *testing.T) {
	s := NewSecurityHeaders(nil)
	h := s.Handler(http.HandlerFunc(ok))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

// =============================================================================
// CORS
// =============================================================================

func TestCORSAllowsWildcardOrigin(t *testing.T) {
	c := NewCORS(CORSConfig{AllowedOrigins: []string{"*"}})
	h := c.Handler(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	c := NewCORS(CORSConfig{AllowedOrigins: []string{"https://allowed.example"}})
	h := c.Handler(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSShortCircuitsPreflight(t *testing.T) {
	called := false
	c := NewCORS(CORSConfig{AllowedOrigins: []string{"*"}})
	h := c.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, called, "OPTIONS preflight must not reach the wrapped handler")
}

// =============================================================================
// BodyLimit
// =============================================================================

func TestBodyLimitRejectsOversizedBody(t *testing.T) {
	b := NewBodyLimit(4)
	h := b.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body exceeds four bytes"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestBodyLimitAllowsSmallBody(t *testing.T) {
	b := NewBodyLimit(1024)
	h := b.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// Timeout
// =============================================================================

func TestTimeoutHandlerTimesOutSlowHandler(t *testing.T) {
	tm := NewTimeout(10 * time.Millisecond)
	h := tm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// =============================================================================
// RateLimit
// =============================================================================

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimit(1, 2)
	h := rl.Handler(http.HandlerFunc(ok))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1111"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	rl := NewRateLimit(1, 1)
	h := rl.Handler(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1111"
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req)
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestRateLimitTracksDistinctClientsSeparately(t *testing.T) {
	rl := NewRateLimit(1, 1)
	h := rl.Handler(http.HandlerFunc(ok))

	reqA := httptest.NewRequest(http.MethodGet, "/", nil)
	reqA.RemoteAddr = "10.0.0.3:1111"
	recA := httptest.NewRecorder()
	h.ServeHTTP(recA, reqA)
	require.Equal(t, http.StatusOK, recA.Code)

	reqB := httptest.NewRequest(http.MethodGet, "/", nil)
	reqB.RemoteAddr = "10.0.0.4:1111"
	recB := httptest.NewRecorder()
	h.ServeHTTP(recB, reqB)
	assert.Equal(t, http.StatusOK, recB.Code)
}

// =============================================================================
// Chain
// =============================================================================

func TestChainWrapsHandlerAndRecordsMetrics(t *testing.T) {
	m := metrics.New(nil)
	chain := Chain(logging.NewDefault("test"), m, DefaultConfig())
	h := chain(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1111"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var observed dto.Metric
	require.NoError(t, m.DispatchDuration.WithLabelValues("http:200").(prometheus.Histogram).Write(&observed))
	assert.Equal(t, uint64(1), observed.GetHistogram().GetSampleCount())
}
