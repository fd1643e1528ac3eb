package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysPass(context.Context) error { return nil }

func alwaysFail(msg string) CheckFunc {
	return func(context.Context) error {
		return errors.New(msg)
	}
}

func serveLive(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.LiveEndpoint(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	return w
}

func serveReady(h *Health) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusBody {
	t.Helper()
	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestLiveEndpointHealthy(t *testing.T) {
	h := New()
	h.AddLivenessCheck("first", time.Second, alwaysPass)
	h.AddLivenessCheck("second", time.Second, alwaysPass)

	w := serveLive(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeStatus(t, w).Status)
}

func TestLiveEndpointNoProbes(t *testing.T) {
	h := New()

	w := serveLive(h)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeStatus(t, w).Status)
}

func TestLiveEndpointTripsAfterThreshold(t *testing.T) {
	h := New()
	p := h.register(liveness, "db", time.Second, alwaysFail("connection refused"))

	ctx := context.Background()
	for range failuresToTrip {
		p.execute(ctx)
	}

	w := serveLive(h)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestLiveEndpointBelowThreshold(t *testing.T) {
	h := New()
	p := h.register(liveness, "flaky", time.Second, alwaysFail("temporary"))

	// One failure short of the trip point: still healthy.
	ctx := context.Background()
	for range failuresToTrip - 1 {
		p.execute(ctx)
	}

	assert.Equal(t, http.StatusOK, serveLive(h).Code)
}

func TestProbeRecovers(t *testing.T) {
	failing := true
	h := New()
	p := h.register(liveness, "flaky", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	for range failuresToTrip {
		p.execute(ctx)
	}
	require.False(t, p.healthy())

	failing = false
	for range passesToRecover {
		p.execute(ctx)
	}
	assert.True(t, p.healthy(), "probe should recover after a passing streak")
}

func TestProbeLastError(t *testing.T) {
	h := New()
	p := h.register(liveness, "db", time.Second, alwaysFail("timeout"))

	assert.Nil(t, p.lastError(), "no error before the first run")

	p.execute(context.Background())
	assert.EqualError(t, p.lastError(), "timeout")
}

func TestReadyEndpointGatedOnSetReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("cache", time.Second, alwaysPass)

	// Gate is closed until SetReady(true).
	w := serveReady(h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, serveReady(h).Code)

	// Closing the gate again during shutdown drains the instance.
	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serveReady(h).Code)
}

func TestReadyEndpointReportsOnlyFailingProbes(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, alwaysPass)
	p := h.register(readiness, "cache", time.Second, alwaysFail("cache miss"))
	h.SetReady(true)

	ctx := context.Background()
	for range failuresToTrip {
		p.execute(ctx)
	}

	w := serveReady(h)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeStatus(t, w)
	assert.Contains(t, body.Checks, "cache")
	assert.NotContains(t, body.Checks, "db")
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("db", time.Second, alwaysPass)

	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestIsReadyWithTrippedProbe(t *testing.T) {
	h := New()
	p := h.register(readiness, "db", time.Second, alwaysFail("gone"))
	h.SetReady(true)

	require.True(t, h.IsReady(), "probe starts healthy")

	ctx := context.Background()
	for range failuresToTrip {
		p.execute(ctx)
	}
	assert.False(t, h.IsReady())
}

func TestStopIsIdempotent(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, alwaysPass)

	h.Start(context.Background(), 50*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentHandlersAndProbes(t *testing.T) {
	h := New()
	h.AddLivenessCheck("failing", time.Second, alwaysFail("err"))
	h.AddReadinessCheck("passing", time.Second, alwaysPass)
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				serveLive(h)
				serveReady(h)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
