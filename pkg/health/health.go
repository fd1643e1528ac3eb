// Package health exposes /livez and /readyz endpoints backed by periodic
// background probes. Probe state is damped the way Kubernetes does it:
// a probe has to fail several times in a row before it trips, and a single
// pass brings it back, so one slow database ping never flips readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type probeKind int

const (
	liveness probeKind = iota
	readiness
)

const (
	failuresToTrip  = 3
	passesToRecover = 1
)

// probe couples a CheckFunc with its flap-damping state. The streak counters
// are touched only by the loop goroutine that owns the probe; ok and lastErr
// are also read by HTTP handlers and so go through atomics.
type probe struct {
	name    string
	kind    probeKind
	timeout time.Duration
	fn      CheckFunc

	ok      atomic.Bool
	lastErr atomic.Pointer[error]

	failStreak int
	passStreak int
}

func (p *probe) healthy() bool { return p.ok.Load() }

func (p *probe) lastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// execute runs the probe once and updates the trip state. Must only be
// called from the probe's own goroutine.
func (p *probe) execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.passStreak = 0
		p.failStreak++
		if p.failStreak >= failuresToTrip {
			p.ok.Store(false)
		}
		return
	}

	p.failStreak = 0
	p.passStreak++
	if p.passStreak >= passesToRecover {
		p.ok.Store(true)
	}
}

func (p *probe) loop(ctx context.Context, every time.Duration) {
	// First result right away, not one interval from now.
	p.execute(ctx)

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.execute(ctx)
		}
	}
}

// Health aggregates probes and serves their combined state over HTTP.
type Health struct {
	ready atomic.Bool

	// mu guards probes and cancel. Handlers snapshot the slice under RLock
	// and release before touching probe state.
	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New returns a Health with no probes. The service reports not-ready until
// SetReady(true) is called after startup finishes.
func New() *Health {
	return &Health{}
}

func (h *Health) register(kind probeKind, name string, timeout time.Duration, fn CheckFunc) *probe {
	p := &probe{name: name, kind: kind, timeout: timeout, fn: fn}
	p.ok.Store(true) // healthy until the failure threshold says otherwise

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
	return p
}

// AddLivenessCheck registers a probe that answers "is this process stuck":
// goroutine counts, GC pauses, event loop starvation.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.register(liveness, name, timeout, fn)
}

// AddReadinessCheck registers a probe that answers "can this process serve
// traffic": database reachability, cache warmup, downstream availability.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.register(readiness, name, timeout, fn)
}

// Start launches one goroutine per registered probe, each re-running its
// check at the given interval until the context is cancelled or Stop is
// called. Register all probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := slices.Clone(h.probes)
	h.mu.Unlock()

	for _, p := range probes {
		go p.loop(ctx, interval)
	}
}

// Stop cancels the probe goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate. Call with true once startup
// completes and with false at the start of graceful shutdown so the load
// balancer drains the instance before connections are closed.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is currently passing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, p := range h.snapshot(readiness) {
		if !p.healthy() {
			return false
		}
	}
	return true
}

func (h *Health) snapshot(kind probeKind) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*probe, 0, len(h.probes))
	for _, p := range h.probes {
		if p.kind == kind {
			out = append(out, p)
		}
	}
	return out
}

// failures maps probe name to error message for every tripped probe of the
// given kind. It reads the stored last error instead of re-running checks,
// so handlers stay cheap no matter how slow a probe is.
func (h *Health) failures(kind probeKind) map[string]string {
	bad := make(map[string]string)
	for _, p := range h.snapshot(kind) {
		if p.healthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := p.lastError(); err != nil {
			msg = err.Error()
		}
		bad[p.name] = msg
	}
	return bad
}

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} when every liveness probe
// passes, otherwise 503 with the failing probes listed.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	respond(w, h.failures(liveness))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	bad := h.failures(readiness)
	if !h.ready.Load() {
		bad["_readiness"] = "service is not ready"
	}
	respond(w, bad)
}

func respond(w http.ResponseWriter, bad map[string]string) {
	body := statusBody{Status: "ok"}
	code := http.StatusOK
	if len(bad) > 0 {
		body = statusBody{Status: "unhealthy", Checks: bad}
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Too late to change the status if encoding fails; only happens when the
	// client is already gone.
	_ = json.NewEncoder(w).Encode(body)
}
