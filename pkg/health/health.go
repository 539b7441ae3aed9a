// Package health serves liveness and readiness probes.
//
// Every check runs on its own ticker and flips state only after consecutive
// results cross a threshold, so a single slow ping does not take the
// storefront out of rotation. Readiness checks may be marked non-critical:
// their failures are reported as degraded without failing the probe.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc returns nil when the checked dependency is healthy.
type CheckFunc func(ctx context.Context) error

// CheckOption tunes a registered check.
type CheckOption func(*probe)

// WithThresholds sets how many consecutive failures mark a check unhealthy
// and how many consecutive successes mark it healthy again. Defaults are 3
// and 1.
func WithThresholds(failures, successes int) CheckOption {
	return func(p *probe) {
		p.failAfter = max(failures, 1)
		p.passAfter = max(successes, 1)
	}
}

// NonCritical reports failures of the check without failing readiness. Use
// it for dependencies the service can run without.
func NonCritical() CheckOption {
	return func(p *probe) { p.critical = false }
}

// probe is one check and its state. run is only called from the probe's own
// goroutine; healthy and lastErr are read concurrently by the endpoints.
type probe struct {
	name      string
	timeout   time.Duration
	check     CheckFunc
	critical  bool
	failAfter int
	passAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails, passes int
}

func newProbe(name string, timeout time.Duration, check CheckFunc, opts []CheckOption) *probe {
	p := &probe{
		name:      name,
		timeout:   timeout,
		check:     check,
		critical:  true,
		failAfter: 3,
		passAfter: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.healthy.Store(true)
	return p
}

func (p *probe) isHealthy() bool { return p.healthy.Load() }

func (p *probe) getLastError() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.passes = 0
		if p.fails++; p.fails >= p.failAfter {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	if p.passes++; p.passes >= p.passAfter {
		p.healthy.Store(true)
	}
}

func (p *probe) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

// report is the state of a set of probes at one instant.
type report struct {
	failed   map[string]string
	degraded map[string]string
}

func (r report) ok() bool { return len(r.failed) == 0 }

func inspect(probes []*probe) report {
	r := report{failed: map[string]string{}, degraded: map[string]string{}}
	for _, p := range probes {
		if p.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := p.getLastError(); err != nil {
			msg = err.Error()
		}
		if p.critical {
			r.failed[p.name] = msg
		} else {
			r.degraded[p.name] = msg
		}
	}
	return r
}

// Health owns the liveness and readiness probes of a process.
type Health struct {
	ready atomic.Bool

	// mu guards the probe slices and cancel. Endpoints copy the slices under
	// RLock and inspect probes without holding it.
	mu              sync.RWMutex
	livenessChecks  []*probe
	readinessChecks []*probe
	cancel          context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	p := newProbe(name, timeout, check, opts)
	h.mu.Lock()
	h.livenessChecks = append(h.livenessChecks, p)
	h.mu.Unlock()
}

// AddReadinessCheck registers a check that decides whether the process
// should receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc, opts ...CheckOption) {
	p := newProbe(name, timeout, check, opts)
	h.mu.Lock()
	h.readinessChecks = append(h.readinessChecks, p)
	h.mu.Unlock()
}

// Start runs every registered check every interval until Stop or until ctx
// is done. Checks registered after Start are not run.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := slices.Concat(h.livenessChecks, h.readinessChecks)
	h.mu.Unlock()

	for _, p := range probes {
		go p.loop(ctx, interval)
	}
}

// Stop ends all check goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the process ready after startup and unready when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the process is marked ready and no critical
// readiness check is failing.
func (h *Health) IsReady() bool {
	return h.ready.Load() && inspect(h.snapshot(false)).ok()
}

func (h *Health) snapshot(liveness bool) []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if liveness {
		return slices.Clone(h.livenessChecks)
	}
	return slices.Clone(h.readinessChecks)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, inspect(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz. A process that is not marked ready reports
// the pseudo-check "_readiness".
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	r := inspect(h.snapshot(false))
	if !h.ready.Load() {
		r.failed["_readiness"] = "service is not ready"
	}
	writeReport(w, r)
}

// writeReport writes {"status":"ok"|"degraded"|"unhealthy"} with the failing
// checks under "checks" and the non-critical ones under "degraded". Only
// "unhealthy" is a 503.
func writeReport(w http.ResponseWriter, r report) {
	status, code := "ok", http.StatusOK
	switch {
	case !r.ok():
		status, code = "unhealthy", http.StatusServiceUnavailable
	case len(r.degraded) > 0:
		status = "degraded"
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	writeChecks(&e, "checks", r.failed)
	writeChecks(&e, "degraded", r.degraded)
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeChecks(e *jx.Encoder, field string, checks map[string]string) {
	if len(checks) == 0 {
		return
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	slices.Sort(names)

	e.FieldStart(field)
	e.ObjStart()
	for _, name := range names {
		e.FieldStart(name)
		e.Str(checks[name])
	}
	e.ObjEnd()
}
