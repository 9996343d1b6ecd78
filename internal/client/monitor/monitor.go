// Package monitor tracks remote-store and mirror-storage reachability and
// gates the dispatcher: reconnecting triggers an immediate queue drain
// instead of waiting for the next poll tick.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/villaprodiq/studiosync/internal/client/platform"
	"github.com/villaprodiq/studiosync/internal/logging"
)

// State is the coarse connectivity state shown to the user.
type State string

const (
	StateConnected State = "connected"
	// StateOffline means the remote store is unreachable; the app keeps
	// working against the local cache.
	StateOffline State = "offline"
	StateError   State = "error"
)

// Status is one observation snapshot for the UI indicators.
type Status struct {
	State       State
	MirrorOK    bool
	PendingSync int
	FailedSync  int
	LastChecked time.Time
	LastError   string
}

// MirrorProber checks the mirrored file storage (NAS export / R2 bucket).
// Mirror reachability is reported independently of server reachability.
type MirrorProber interface {
	Probe(ctx context.Context) error
}

// Backlog exposes queue counters for the status snapshot. *sync.Syncer
// satisfies it.
type Backlog interface {
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
}

// Monitor polls connectivity on a fixed interval. It is constructed
// explicitly and injected; consumers subscribe by polling Status or by
// registering the drain hook.
type Monitor struct {
	bridge   platform.Bridge
	mirror   MirrorProber
	backlog  Backlog
	onOnline func(ctx context.Context)
	interval time.Duration
	log      logging.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status
}

// New wires a Monitor. mirror may be nil when no mirror storage is
// configured; onOnline is invoked after each offline→connected transition.
func New(bridge platform.Bridge, mirror MirrorProber, backlog Backlog,
	interval time.Duration, onOnline func(ctx context.Context), log logging.Logger) *Monitor {
	return &Monitor{
		bridge:   bridge,
		mirror:   mirror,
		backlog:  backlog,
		onOnline: onOnline,
		interval: interval,
		log:      log.With("component", "monitor"),
		now:      time.Now,
		status:   Status{State: StateOffline},
	}
}

// Status returns the latest observation.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Refresh probes immediately (manual refresh button) and returns the fresh
// snapshot.
func (m *Monitor) Refresh(ctx context.Context) Status {
	probeErr := m.probe(ctx)

	mirrorOK := false
	if m.mirror != nil {
		mirrorOK = m.mirror.Probe(ctx) == nil
	}

	pending, failed := 0, 0
	var countErr error
	if m.backlog != nil {
		if pending, countErr = m.backlog.PendingCount(ctx); countErr != nil {
			m.log.Error(ctx, "failed to count backlog", "error", countErr.Error())
		}
		if failed, countErr = m.backlog.FailedCount(ctx); countErr != nil {
			m.log.Error(ctx, "failed to count failed entries", "error", countErr.Error())
		}
	}

	next := Status{
		State:       StateConnected,
		MirrorOK:    mirrorOK,
		PendingSync: pending,
		FailedSync:  failed,
		LastChecked: m.now(),
	}
	switch {
	case probeErr != nil && ctx.Err() != nil:
		next.State = StateError
		next.LastError = probeErr.Error()
	case probeErr != nil:
		next.State = StateOffline
		next.LastError = probeErr.Error()
	}

	m.mu.Lock()
	prev := m.status.State
	m.status = next
	m.mu.Unlock()

	if prev != next.State {
		m.log.Info(ctx, "connectivity state changed",
			"from", string(prev), "to", string(next.State))
	}

	if prev != StateConnected && next.State == StateConnected && m.onOnline != nil {
		m.onOnline(ctx)
	}

	return next
}

// probe retries the health check a few times with short fibonacci backoff
// before declaring the remote unreachable, so one dropped packet does not
// flap the state.
func (m *Monitor) probe(ctx context.Context) error {
	b := retry.WithMaxRetries(2, retry.NewFibonacci(200*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return retry.RetryableError(m.bridge.ProbeConnectivity(ctx))
	})
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}
