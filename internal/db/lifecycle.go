package db

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// State is the lifecycle state of a session slot (and, aggregated, of the
// Manager).
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDegraded
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectFunc is the factory seam: one single-shot session attempt. Tests
// inject scripted sequences here.
type ConnectFunc func(ctx context.Context) (Driver, error)

// ManagerOptions tune the lifecycle manager.
type ManagerOptions struct {
	// Slots is the number of independently-lifecycled sessions (1 when
	// pooling is disabled).
	Slots int
	// MaxInFlight bounds concurrent acquisitions; beyond it Acquire fails
	// fast with a busy error instead of queuing unboundedly.
	MaxInFlight int
	// RetryAttempts bounds connection attempts per Connecting cycle.
	RetryAttempts int
	// RetryDelay is the initial backoff interval between attempts.
	RetryDelay time.Duration
	// ConnectTimeout bounds each individual attempt.
	ConnectTimeout time.Duration
}

type slot struct {
	mu    sync.Mutex
	state State
	drv   Driver
}

// Manager owns the lifetime of the session slot(s) and hands sessions to
// request handlers through scoped acquisition. Connection attempts retry
// with exponential backoff, re-invoking the factory (and therefore
// re-resolving credentials) each time. Exhausting retries closes the
// manager: subsequent acquisitions fail fast and the process keeps serving
// in degraded mode.
type Manager struct {
	connect ConnectFunc
	opts    ManagerOptions

	inflight *semaphore.Weighted
	free     chan *slot
	slots    []*slot

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewManager builds a manager around the connect seam. No connection is
// attempted until the first Acquire (or an explicit Warm).
func NewManager(connect ConnectFunc, opts ManagerOptions) *Manager {
	if opts.Slots < 1 {
		opts.Slots = 1
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	m := &Manager{
		connect:  connect,
		opts:     opts,
		inflight: semaphore.NewWeighted(int64(opts.MaxInFlight)),
		free:     make(chan *slot, opts.Slots),
		done:     make(chan struct{}),
	}
	for i := 0; i < opts.Slots; i++ {
		s := &slot{state: StateUninitialized}
		m.slots = append(m.slots, s)
		m.free <- s
	}
	return m
}

// Lease is a borrowed session. Release must be called on every exit path;
// ReportError feeds back request-time failures so connection loss degrades
// the slot while query-semantic errors leave it alone.
type Lease struct {
	Driver

	m    *Manager
	s    *slot
	once sync.Once
}

// ReportError marks the slot suspect if err is a connection-loss signal.
// The suspect handle is not reused; the next acquisition reconnects.
func (l *Lease) ReportError(err error) {
	if !IsConnectionLoss(err) {
		return
	}
	l.s.mu.Lock()
	if l.s.state == StateReady {
		l.s.state = StateDegraded
		slog.Warn("session marked degraded", "error", err)
	}
	l.s.mu.Unlock()
}

// Release returns the slot. Safe to call more than once; only the first
// call has effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.free <- l.s
		l.m.inflight.Release(1)
	})
}

// Acquire hands out a live session, connecting lazily. It fails fast with
// a busy error when MaxInFlight is exceeded and with a connection error
// when the manager is closed; otherwise it waits (bounded by ctx) for a
// free slot.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if m.isClosed() {
		return nil, errUnavailable()
	}
	if !m.inflight.TryAcquire(1) {
		return nil, mcperr.New(mcperr.KindBusy, "too many concurrent requests; try again later")
	}

	var s *slot
	select {
	case s = <-m.free:
	case <-m.done:
		m.inflight.Release(1)
		return nil, errUnavailable()
	case <-ctx.Done():
		m.inflight.Release(1)
		return nil, mcperr.Wrap(mcperr.KindBusy, "timed out waiting for a session", ctx.Err())
	}

	if err := m.ensureConnected(ctx, s); err != nil {
		m.free <- s
		m.inflight.Release(1)
		return nil, err
	}
	return &Lease{Driver: s.drv, m: m, s: s}, nil
}

// WithSession is the scoped-acquisition helper: acquire, run fn, classify
// its error, release. Release happens on every exit path including panics.
func (m *Manager) WithSession(ctx context.Context, fn func(Driver) error) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	if err := fn(lease.Driver); err != nil {
		lease.ReportError(err)
		return err
	}
	return nil
}

// Warm eagerly connects one slot so startup surfaces credential problems
// early. Failure leaves the manager usable; the first request retries.
func (m *Manager) Warm(ctx context.Context) error {
	lease, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	lease.Release()
	return nil
}

// ensureConnected makes the slot Ready, running the bounded backoff cycle
// when it is fresh or degraded.
func (m *Manager) ensureConnected(ctx context.Context, s *slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return errUnavailable()
	case StateDegraded:
		if s.drv != nil {
			s.drv.Close()
			s.drv = nil
		}
	}

	s.state = StateConnecting
	drv, err := m.connectWithRetry(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up while the backoff was still running. Its
			// impatience must not take the server down: the slot stays
			// reconnectable for the next acquisition.
			s.state = StateUninitialized
			return mcperr.Wrap(mcperr.KindBusy, "gave up waiting for a session", err)
		}
		// Retries exhausted or permanent failure: the slot and manager
		// close; acquisitions from now on fail fast.
		s.state = StateClosed
		s.drv = nil
		m.close()
		if mcperr.KindOf(err) == mcperr.KindUnknown {
			err = mcperr.Wrap(mcperr.KindConnection, "session establishment failed", err)
		}
		return err
	}
	s.state = StateReady
	s.drv = drv
	return nil
}

func (m *Manager) connectWithRetry(ctx context.Context) (Driver, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = m.opts.RetryDelay
	expo.MaxInterval = 10 * time.Second

	attempt := 0
	return backoff.Retry(ctx, func() (Driver, error) {
		attempt++
		cctx := ctx
		if m.opts.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
			defer cancel()
		}
		drv, err := m.connect(cctx)
		if err != nil {
			if mcperr.KindOf(err) == mcperr.KindConfiguration {
				return nil, backoff.Permanent(err)
			}
			slog.Warn("session attempt failed", "attempt", attempt, "error", err)
			return nil, err
		}
		slog.Info("session established", "attempt", attempt)
		return drv, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(m.opts.RetryAttempts)))
}

// State aggregates slot states for health reporting.
func (m *Manager) State() State {
	if m.isClosed() {
		return StateClosed
	}
	agg := StateUninitialized
	for _, s := range m.slots {
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		switch st {
		case StateConnecting:
			return StateConnecting
		case StateDegraded:
			agg = StateDegraded
		case StateReady:
			if agg != StateDegraded {
				agg = StateReady
			}
		}
	}
	return agg
}

// Close tears down all slots. Terminal.
func (m *Manager) Close() {
	m.close()
	for _, s := range m.slots {
		s.mu.Lock()
		if s.drv != nil {
			s.drv.Close()
			s.drv = nil
		}
		s.state = StateClosed
		s.mu.Unlock()
	}
}

func (m *Manager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func errUnavailable() error {
	return mcperr.New(mcperr.KindConnection, "database session is unavailable")
}
