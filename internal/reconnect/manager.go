package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrRetriesExhausted = errors.New("reconnect: retries exhausted")

// Status is the manager's connection lifecycle state. Disconnected is
// terminal for the session.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Dialer re-establishes the underlying connection.
type Dialer interface {
	Dial(ctx context.Context) error
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) error

func (f DialFunc) Dial(ctx context.Context) error { return f(ctx) }

// AttemptEvent is emitted once per reconnection attempt.
type AttemptEvent struct {
	Attempt int
	Err     error
}

// Config bounds the retry loop and the forfeit grace window.
type Config struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ForfeitGrace time.Duration
}

// Manager drives bounded-retry reconnection. The display snapshot taken
// before any navigation away from a live match is preserved here so a
// successful reconnect resumes without a visible reset.
type Manager struct {
	cfg    Config
	dialer Dialer
	clock  clockwork.Clock
	log    *zap.Logger

	mu        sync.Mutex
	status    Status
	droppedAt time.Time
	snapshot  any
	hasSnap   bool

	attempts chan AttemptEvent
}

func NewManager(cfg Config, dialer Dialer, clock clockwork.Clock, log *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		clock:    clock,
		log:      log,
		attempts: make(chan AttemptEvent, cfg.MaxAttempts+1),
	}
}

// Attempts delivers one event per reconnection try, for observability.
func (m *Manager) Attempts() <-chan AttemptEvent { return m.attempts }

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// PreserveSnapshot stores the current visible match state so a later
// reconnect can resume display where it left off.
func (m *Manager) PreserveSnapshot(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = v
	m.hasSnap = true
}

// Snapshot returns the preserved display state, if any.
func (m *Manager) Snapshot() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot, m.hasSnap
}

// MarkDropped records the moment the connection was first observed down and
// enters RECONNECTING. Repeat calls while already down keep the original
// drop time so the grace window cannot be extended by duplicate events.
func (m *Manager) MarkDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusConnected {
		return
	}
	m.status = StatusReconnecting
	m.droppedAt = m.clock.Now()
	m.log.Warn("connection dropped, entering reconnect")
}

// Reconnect runs the bounded retry loop. On success the manager returns to
// CONNECTED; exhausting the cap transitions to terminal DISCONNECTED.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.MarkDropped()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		lastErr = m.dialer.Dial(ctx)
		m.emit(AttemptEvent{Attempt: attempt, Err: lastErr})

		if lastErr == nil {
			m.mu.Lock()
			m.status = StatusConnected
			m.mu.Unlock()
			m.log.Info("reconnected", zap.Int("attempt", attempt))
			return nil
		}

		m.log.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == m.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			// The caller abandoned the session; without the terminal
			// state ForfeitEligible could never become true for it.
			m.mu.Lock()
			m.status = StatusDisconnected
			m.mu.Unlock()
			m.log.Warn("reconnect cancelled, session disconnected")
			return ctx.Err()
		case <-m.clock.After(m.backoff(attempt)):
		}
	}

	m.mu.Lock()
	m.status = StatusDisconnected
	m.mu.Unlock()
	m.log.Warn("reconnect retries exhausted, session disconnected")
	if lastErr == nil {
		lastErr = ErrRetriesExhausted
	}
	return errors.Join(ErrRetriesExhausted, lastErr)
}

// ForfeitEligible reports whether the session may be treated as a forfeit:
// terminally disconnected, with the grace window elapsed since the drop so
// a brief disappearance (a tab refresh) never costs the match.
func (m *Manager) ForfeitEligible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusDisconnected {
		return false
	}
	return m.clock.Now().Sub(m.droppedAt) >= m.cfg.ForfeitGrace
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.BaseDelay << (attempt - 1)
	if d > m.cfg.MaxDelay || d <= 0 {
		d = m.cfg.MaxDelay
	}
	return d
}

func (m *Manager) emit(ev AttemptEvent) {
	select {
	case m.attempts <- ev:
	default:
	}
}
