package queueflow

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mathduel/backend/internal/party"
)

// State is the redirect guard's position. One explicit machine replaces
// the tangle of boolean flags, session markers and timers that otherwise
// accumulates around "did we already navigate?".
type State int

const (
	// StateIdle allows a genuine queue transition to redirect.
	StateIdle State = iota
	// StateGracePeriod blocks all redirects while the just-left marker is
	// hot, so the user cannot bounce straight back into the queue they
	// left.
	StateGracePeriod
	// StateArmed follows the grace period: the gate has lifted and the
	// next genuine transition is honored.
	StateArmed
	// StateRedirected means navigation already fired; nothing further
	// until Reset.
	StateRedirected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGracePeriod:
		return "grace_period"
	case StateArmed:
		return "armed"
	default:
		return "redirected"
	}
}

// Marker records that this client just left a queue for a party.
type Marker struct {
	PartyID string
	LeftAt  time.Time
}

// Guard gates navigation into the queue/match screen. All call sites (the
// poll handler and the push handler) route through the same instance, so a
// race between the two channels can produce at most one redirect per
// (party, transition) pair.
type Guard struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	grace     time.Duration
	markerTTL time.Duration

	state      State
	marker     *Marker
	blockUntil time.Time
	corrected  bool
	done       map[string]bool
}

func NewGuard(clock clockwork.Clock, grace, markerTTL time.Duration) *Guard {
	return &Guard{
		clock:     clock,
		grace:     grace,
		markerTTL: markerTTL,
		done:      make(map[string]bool),
	}
}

// MarkLeft arms the grace window after the client leaves a queue. Spent
// transition keys are cleared: once the window lifts, a fresh queue with
// the same status is a new occurrence and must be followed.
func (g *Guard) MarkLeft(partyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.marker = &Marker{PartyID: partyID, LeftAt: now}
	g.blockUntil = now.Add(g.grace)
	g.corrected = false
	clear(g.done)
	g.step(StateGracePeriod)
}

// State reports the current guard state, advancing GRACE_PERIOD to ARMED
// once the window has elapsed.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()
	return g.state
}

// TryRedirect claims the one allowed navigation for this transition
// occurrence. Between resets, it returns true at most once per
// (party, status) pair — that is what makes a poll/push race safe — and
// never during the grace period. The caller must navigate synchronously
// after a true return.
func (g *Guard) TryRedirect(partyID string, status party.QueueStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.advance()

	key := partyID + "|" + string(status)
	if g.done[key] {
		return false
	}
	switch g.state {
	case StateIdle, StateArmed:
		g.done[key] = true
		g.step(StateRedirected)
		return true
	default:
		return false
	}
}

// ConsumeStaleCorrection reports whether a non-null queue status fetched
// for the marked party should be treated as stale leftover server state.
// True at most once per marker; the caller clears the status with one
// explicit cancellation call.
func (g *Guard) ConsumeStaleCorrection(partyID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.marker == nil || g.corrected || g.marker.PartyID != partyID {
		return false
	}
	if g.clock.Now().Sub(g.marker.LeftAt) >= g.markerTTL {
		return false
	}
	g.corrected = true
	return true
}

// Reset returns a redirected guard to IDLE, e.g. after the user navigates
// back out of the queue screen. The spent-transition keys reset with it;
// duplicate deliveries of the old transition are still rejected upstream
// by the reducer's version check.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marker = nil
	g.corrected = false
	clear(g.done)
	g.step(StateIdle)
}

// advance is the time-driven edge of the transition function.
func (g *Guard) advance() {
	if g.state == StateGracePeriod && !g.clock.Now().Before(g.blockUntil) {
		g.step(StateArmed)
	}
}

// step is the single transition point; every state change funnels through
// it.
func (g *Guard) step(to State) {
	g.state = to
}
