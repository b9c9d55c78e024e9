package settle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/engine"
)

var ErrInFlight = errors.New("settlement already in flight")
var ErrAbandoned = errors.New("settlement abandoned")

// AttemptState tracks the settlement lifecycle for one match. Settled and
// Abandoned are terminal.
type AttemptState string

const (
	StatePending   AttemptState = "PENDING"
	StateInFlight  AttemptState = "IN_FLIGHT"
	StateSettled   AttemptState = "SETTLED"
	StateAbandoned AttemptState = "ABANDONED"
)

// Result is the settlement payload for one finished match.
type Result struct {
	MatchID          string               `json:"match_id"`
	WinnerID         string               `json:"winner_id"`
	LoserID          string               `json:"loser_id"`
	WinnerScore      int                  `json:"winner_score"`
	LoserScore       int                  `json:"loser_score"`
	Operation        string               `json:"operation"`
	Mode             string               `json:"mode"`
	PerformanceStats []engine.PlayerStats `json:"performance_stats"`
	MatchIntegrity   string               `json:"match_integrity"`
	Ranked           bool                 `json:"ranked"`
	IsDraw           bool                 `json:"is_draw"`
	Forfeit          bool                 `json:"forfeit"`
	Reward           int                  `json:"reward"`
}

// Reward is what the settlement endpoint grants back.
type Reward struct {
	RatingChange   int `json:"rating_change"`
	CurrencyEarned int `json:"currency_earned"`
}

// Submitter delivers a result to the settlement endpoint.
type Submitter interface {
	Submit(ctx context.Context, res Result) (Reward, error)
}

// Ledger records completed settlements for out-of-band reconciliation.
// The store's idempotent upsert keyed by match id backs this.
type Ledger interface {
	Record(ctx context.Context, res Result, rw Reward, state AttemptState) error
}

type attempt struct {
	state      AttemptState
	retryCount int
	reward     Reward
}

// Reconciler settles each match exactly once. A per-match single-flight
// lock moves the attempt PENDING -> IN_FLIGHT before any network call;
// repeat triggers for a settled or in-flight match are no-ops. Failures
// retry with exponential backoff up to a cap, then the attempt is parked
// as ABANDONED instead of retrying forever.
type Reconciler struct {
	submitter   Submitter
	ledger      Ledger
	clock       clockwork.Clock
	log         *zap.Logger
	maxAttempts int
	baseDelay   time.Duration

	mu       sync.Mutex
	attempts map[string]*attempt
}

func NewReconciler(submitter Submitter, ledger Ledger, maxAttempts int, baseDelay time.Duration,
	clock clockwork.Clock, log *zap.Logger) *Reconciler {
	return &Reconciler{
		submitter:   submitter,
		ledger:      ledger,
		clock:       clock,
		log:         log,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		attempts:    make(map[string]*attempt),
	}
}

// Settle submits the result for res.MatchID. Safe to call repeatedly and
// concurrently: only the first caller performs I/O, later calls for a
// settled match return the recorded reward.
func (r *Reconciler) Settle(ctx context.Context, res Result) (Reward, error) {
	r.mu.Lock()
	a, ok := r.attempts[res.MatchID]
	if !ok {
		a = &attempt{state: StatePending}
		r.attempts[res.MatchID] = a
	}
	switch a.state {
	case StateSettled:
		r.mu.Unlock()
		return a.reward, nil
	case StateInFlight:
		r.mu.Unlock()
		return Reward{}, ErrInFlight
	case StateAbandoned:
		r.mu.Unlock()
		return Reward{}, ErrAbandoned
	}
	a.state = StateInFlight
	r.mu.Unlock()

	var lastErr error
	for n := 1; n <= r.maxAttempts; n++ {
		rw, err := r.submitter.Submit(ctx, res)
		if err == nil {
			r.mu.Lock()
			a.state = StateSettled
			a.reward = rw
			r.mu.Unlock()
			r.record(ctx, res, rw, StateSettled)
			r.log.Info("match settled",
				zap.String("match_id", res.MatchID),
				zap.Int("attempt", n))
			return rw, nil
		}

		lastErr = err
		r.mu.Lock()
		a.retryCount = n
		r.mu.Unlock()
		r.log.Warn("settlement attempt failed",
			zap.String("match_id", res.MatchID),
			zap.Int("attempt", n),
			zap.Error(err))

		if n == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			r.mu.Lock()
			a.state = StatePending // allow a later re-trigger to resume
			r.mu.Unlock()
			return Reward{}, ctx.Err()
		case <-r.clock.After(r.backoff(n)):
		}
	}

	r.mu.Lock()
	a.state = StateAbandoned
	r.mu.Unlock()
	r.record(ctx, res, Reward{}, StateAbandoned)
	r.log.Error("settlement abandoned after retries",
		zap.String("match_id", res.MatchID),
		zap.Int("attempts", r.maxAttempts),
		zap.Error(lastErr))
	return Reward{}, fmt.Errorf("%w: %w", ErrAbandoned, lastErr)
}

// State reports the attempt state for a match, StatePending if unknown.
func (r *Reconciler) State(matchID string) AttemptState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[matchID]; ok {
		return a.state
	}
	return StatePending
}

func (r *Reconciler) backoff(attempt int) time.Duration {
	return r.baseDelay << (attempt - 1)
}

func (r *Reconciler) record(ctx context.Context, res Result, rw Reward, st AttemptState) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Record(ctx, res, rw, st); err != nil {
		r.log.Error("settlement ledger write failed",
			zap.String("match_id", res.MatchID),
			zap.Error(err))
	}
}
