package queueflow

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/party"
	"github.com/mathduel/backend/internal/statesync"
)

// QueuePhase selects which queue screen to show.
type QueuePhase string

const (
	PhaseTeammates QueuePhase = "teammates"
	PhaseOpponents QueuePhase = "opponents"
)

// Navigator is the external routing collaborator.
type Navigator interface {
	ToQueueScreen(partyID string, phase QueuePhase, mode string)
	ToMatchScreen(matchID, partyID string)
}

// Client is the party persistence collaborator seen from a member's
// session: snapshot polling and the explicit cancellation call used by
// stale-state correction.
type Client interface {
	FetchParty(ctx context.Context) (party.Party, error)
	CancelQueue(ctx context.Context, partyID string) error
}

const fieldQueueStatus = "queueStatus"

// Watcher reconciles the two unordered channels a member session observes
// party state through: periodic polls and push notifications. Both feed
// the same versioned reducer, and both gate navigation through the same
// redirect guard, so duplicates, reorderings and poll/push races cannot
// cause a missed, duplicated or stale transition.
type Watcher struct {
	partyID string
	mode    string
	guard   *Guard
	reducer *statesync.Reducer
	nav     Navigator
	client  Client
	clock   clockwork.Clock
	poll    time.Duration
	log     *zap.Logger

	mu sync.Mutex
}

func NewWatcher(partyID, mode string, guard *Guard, nav Navigator, client Client,
	clock clockwork.Clock, pollInterval time.Duration, log *zap.Logger) *Watcher {
	return &Watcher{
		partyID: partyID,
		mode:    mode,
		guard:   guard,
		reducer: statesync.NewReducer(),
		nav:     nav,
		client:  client,
		clock:   clock,
		poll:    pollInterval,
		log:     log.With(zap.String("party_id", partyID)),
	}
}

// Run polls until the context ends. Pushes arrive independently through
// OnPush.
func (w *Watcher) Run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.PollOnce(ctx)
		}
	}
}

// PollOnce fetches one party snapshot and feeds it through the reducer.
// Fetch failures are logged and dropped; the next tick retries naturally.
func (w *Watcher) PollOnce(ctx context.Context) {
	snap, err := w.client.FetchParty(ctx)
	if err != nil {
		w.log.Warn("party poll failed", zap.Error(err))
		return
	}
	w.handle(ctx, statesync.SourcePoll, snap.Version, snap.QueueStatus)
}

// OnPush feeds a push notification through the reducer.
func (w *Watcher) OnPush(ctx context.Context, push party.Push) {
	w.handle(ctx, statesync.SourcePush, push.Version, push.Party.QueueStatus)
}

// QueueStatus returns the reconciled local view of the queue field.
func (w *Watcher) QueueStatus() party.QueueStatus {
	if v, ok := w.reducer.Get(fieldQueueStatus); ok {
		if s, ok := v.(string); ok {
			return party.QueueStatus(s)
		}
	}
	return party.StatusNone
}

// handle is the single reducer path shared by both delivery channels.
func (w *Watcher) handle(ctx context.Context, src statesync.Source, version int64, status party.QueueStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.queueStatusLocked()
	out := w.reducer.Apply(statesync.Envelope{
		Version:       version,
		Fields:        map[string]any{fieldQueueStatus: string(status)},
		Authoritative: true,
		Source:        src,
	})
	if !out.Applied || len(out.SkippedFields) > 0 {
		return
	}

	cur := w.queueStatusLocked()
	if cur == party.StatusNone {
		return
	}

	// Stale leftover from a queue this client just left: clear it once,
	// never follow it. Only a lagging poll snapshot can carry it; a push
	// is a genuine notification and is never treated as stale.
	if src == statesync.SourcePoll && w.guard.ConsumeStaleCorrection(w.partyID) {
		w.log.Info("clearing stale queue status", zap.String("status", string(cur)))
		if err := w.client.CancelQueue(ctx, w.partyID); err != nil {
			w.log.Warn("stale queue cancellation failed", zap.Error(err))
		}
		w.reducer.Decide(fieldQueueStatus, string(party.StatusNone))
		return
	}

	if prev != party.StatusNone {
		return // not a null -> non-null transition
	}

	if !w.guard.TryRedirect(w.partyID, cur) {
		return
	}

	if matchID, ok := cur.AIMatchID(); ok {
		w.log.Info("following transition to match screen", zap.String("match_id", matchID))
		w.nav.ToMatchScreen(matchID, w.partyID)
		return
	}
	phase := PhaseOpponents
	if cur == party.StatusFindingTeammates {
		phase = PhaseTeammates
	}
	w.log.Info("following transition to queue screen", zap.String("phase", string(phase)))
	w.nav.ToQueueScreen(w.partyID, phase, w.mode)
}

func (w *Watcher) queueStatusLocked() party.QueueStatus {
	if v, ok := w.reducer.Get(fieldQueueStatus); ok {
		if s, ok := v.(string); ok {
			return party.QueueStatus(s)
		}
	}
	return party.StatusNone
}

// LeaveQueue is the client-initiated exit: one explicit cancellation call,
// the local decision recorded so polls cannot resurrect the status, and
// the guard's grace window armed.
func (w *Watcher) LeaveQueue(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.client.CancelQueue(ctx, w.partyID)
	if err != nil {
		w.log.Warn("queue cancellation failed", zap.Error(err))
		return err
	}
	w.reducer.Decide(fieldQueueStatus, string(party.StatusNone))
	w.guard.MarkLeft(w.partyID)
	return nil
}
