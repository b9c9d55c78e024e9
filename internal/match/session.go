package match

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/connquality"
	"github.com/mathduel/backend/internal/engine"
)

type Msg interface{ isSessionMsg() }

type FromClient struct {
	Cmd engine.Command
}

func (FromClient) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

// PeerGone reports that a side's reconnection attempts are exhausted and
// the forfeit grace period has elapsed. Duplicate delivery is harmless:
// the engine rejects commands against an ended match.
type PeerGone struct{ Side engine.Side }

func (PeerGone) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type timerExpired struct{}

func (timerExpired) isSessionMsg() {}

type Snapshot struct {
	Version     int64
	State       engine.State
	RemainingMS int64
}

type View struct {
	Version    int64
	NumClients int
	State      engine.State
	Integrity  connquality.Tier
}

// Result is the terminal package handed to the settlement reconciler,
// exactly once per session.
type Result struct {
	MatchID   uuid.UUID
	Outcome   engine.Outcome
	Stats     []engine.PlayerStats
	Integrity connquality.Tier
	Ranked    bool
	Operation engine.Operation
	Mode      string
}

// TierSource exposes the worst connection tier observed for a peer.
// *connquality.Monitor satisfies it.
type TierSource interface {
	WorstSeen(peer string) connquality.Tier
}

// ConflictSource exposes the running sync-conflict count.
// *statesync.Reducer satisfies it.
type ConflictSource interface {
	Conflicts() int
}

type Config struct {
	Duration         time.Duration
	ConflictYellowAt int
	ConflictRedAt    int
	Ranked           bool
	Mode             string
}

// Session is the authoritative match actor. It owns the duel state, stamps
// every broadcast with a strictly increasing version, runs the match
// timer, and hands the terminal result to the settlement hook once.
type Session struct {
	id        uuid.UUID
	cfg       Config
	inbox     chan Msg
	state     engine.State
	version   int64
	clients   map[string]chan Snapshot
	clock     clockwork.Clock
	timer     clockwork.Timer
	deadline  time.Time
	tiers     TierSource
	conflicts ConflictSource
	onEnded   func(Result)
	settled   bool
	ctx       context.Context
	cancel    context.CancelFunc
	log       *zap.Logger
}

func NewSession(parent context.Context, id uuid.UUID, initial engine.State, cfg Config,
	tiers TierSource, conflicts ConflictSource, clock clockwork.Clock,
	onEnded func(Result), log *zap.Logger) *Session {

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		id:        id,
		cfg:       cfg,
		inbox:     make(chan Msg, 64),
		state:     initial,
		clients:   make(map[string]chan Snapshot),
		clock:     clock,
		tiers:     tiers,
		conflicts: conflicts,
		onEnded:   onEnded,
		ctx:       ctx,
		cancel:    cancel,
		log:       log.With(zap.String("match_id", id.String())),
	}
	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) loop() {
	for {
		var timerC <-chan time.Time
		if s.timer != nil {
			timerC = s.timer.Chan()
		}

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-timerC:
			s.timer = nil
			s.apply(engine.Command{Type: engine.CmdTimerExpire})

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: s.version, State: s.state, RemainingMS: s.remainingMS()}

			case Leave:
				// Close so the client's writer goroutine unblocks.
				if ch, ok := s.clients[msg.ClientID]; ok {
					close(ch)
					delete(s.clients, msg.ClientID)
				}

			case FromClient:
				s.apply(msg.Cmd)

			case PeerGone:
				s.apply(engine.Command{Type: engine.CmdForfeit, Side: msg.Side})

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					State:      s.state,
					Integrity:  s.integrity(),
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) apply(cmd engine.Command) {
	events, newState, err := engine.Apply(s.state, cmd)
	if err != nil {
		// Stale or duplicate commands against a settled match are expected
		// during reconnect churn; drop them.
		s.log.Debug("command rejected", zap.String("type", string(cmd.Type)), zap.Error(err))
		return
	}
	s.state = newState
	s.version++

	if engine.ContainsEvent(events, engine.EvtMatchStarted) {
		s.deadline = s.clock.Now().Add(s.cfg.Duration)
		s.timer = s.clock.NewTimer(s.cfg.Duration)
		s.log.Info("match started", zap.Duration("duration", s.cfg.Duration))
	}

	s.broadcast(Snapshot{Version: s.version, State: s.state, RemainingMS: s.remainingMS()})

	if engine.ContainsEvent(events, engine.EvtMatchEnded) {
		s.finish()
	}
}

// finish computes integrity and hands the result to settlement. The settled
// flag makes a second ENDED trigger a no-op.
func (s *Session) finish() {
	if s.settled {
		return
	}
	s.settled = true

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	outcome, err := engine.ComputeOutcome(s.state)
	if err != nil {
		s.log.Error("outcome computation failed", zap.Error(err))
		return
	}

	integrity := s.integrity()
	res := Result{
		MatchID:   s.id,
		Outcome:   outcome,
		Stats:     engine.Stats(s.state),
		Integrity: integrity,
		Ranked:    s.cfg.Ranked && integrity == connquality.TierGreen,
		Operation: s.state.Operation,
		Mode:      s.cfg.Mode,
	}

	s.log.Info("match ended",
		zap.String("winner", outcome.WinnerID),
		zap.Bool("draw", outcome.IsDraw),
		zap.Bool("forfeit", outcome.Forfeit),
		zap.Stringer("integrity", integrity),
		zap.Bool("ranked", res.Ranked))

	if s.onEnded != nil {
		s.onEnded(res)
	}
}

// integrity is the worst connection tier seen across both players, further
// degraded by the sync-conflict count.
func (s *Session) integrity() connquality.Tier {
	tier := connquality.TierGreen
	if s.tiers != nil {
		for _, p := range s.state.Players {
			tier = connquality.Worse(tier, s.tiers.WorstSeen(p.ID))
		}
	}
	if s.conflicts != nil {
		n := s.conflicts.Conflicts()
		if n >= s.cfg.ConflictRedAt {
			tier = connquality.TierRed
		} else if n >= s.cfg.ConflictYellowAt {
			tier = connquality.Worse(tier, connquality.TierYellow)
		}
	}
	return tier
}

func (s *Session) remainingMS() int64 {
	if s.state.Phase != engine.PhaseActive || s.deadline.IsZero() {
		return 0
	}
	rem := s.deadline.Sub(s.clock.Now())
	if rem < 0 {
		rem = 0
	}
	return rem.Milliseconds()
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		select {
		case ch <- snap:
		default:
			// Slow or stuck client; drop it rather than stalling the match.
			close(ch)
			delete(s.clients, id)
		}
	}
}

func (s *Session) shutdown() {
	if s.timer != nil {
		s.timer.Stop()
	}
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}
