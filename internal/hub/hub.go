package hub

import (
	"context"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/engine"
	"github.com/mathduel/backend/internal/match"
	"github.com/mathduel/backend/internal/settle"
)

type Msg interface{ isHubMsg() }

type CreateMatch struct {
	ID        uuid.UUID
	State     engine.State
	Cfg       match.Config
	Conflicts match.ConflictSource // sync-conflict count feeding integrity
	Reply     chan *match.Session
}

type GetMatch struct {
	ID    string
	Reply chan *match.Session
}

type EnsureMatch struct {
	ID        uuid.UUID
	State     engine.State // only used if creation happens
	Cfg       match.Config
	Conflicts match.ConflictSource
	Reply     chan *match.Session
}

type RemoveMatch struct {
	ID string
}

type Shutdown struct{}

func (CreateMatch) isHubMsg() {}
func (GetMatch) isHubMsg()    {}
func (EnsureMatch) isHubMsg() {}
func (RemoveMatch) isHubMsg() {}
func (Shutdown) isHubMsg()    {}

// Settler receives the terminal result of each match. *settle.Reconciler
// satisfies it.
type Settler interface {
	Settle(ctx context.Context, res settle.Result) (settle.Reward, error)
}

// Hub is the registry actor for live match sessions. It creates sessions,
// hands out their inboxes, and forwards each finished match to settlement
// before dropping it from the registry.
type Hub struct {
	inbox    chan Msg
	sessions map[string]*match.Session
	tiers    match.TierSource
	settler  Settler
	clock    clockwork.Clock
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func New(parent context.Context, tiers match.TierSource, settler Settler, clock clockwork.Clock, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan Msg, 64),
		sessions: make(map[string]*match.Session),
		tiers:    tiers,
		settler:  settler,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- Msg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateMatch:
				if s := h.sessions[msg.ID.String()]; s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.spawn(msg.ID, msg.State, msg.Cfg, msg.Conflicts)

			case GetMatch:
				msg.Reply <- h.sessions[msg.ID] // may be nil

			case EnsureMatch:
				if s := h.sessions[msg.ID.String()]; s != nil {
					msg.Reply <- s
					break
				}
				msg.Reply <- h.spawn(msg.ID, msg.State, msg.Cfg, msg.Conflicts)

			case RemoveMatch:
				if s := h.sessions[msg.ID]; s != nil {
					s.Inbox() <- match.Shutdown{}
					delete(h.sessions, msg.ID)
				}

			case Shutdown:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) spawn(id uuid.UUID, initial engine.State, cfg match.Config, conflicts match.ConflictSource) *match.Session {
	s := match.NewSession(h.ctx, id, initial, cfg, h.tiers, conflicts, h.clock, h.onEnded, h.log)
	h.sessions[id.String()] = s
	h.log.Info("match session created", zap.String("match_id", id.String()))
	return s
}

// onEnded runs on the session goroutine; settlement does its own retries,
// so it gets a goroutine of its own, and the session is dropped from the
// registry afterwards regardless of the settlement verdict.
func (h *Hub) onEnded(res match.Result) {
	go func() {
		if _, err := h.settler.Settle(h.ctx, toSettleResult(res)); err != nil {
			h.log.Error("settlement failed", zap.String("match_id", res.MatchID.String()), zap.Error(err))
		}
		select {
		case h.inbox <- RemoveMatch{ID: res.MatchID.String()}:
		case <-h.ctx.Done():
		}
	}()
}

func toSettleResult(r match.Result) settle.Result {
	return settle.Result{
		MatchID:          r.MatchID.String(),
		WinnerID:         r.Outcome.WinnerID,
		LoserID:          r.Outcome.LoserID,
		WinnerScore:      r.Outcome.WinnerScore,
		LoserScore:       r.Outcome.LoserScore,
		Operation:        string(r.Operation),
		Mode:             r.Mode,
		PerformanceStats: r.Stats,
		MatchIntegrity:   r.Integrity.String(),
		Ranked:           r.Ranked,
		IsDraw:           r.Outcome.IsDraw,
		Forfeit:          r.Outcome.Forfeit,
		Reward:           r.Outcome.Reward,
	}
}

func (h *Hub) shutdown() {
	for id, s := range h.sessions {
		s.Inbox() <- match.Shutdown{}
		delete(h.sessions, id)
	}
	h.cancel()
}
