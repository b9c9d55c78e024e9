package party

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

var ErrPartyNotFound = errors.New("party not found")

// Store persists the authoritative party record. Implemented by
// store.Parties (postgres) and store.Memory (tests).
type Store interface {
	SaveParty(ctx context.Context, p Party) error
	LoadParty(ctx context.Context, id string) (Party, bool, error)
	DeleteParty(ctx context.Context, id string) error
}

// Push is delivered to every subscribed member client when the party
// record changes. Version carries the statesync stream version so client
// reducers can discard stale or duplicate deliveries.
type Push struct {
	Version      int64
	Party        Party
	QueueChanged bool
}

type Msg interface{ isServiceMsg() }

type Create struct {
	ID         string
	Leader     Member
	Visibility string
	Size       int
	Reply      chan Reply
}

type JoinMember struct {
	PartyID string
	Member  Member
	Reply   chan Reply
}

type LeaveMember struct {
	PartyID string
	UserID  string
	Reply   chan Reply
}

type AssignRole struct {
	PartyID string
	ActorID string
	Target  string
	Anchor  bool // IGL when false
	Reply   chan Reply
}

type ConfirmRolesMsg struct {
	PartyID string
	ActorID string
	Reply   chan Reply
}

type ToggleReadyMsg struct {
	PartyID string
	UserID  string
	Reply   chan Reply
}

type StartQueueMsg struct {
	PartyID   string
	ActorID   string
	MatchType MatchType
	Reply     chan Reply
}

type CancelQueueMsg struct {
	PartyID string
	ActorID string
	Reply   chan Reply
}

type InviteMsg struct {
	PartyID string
	ActorID string
	UserID  string
	Reply   chan Reply
}

type LinkTeamMsg struct {
	PartyID string
	ActorID string
	TeamID  string
	Reply   chan Reply
}

type GetSnapshot struct {
	PartyID string
	Reply   chan Reply
}

type Subscribe struct {
	PartyID  string
	ClientID string
	Outbox   chan Push
}

type Unsubscribe struct {
	PartyID  string
	ClientID string
}

type Shutdown struct{}

func (Create) isServiceMsg()          {}
func (JoinMember) isServiceMsg()      {}
func (LeaveMember) isServiceMsg()     {}
func (AssignRole) isServiceMsg()      {}
func (ConfirmRolesMsg) isServiceMsg() {}
func (ToggleReadyMsg) isServiceMsg()  {}
func (StartQueueMsg) isServiceMsg()   {}
func (CancelQueueMsg) isServiceMsg()  {}
func (InviteMsg) isServiceMsg()       {}
func (LinkTeamMsg) isServiceMsg()     {}
func (GetSnapshot) isServiceMsg()     {}
func (Subscribe) isServiceMsg()       {}
func (Unsubscribe) isServiceMsg()     {}
func (Shutdown) isServiceMsg()        {}

// Reply is the uniform mutation response. Transition is set for queue
// initiations.
type Reply struct {
	Party      Party
	Transition Transition
	Err        error
}

// Service is the single actor owning all live party records. Every
// mutation is request/response through the inbox; members observe changes
// via pushes or by polling GetSnapshot — never by shared memory.
type Service struct {
	inbox      chan Msg
	parties    map[string]*Party
	subs       map[string]map[string]chan Push
	store      Store
	newMatchID func() string
	ctx        context.Context
	cancel     context.CancelFunc
	log        *zap.Logger
}

func NewService(parent context.Context, store Store, newMatchID func() string, log *zap.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		inbox:      make(chan Msg, 64),
		parties:    make(map[string]*Party),
		subs:       make(map[string]map[string]chan Push),
		store:      store,
		newMatchID: newMatchID,
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
	go s.loop()
	return s
}

func (s *Service) Inbox() chan<- Msg { return s.inbox }

func (s *Service) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Create:
				p := New(msg.ID, msg.Leader, msg.Visibility, msg.Size)
				s.parties[msg.ID] = p
				s.persist(p)
				msg.Reply <- Reply{Party: p.Clone()}

			case JoinMember:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					return p.AddMember(msg.Member)
				})

			case LeaveMember:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					return p.RemoveMember(msg.UserID)
				})

			case AssignRole:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					if msg.Anchor {
						return p.AssignAnchor(msg.ActorID, msg.Target)
					}
					return p.AssignIGL(msg.ActorID, msg.Target)
				})

			case ConfirmRolesMsg:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					return p.ConfirmRoles(msg.ActorID)
				})

			case ToggleReadyMsg:
				var cancelled bool
				s.mutateExt(msg.PartyID, msg.Reply, func(p *Party) error {
					var err error
					cancelled, err = p.ToggleReady(msg.UserID)
					return err
				}, &cancelled)

			case StartQueueMsg:
				p, ok := s.parties[msg.PartyID]
				if !ok {
					msg.Reply <- Reply{Err: ErrPartyNotFound}
					break
				}
				tr, err := p.StartQueue(msg.ActorID, msg.MatchType, s.newMatchID)
				if err != nil {
					msg.Reply <- Reply{Err: err}
					break
				}
				p.Version++
				s.persist(p)
				s.broadcast(p, true)
				s.log.Info("party queued",
					zap.String("party_id", p.ID),
					zap.String("status", string(tr.Status)),
					zap.Int("bot_slots", tr.BotSlots))
				msg.Reply <- Reply{Party: p.Clone(), Transition: tr}

			case CancelQueueMsg:
				s.mutate(msg.PartyID, msg.Reply, true, func(p *Party) error {
					return p.CancelQueue(msg.ActorID)
				})

			case InviteMsg:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					return p.Invite(msg.ActorID, msg.UserID)
				})

			case LinkTeamMsg:
				s.mutate(msg.PartyID, msg.Reply, false, func(p *Party) error {
					return p.LinkTeam(msg.ActorID, msg.TeamID)
				})

			case GetSnapshot:
				p, ok := s.parties[msg.PartyID]
				if !ok {
					msg.Reply <- Reply{Err: ErrPartyNotFound}
					break
				}
				msg.Reply <- Reply{Party: p.Clone()}

			case Subscribe:
				if s.subs[msg.PartyID] == nil {
					s.subs[msg.PartyID] = make(map[string]chan Push)
				}
				s.subs[msg.PartyID][msg.ClientID] = msg.Outbox
				if p, ok := s.parties[msg.PartyID]; ok {
					msg.Outbox <- Push{Version: p.Version, Party: p.Clone()}
				}

			case Unsubscribe:
				// Close so the subscriber's writer goroutine unblocks.
				if subs := s.subs[msg.PartyID]; subs != nil {
					if ch, ok := subs[msg.ClientID]; ok {
						close(ch)
						delete(subs, msg.ClientID)
					}
				}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Service) mutate(partyID string, reply chan Reply, queueChanged bool, fn func(*Party) error) {
	p, ok := s.parties[partyID]
	if !ok {
		reply <- Reply{Err: ErrPartyNotFound}
		return
	}
	if err := fn(p); err != nil {
		reply <- Reply{Err: err}
		return
	}
	p.Version++
	s.persist(p)
	s.broadcast(p, queueChanged)
	reply <- Reply{Party: p.Clone()}
}

// mutateExt is mutate for operations that only sometimes change the queue
// field (un-ready while queued cancels it, and that cancellation must be
// pushed to everyone, not just the actor).
func (s *Service) mutateExt(partyID string, reply chan Reply, fn func(*Party) error, queueChanged *bool) {
	p, ok := s.parties[partyID]
	if !ok {
		reply <- Reply{Err: ErrPartyNotFound}
		return
	}
	if err := fn(p); err != nil {
		reply <- Reply{Err: err}
		return
	}
	p.Version++
	s.persist(p)
	s.broadcast(p, *queueChanged)
	if *queueChanged {
		s.log.Info("queue cancelled by un-ready", zap.String("party_id", p.ID))
	}
	reply <- Reply{Party: p.Clone()}
}

func (s *Service) persist(p *Party) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveParty(s.ctx, p.Clone()); err != nil {
		s.log.Error("party persist failed", zap.String("party_id", p.ID), zap.Error(err))
	}
}

func (s *Service) broadcast(p *Party, queueChanged bool) {
	push := Push{Version: p.Version, Party: p.Clone(), QueueChanged: queueChanged}
	for id, ch := range s.subs[p.ID] {
		select {
		case ch <- push:
		default:
			close(ch)
			delete(s.subs[p.ID], id)
		}
	}
}

func (s *Service) shutdown() {
	for _, subs := range s.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
	}
	s.cancel()
}
