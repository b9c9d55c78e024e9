package party

import (
	"errors"
	"strings"
)

var ErrNotLeader = errors.New("only the leader may do that")
var ErrNotMember = errors.New("not a party member")
var ErrPartyFull = errors.New("party is full")
var ErrAlreadyMember = errors.New("already in the party")
var ErrRolesUnassigned = errors.New("IGL and Anchor must be assigned")
var ErrRolesUnconfirmed = errors.New("roles must be confirmed first")
var ErrNotAllReady = errors.New("not all members are ready")
var ErrAlreadyQueued = errors.New("party is already queued")
var ErrNotQueued = errors.New("party is not queued")
var ErrUnknownMatchType = errors.New("unknown match type")
var ErrAlreadyInvited = errors.New("already invited")

// QueueStatus is the server-held queue field. The zero value means the
// party is not queued.
type QueueStatus string

const (
	StatusNone             QueueStatus = ""
	StatusFindingTeammates QueueStatus = "finding_teammates"
	StatusFindingOpponents QueueStatus = "finding_opponents"
)

const aiMatchPrefix = "ai_match:"

// AIMatchStatus encodes an immediate bot match into the queue field.
func AIMatchStatus(matchID string) QueueStatus {
	return QueueStatus(aiMatchPrefix + matchID)
}

// AIMatchID extracts the match id from an ai_match status.
func (q QueueStatus) AIMatchID() (string, bool) {
	if strings.HasPrefix(string(q), aiMatchPrefix) {
		return strings.TrimPrefix(string(q), aiMatchPrefix), true
	}
	return "", false
}

type MatchType string

const (
	TypeRanked MatchType = "ranked"
	TypeCasual MatchType = "casual"
	TypeVsAI   MatchType = "vs_ai"
)

// Phase is derived, never stored: the party's position in the lobby flow.
type Phase string

const (
	PhaseForming        Phase = "forming"
	PhaseRoleAssignment Phase = "role_assignment"
	PhaseReadyCheck     Phase = "ready_check"
	PhaseQueueing       Phase = "queueing"
	PhaseMatched        Phase = "matched"
)

type Member struct {
	UserID      string
	DisplayName string
	IsLeader    bool
	IsReady     bool
	IsIGL       bool
	IsAnchor    bool
}

// Party is the authoritative record. Exactly one member is the leader and
// the leader always counts as ready.
type Party struct {
	ID             string
	LeaderID       string
	Members        []Member
	IGLID          string
	AnchorID       string
	QueueStatus    QueueStatus
	LinkedTeamID   string
	Visibility     string
	RequiredSize   int
	RolesConfirmed bool
	PendingInvites []string
	Version        int64
}

func New(id string, leader Member, visibility string, requiredSize int) *Party {
	leader.IsLeader = true
	return &Party{
		ID:           id,
		LeaderID:     leader.UserID,
		Members:      []Member{leader},
		Visibility:   visibility,
		RequiredSize: requiredSize,
	}
}

// Phase derives the lobby phase from the record.
func (p *Party) Phase() Phase {
	if _, ok := p.QueueStatus.AIMatchID(); ok {
		return PhaseMatched
	}
	if p.QueueStatus != StatusNone {
		return PhaseQueueing
	}
	if p.IGLID != "" && p.AnchorID != "" {
		return PhaseReadyCheck
	}
	if len(p.Members) >= p.RequiredSize {
		return PhaseRoleAssignment
	}
	return PhaseForming
}

func (p *Party) member(userID string) *Member {
	for i := range p.Members {
		if p.Members[i].UserID == userID {
			return &p.Members[i]
		}
	}
	return nil
}

func (p *Party) IsMember(userID string) bool { return p.member(userID) != nil }

func (p *Party) AddMember(m Member) error {
	if p.member(m.UserID) != nil {
		return ErrAlreadyMember
	}
	if len(p.Members) >= p.RequiredSize {
		return ErrPartyFull
	}
	m.IsLeader = false
	p.Members = append(p.Members, m)
	for i, id := range p.PendingInvites {
		if id == m.UserID {
			p.PendingInvites = append(p.PendingInvites[:i], p.PendingInvites[i+1:]...)
			break
		}
	}
	return nil
}

// Invite records a pending invite. Any member may invite; the invite is
// consumed when the invitee joins.
func (p *Party) Invite(actorID, userID string) error {
	if p.member(actorID) == nil {
		return ErrNotMember
	}
	if p.member(userID) != nil {
		return ErrAlreadyMember
	}
	for _, id := range p.PendingInvites {
		if id == userID {
			return ErrAlreadyInvited
		}
	}
	p.PendingInvites = append(p.PendingInvites, userID)
	return nil
}

// RemoveMember drops a member, promoting the oldest remaining member if
// the leader left. Assigned roles held by the departing member are
// vacated.
func (p *Party) RemoveMember(userID string) error {
	idx := -1
	for i := range p.Members {
		if p.Members[i].UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotMember
	}
	p.Members = append(p.Members[:idx], p.Members[idx+1:]...)

	if p.IGLID == userID {
		p.IGLID = ""
		p.RolesConfirmed = false
	}
	if p.AnchorID == userID {
		p.AnchorID = ""
		p.RolesConfirmed = false
	}
	if p.LeaderID == userID && len(p.Members) > 0 {
		p.Members[0].IsLeader = true
		p.LeaderID = p.Members[0].UserID
	}
	for i := range p.Members {
		if p.Members[i].IsIGL && p.Members[i].UserID != p.IGLID {
			p.Members[i].IsIGL = false
		}
		if p.Members[i].IsAnchor && p.Members[i].UserID != p.AnchorID {
			p.Members[i].IsAnchor = false
		}
	}
	return nil
}

// AssignIGL is leader-only. The same member may hold both roles while
// assignment is in progress.
func (p *Party) AssignIGL(actorID, targetID string) error {
	if actorID != p.LeaderID {
		return ErrNotLeader
	}
	target := p.member(targetID)
	if target == nil {
		return ErrNotMember
	}
	for i := range p.Members {
		p.Members[i].IsIGL = false
	}
	target.IsIGL = true
	p.IGLID = targetID
	p.RolesConfirmed = false
	return nil
}

// AssignAnchor is leader-only.
func (p *Party) AssignAnchor(actorID, targetID string) error {
	if actorID != p.LeaderID {
		return ErrNotLeader
	}
	target := p.member(targetID)
	if target == nil {
		return ErrNotMember
	}
	for i := range p.Members {
		p.Members[i].IsAnchor = false
	}
	target.IsAnchor = true
	p.AnchorID = targetID
	p.RolesConfirmed = false
	return nil
}

// ConfirmRoles locks in the current IGL/Anchor assignment; vs_ai with two
// or more humans requires it before a bot match is created.
func (p *Party) ConfirmRoles(actorID string) error {
	if actorID != p.LeaderID {
		return ErrNotLeader
	}
	if p.IGLID == "" || p.AnchorID == "" {
		return ErrRolesUnassigned
	}
	p.RolesConfirmed = true
	return nil
}

// ToggleReady flips a member's ready bit. The leader is implicitly ready;
// toggling them is a no-op. If a member un-readies while the party is
// queued, the queue is cancelled — the caller must broadcast the
// cancellation so no member is left believing they are still queued.
func (p *Party) ToggleReady(userID string) (cancelledQueue bool, err error) {
	m := p.member(userID)
	if m == nil {
		return false, ErrNotMember
	}
	if m.IsLeader {
		return false, nil
	}
	m.IsReady = !m.IsReady
	if !m.IsReady && p.QueueStatus != StatusNone {
		p.QueueStatus = StatusNone
		return true, nil
	}
	return false, nil
}

// AllReady reports whether every member is ready, the leader counting
// implicitly.
func (p *Party) AllReady() bool {
	for _, m := range p.Members {
		if !m.IsLeader && !m.IsReady {
			return false
		}
	}
	return true
}

// Transition is the outcome of initiating a queue.
type Transition struct {
	Status    QueueStatus
	MatchType MatchType
	// BotSlots counts teammate slots to fill with bots at match
	// formation. Reserved here, filled later.
	BotSlots int
	// AIMatchID is set for vs_ai, which bypasses queueing entirely.
	AIMatchID string
}

// StartQueue initiates queueing (leader-only). Full parties search
// directly for opponents; a partial casual party also goes straight to
// opponents with its empty slots reserved for bots; a partial ranked party
// must find teammates first. vs_ai creates a bot match immediately; with
// two or more humans the role assignment must have been confirmed so the
// party had a chance to review IGL/Anchor.
func (p *Party) StartQueue(actorID string, mt MatchType, newMatchID func() string) (Transition, error) {
	if actorID != p.LeaderID {
		return Transition{}, ErrNotLeader
	}
	if p.QueueStatus != StatusNone {
		return Transition{}, ErrAlreadyQueued
	}
	if p.IGLID == "" || p.AnchorID == "" {
		return Transition{}, ErrRolesUnassigned
	}
	if !p.AllReady() {
		return Transition{}, ErrNotAllReady
	}

	full := len(p.Members) >= p.RequiredSize

	switch mt {
	case TypeVsAI:
		if len(p.Members) >= 2 && !p.RolesConfirmed {
			return Transition{}, ErrRolesUnconfirmed
		}
		id := newMatchID()
		p.QueueStatus = AIMatchStatus(id)
		return Transition{Status: p.QueueStatus, MatchType: mt, AIMatchID: id, BotSlots: p.RequiredSize - len(p.Members)}, nil

	case TypeRanked:
		if full {
			p.QueueStatus = StatusFindingOpponents
		} else {
			p.QueueStatus = StatusFindingTeammates
		}
		return Transition{Status: p.QueueStatus, MatchType: mt}, nil

	case TypeCasual:
		// Partial casual parties skip teammate search; bots fill the
		// remaining slots at match formation, not at queue time.
		p.QueueStatus = StatusFindingOpponents
		return Transition{Status: p.QueueStatus, MatchType: mt, BotSlots: p.RequiredSize - len(p.Members)}, nil

	default:
		return Transition{}, ErrUnknownMatchType
	}
}

// CancelQueue clears the queue field. Any member may cancel: the
// stale-state correction path is triggered by whichever client left.
func (p *Party) CancelQueue(actorID string) error {
	if p.member(actorID) == nil {
		return ErrNotMember
	}
	if p.QueueStatus == StatusNone {
		return ErrNotQueued
	}
	p.QueueStatus = StatusNone
	return nil
}

// LinkTeam attaches a persistent team id (leader-only).
func (p *Party) LinkTeam(actorID, teamID string) error {
	if actorID != p.LeaderID {
		return ErrNotLeader
	}
	p.LinkedTeamID = teamID
	return nil
}

// Clone returns a deep copy safe to hand outside the owning actor.
func (p *Party) Clone() Party {
	c := *p
	c.Members = append([]Member(nil), p.Members...)
	c.PendingInvites = append([]string(nil), p.PendingInvites...)
	return c
}
