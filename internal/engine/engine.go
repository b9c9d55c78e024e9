package engine

import (
	"errors"
	"math/rand"
	"strconv"
)

var ErrMatchNotActive = errors.New("match not active")
var ErrMatchAlreadyEnded = errors.New("match already ended")
var ErrUnknownSide = errors.New("unknown side")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

func Opponent(s Side) Side {
	if s == SideHome {
		return SideAway
	}
	return SideHome
}

type Phase string

const (
	PhaseWaiting Phase = "waiting_for_opponent"
	PhaseActive  Phase = "active"
	PhaseEnded   Phase = "ended"
)

// Operation is the arithmetic mode the duel is played in.
type Operation string

const (
	OpAddition       Operation = "addition"
	OpSubtraction    Operation = "subtraction"
	OpMultiplication Operation = "multiplication"
	OpMixed          Operation = "mixed"
)

type Question struct {
	Prompt string
	Answer int
}

// Digits returns how many digit characters the expected answer has. A
// leading minus sign is not a digit; auto-submit keys off this count.
func (q Question) Digits() int {
	n := q.Answer
	if n < 0 {
		n = -n
	}
	return len(strconv.Itoa(n))
}

type Player struct {
	ID                string
	DisplayName       string
	Score             int
	Streak            int
	MaxStreak         int
	QuestionsAnswered int
	CurrentQuestion   int
}

type EndReason string

const (
	ReasonTimerExpired EndReason = "timer_expired"
	ReasonLeave        EndReason = "leave"
	ReasonDisconnect   EndReason = "disconnect"
)

type State struct {
	Phase     Phase
	Operation Operation
	Players   map[Side]Player
	Connected map[Side]bool
	Questions map[Side]Question
	ForfeitBy Side
	EndReason EndReason
}

type CommandType string

const (
	CmdConnect      CommandType = "Connect"
	CmdSubmitAnswer CommandType = "SubmitAnswer"
	CmdTimerExpire  CommandType = "TimerExpire"
	CmdLeave        CommandType = "Leave"
	CmdForfeit      CommandType = "Forfeit"
)

type Command struct {
	Type   CommandType
	Side   Side
	Answer int
}

type EventType string

const (
	EvtMatchStarted     EventType = "MatchStarted"
	EvtAnswerScored     EventType = "AnswerScored"
	EvtQuestionAdvanced EventType = "QuestionAdvanced"
	EvtMatchEnded       EventType = "MatchEnded"
)

type Event struct {
	Type     EventType
	Side     Side
	Correct  bool
	Question Question
	Reason   EndReason
}

// NewState builds the pre-match state for two players.
func NewState(op Operation, home, away Player) State {
	return State{
		Phase:     PhaseWaiting,
		Operation: op,
		Players:   map[Side]Player{SideHome: home, SideAway: away},
		Connected: map[Side]bool{},
		Questions: map[Side]Question{},
	}
}

// Apply runs one command against the state, returning the events produced
// and the successor state. The input state is never mutated.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if s.Phase == PhaseEnded {
		return nil, s, ErrMatchAlreadyEnded
	}
	if cmd.Side != "" && cmd.Side != SideHome && cmd.Side != SideAway {
		return nil, s, ErrUnknownSide
	}

	newState := clone(s)

	switch cmd.Type {
	case CmdConnect:
		newState.Connected[cmd.Side] = true
		if newState.Phase == PhaseWaiting && newState.Connected[SideHome] && newState.Connected[SideAway] {
			newState.Phase = PhaseActive
			events := []Event{{Type: EvtMatchStarted}}
			for _, side := range []Side{SideHome, SideAway} {
				q := nextQuestion(newState.Operation)
				newState.Questions[side] = q
				events = append(events, Event{Type: EvtQuestionAdvanced, Side: side, Question: q})
			}
			return events, newState, nil
		}
		return nil, newState, nil

	case CmdSubmitAnswer:
		if s.Phase != PhaseActive {
			return nil, s, ErrMatchNotActive
		}

		p := newState.Players[cmd.Side]
		correct := cmd.Answer == newState.Questions[cmd.Side].Answer
		p.QuestionsAnswered++
		if correct {
			p.Score++
			p.Streak++
			if p.Streak > p.MaxStreak {
				p.MaxStreak = p.Streak
			}
		} else {
			p.Streak = 0
		}
		p.CurrentQuestion++
		newState.Players[cmd.Side] = p

		q := nextQuestion(newState.Operation)
		newState.Questions[cmd.Side] = q

		events := []Event{
			{Type: EvtAnswerScored, Side: cmd.Side, Correct: correct},
			{Type: EvtQuestionAdvanced, Side: cmd.Side, Question: q},
		}
		return events, newState, nil

	case CmdTimerExpire:
		if s.Phase != PhaseActive {
			return nil, s, ErrMatchNotActive
		}
		newState.Phase = PhaseEnded
		newState.EndReason = ReasonTimerExpired
		return []Event{{Type: EvtMatchEnded, Reason: ReasonTimerExpired}}, newState, nil

	case CmdLeave:
		newState.Phase = PhaseEnded
		newState.EndReason = ReasonLeave
		newState.ForfeitBy = cmd.Side
		return []Event{{Type: EvtMatchEnded, Side: cmd.Side, Reason: ReasonLeave}}, newState, nil

	case CmdForfeit:
		newState.Phase = PhaseEnded
		newState.EndReason = ReasonDisconnect
		newState.ForfeitBy = cmd.Side
		return []Event{{Type: EvtMatchEnded, Side: cmd.Side, Reason: ReasonDisconnect}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func clone(s State) State {
	c := s
	c.Players = make(map[Side]Player, len(s.Players))
	for k, v := range s.Players {
		c.Players[k] = v
	}
	c.Connected = make(map[Side]bool, len(s.Connected))
	for k, v := range s.Connected {
		c.Connected[k] = v
	}
	c.Questions = make(map[Side]Question, len(s.Questions))
	for k, v := range s.Questions {
		c.Questions[k] = v
	}
	return c
}

// nextQuestion is a package variable so tests can pin the question stream.
var nextQuestion = func(op Operation) Question {
	a := rand.Intn(90) + 10
	b := rand.Intn(90) + 10
	pick := op
	if pick == OpMixed {
		pick = []Operation{OpAddition, OpSubtraction, OpMultiplication}[rand.Intn(3)]
	}
	switch pick {
	case OpSubtraction:
		if b > a {
			a, b = b, a
		}
		return Question{Prompt: strconv.Itoa(a) + " - " + strconv.Itoa(b), Answer: a - b}
	case OpMultiplication:
		a = rand.Intn(11) + 2
		b = rand.Intn(11) + 2
		return Question{Prompt: strconv.Itoa(a) + " x " + strconv.Itoa(b), Answer: a * b}
	default:
		return Question{Prompt: strconv.Itoa(a) + " + " + strconv.Itoa(b), Answer: a + b}
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
