package match

import (
	"strconv"
	"sync"

	"github.com/mathduel/backend/internal/engine"
)

// Submission is one forwarded answer. Correct is local feedback only; the
// submission is forwarded either way because accuracy statistics count
// every attempt.
type Submission struct {
	Value   int
	Correct bool
	Auto    bool
}

// AnswerPad collects typed input for the current question. Submission can
// fire two ways: automatically once the typed digit count matches the
// expected answer's digit count, or explicitly via Confirm. Both paths
// share one in-flight flag so a race between them never double-submits.
type AnswerPad struct {
	mu       sync.Mutex
	typed    string
	question engine.Question
	hasQ     bool
	inflight bool
	forward  func(Submission)
}

func NewAnswerPad(forward func(Submission)) *AnswerPad {
	return &AnswerPad{forward: forward}
}

// SetQuestion installs the next question, clearing typed input and the
// in-flight guard.
func (p *AnswerPad) SetQuestion(q engine.Question) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.question = q
	p.hasQ = true
	p.typed = ""
	p.inflight = false
}

// Type feeds one keystroke. Anything that cannot start or extend an integer
// is dropped silently. Reaching the expected digit count auto-submits.
func (p *AnswerPad) Type(r rune) {
	p.mu.Lock()
	if !p.hasQ {
		p.mu.Unlock()
		return
	}
	switch {
	case r >= '0' && r <= '9':
		p.typed += string(r)
	case r == '-' && p.typed == "":
		p.typed += string(r)
		p.mu.Unlock()
		return
	default:
		p.mu.Unlock()
		return
	}

	digits := len(p.typed)
	if p.typed[0] == '-' {
		digits--
	}
	if digits >= p.question.Digits() {
		p.submitLocked(true)
		return
	}
	p.mu.Unlock()
}

// Confirm submits whatever has been typed, if it parses as an integer.
func (p *AnswerPad) Confirm() {
	p.mu.Lock()
	p.submitLocked(false)
}

// submitLocked releases p.mu. The in-flight flag is checked and set under
// the lock, so auto and manual triggers for the same question cannot both
// forward.
func (p *AnswerPad) submitLocked(auto bool) {
	v, err := strconv.Atoi(p.typed)
	if err != nil {
		p.mu.Unlock()
		return
	}
	if p.inflight {
		p.mu.Unlock()
		return
	}
	p.inflight = true
	sub := Submission{Value: v, Correct: v == p.question.Answer, Auto: auto}
	forward := p.forward
	p.mu.Unlock()

	if forward != nil {
		forward(sub)
	}
}
