package statesync

import (
	"sync"
)

// Source identifies which channel delivered an envelope. Push delivery is
// per-connection ordered but may duplicate; poll delivery is a point-in-time
// snapshot that can lag behind decisions the local side already made.
type Source string

const (
	SourcePush Source = "push"
	SourcePoll Source = "poll"
)

// Envelope is one versioned state update for a single logical stream.
// Versions are strictly increasing per stream on the authoritative side.
type Envelope struct {
	Version       int64
	Fields        map[string]any
	Authoritative bool
	Source        Source
}

// Outcome reports what the reducer did with an envelope.
type Outcome struct {
	Applied        bool
	Stale          bool
	ConflictFields []string
	SkippedFields  []string
}

type pendingWrite struct {
	value        any
	sinceVersion int64
}

type override struct {
	value        any
	sinceVersion int64
}

// Reducer applies versioned envelopes for one stream with last-applied-wins
// semantics. It tracks optimistic local writes so a disagreeing
// authoritative update is detected as a conflict (authoritative wins), and
// local decisions so a lagging poll snapshot cannot resurrect a value the
// local side already discarded.
type Reducer struct {
	mu          sync.Mutex
	lastApplied int64
	fields      map[string]any
	pending     map[string]pendingWrite
	overrides   map[string]override
	conflicts   int
}

func NewReducer() *Reducer {
	return &Reducer{
		fields:    make(map[string]any),
		pending:   make(map[string]pendingWrite),
		overrides: make(map[string]override),
	}
}

// ApplyLocal records an optimistic local write. The value is visible
// immediately but remains pending until an authoritative envelope covers it;
// if that envelope disagrees, the optimistic value loses and a conflict is
// counted.
func (r *Reducer) ApplyLocal(fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range fields {
		r.fields[k] = v
		r.pending[k] = pendingWrite{value: v, sinceVersion: r.lastApplied}
	}
}

// Decide records a deliberate local decision (e.g. an explicit queue
// cancellation). Unlike ApplyLocal it is not optimistic speculation: a
// poll-delivered value that contradicts it is ignored until a push
// confirms the field. Decisions never count as conflicts.
func (r *Reducer) Decide(field string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[field] = value
	r.overrides[field] = override{value: value, sinceVersion: r.lastApplied}
	delete(r.pending, field)
}

// Apply runs one envelope through the reducer.
func (r *Reducer) Apply(env Envelope) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	if env.Version <= r.lastApplied {
		return Outcome{Stale: true}
	}

	var out Outcome
	for k, v := range env.Fields {
		if env.Source == SourcePoll {
			if ov, ok := r.overrides[k]; ok && v != ov.value {
				// Snapshot predates the local decision; keep ours.
				out.SkippedFields = append(out.SkippedFields, k)
				continue
			}
		}
		if p, ok := r.pending[k]; ok && env.Authoritative {
			if p.sinceVersion < env.Version && p.value != v {
				r.conflicts++
				out.ConflictFields = append(out.ConflictFields, k)
			}
			delete(r.pending, k)
		}
		if env.Source == SourcePush {
			// A push for the field supersedes any standing local decision.
			delete(r.overrides, k)
		}
		r.fields[k] = v
	}

	r.lastApplied = env.Version
	out.Applied = true
	return out
}

// Get returns the current value for a field.
func (r *Reducer) Get(field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.fields[field]
	return v, ok
}

// LastApplied returns the highest version applied so far.
func (r *Reducer) LastApplied() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastApplied
}

// Conflicts returns the running count of optimistic-vs-authoritative
// disagreements. It feeds match integrity and is never reset.
func (r *Reducer) Conflicts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conflicts
}
