package connquality

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Tier rates a peer's connection quality. Ordering matters: worse tiers
// compare greater.
type Tier int

const (
	TierGreen Tier = iota
	TierYellow
	TierRed
)

func (t Tier) String() string {
	switch t {
	case TierGreen:
		return "green"
	case TierYellow:
		return "yellow"
	default:
		return "red"
	}
}

// Worse returns the worse of two tiers.
func Worse(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}

// State is a read-only view of one peer's measured connection quality.
type State struct {
	Tier            Tier
	RTT             time.Duration
	Jitter          time.Duration
	LossRate        float64
	DisconnectCount int
}

// Thresholds classify a peer into a tier from its rolling measurements.
type Thresholds struct {
	GreenMaxRTT  time.Duration
	GreenMaxLoss float64
	YellowMaxRTT time.Duration
}

// TierChange is emitted only when a peer actually moves between tiers, so
// downstream consumers never see a heartbeat-rate event storm.
type TierChange struct {
	Peer string
	From Tier
	To   Tier
}

type sample struct {
	rtt  time.Duration
	lost bool
}

type peerState struct {
	samples     []sample
	inflight    map[uint64]time.Time
	tier        Tier
	worst       Tier
	disconnects int
}

// Monitor measures per-peer heartbeat round trips, derives jitter and loss
// over a rolling window, and tiers each peer. It never mutates match or
// party state; it only reports.
type Monitor struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	th      Thresholds
	window  int
	timeout time.Duration
	nextSeq uint64
	peers   map[string]*peerState
	events  chan TierChange
	log     *zap.Logger
}

func NewMonitor(clock clockwork.Clock, th Thresholds, window int, heartbeatInterval time.Duration, log *zap.Logger) *Monitor {
	if window <= 0 {
		window = 10
	}
	return &Monitor{
		clock:   clock,
		th:      th,
		window:  window,
		timeout: 2 * heartbeatInterval,
		peers:   make(map[string]*peerState),
		events:  make(chan TierChange, 16),
		log:     log,
	}
}

// Events delivers tier transitions. The channel is buffered; if a consumer
// falls behind, transitions are dropped rather than blocking measurement.
func (m *Monitor) Events() <-chan TierChange { return m.events }

// Ping registers an outgoing heartbeat for the peer and returns its
// sequence number. Any in-flight heartbeat older than the timeout is
// counted as lost at this point.
func (m *Monitor) Ping(peer string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.peer(peer)
	now := m.clock.Now()
	for seq, sentAt := range ps.inflight {
		if now.Sub(sentAt) > m.timeout {
			delete(ps.inflight, seq)
			m.record(peer, ps, sample{lost: true})
		}
	}

	m.nextSeq++
	ps.inflight[m.nextSeq] = now
	return m.nextSeq
}

// Pong records the reply for a previously sent heartbeat. Unknown sequence
// numbers (already expired as lost) are ignored.
func (m *Monitor) Pong(peer string, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.peer(peer)
	sentAt, ok := ps.inflight[seq]
	if !ok {
		return
	}
	delete(ps.inflight, seq)
	m.record(peer, ps, sample{rtt: m.clock.Now().Sub(sentAt)})
}

// MarkDisconnect bumps the peer's disconnect count and forces RED until
// fresh samples recover it.
func (m *Monitor) MarkDisconnect(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.peer(peer)
	ps.disconnects++
	ps.samples = nil
	m.retier(peer, ps, TierRed)
}

// Snapshot returns the peer's current measured state.
func (m *Monitor) Snapshot(peer string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.peer(peer)
	rtt, jitter, loss := ps.stats()
	return State{
		Tier:            ps.tier,
		RTT:             rtt,
		Jitter:          jitter,
		LossRate:        loss,
		DisconnectCount: ps.disconnects,
	}
}

// WorstSeen returns the worst tier the peer has ever been classified at.
// Match integrity is derived from this at settlement.
func (m *Monitor) WorstSeen(peer string) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer(peer).worst
}

func (m *Monitor) peer(id string) *peerState {
	ps, ok := m.peers[id]
	if !ok {
		ps = &peerState{inflight: make(map[uint64]time.Time)}
		m.peers[id] = ps
	}
	return ps
}

func (m *Monitor) record(peer string, ps *peerState, s sample) {
	ps.samples = append(ps.samples, s)
	if len(ps.samples) > m.window {
		ps.samples = ps.samples[1:]
	}

	rtt, _, loss := ps.stats()
	m.retier(peer, ps, m.classify(rtt, loss))
}

func (m *Monitor) classify(rtt time.Duration, loss float64) Tier {
	switch {
	case rtt == 0 && loss > 0:
		// Window holds only losses; no RTT signal at all.
		return TierRed
	case rtt < m.th.GreenMaxRTT && loss < m.th.GreenMaxLoss:
		return TierGreen
	case rtt < m.th.YellowMaxRTT:
		return TierYellow
	default:
		return TierRed
	}
}

func (m *Monitor) retier(peer string, ps *peerState, to Tier) {
	if to == ps.tier {
		return
	}
	from := ps.tier
	ps.tier = to
	ps.worst = Worse(ps.worst, to)
	m.log.Info("connection tier changed",
		zap.String("peer", peer),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	select {
	case m.events <- TierChange{Peer: peer, From: from, To: to}:
	default:
	}
}

func (ps *peerState) stats() (rtt, jitter time.Duration, loss float64) {
	if len(ps.samples) == 0 {
		return 0, 0, 0
	}

	var sum, min, max time.Duration
	var got, lost int
	for _, s := range ps.samples {
		if s.lost {
			lost++
			continue
		}
		got++
		sum += s.rtt
		if min == 0 || s.rtt < min {
			min = s.rtt
		}
		if s.rtt > max {
			max = s.rtt
		}
	}

	loss = float64(lost) / float64(len(ps.samples))
	if got > 0 {
		rtt = sum / time.Duration(got)
		jitter = max - min
	}
	return rtt, jitter, loss
}
