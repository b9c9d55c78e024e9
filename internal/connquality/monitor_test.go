package connquality

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testThresholds() Thresholds {
	return Thresholds{
		GreenMaxRTT:  100 * time.Millisecond,
		GreenMaxLoss: 0.01,
		YellowMaxRTT: 300 * time.Millisecond,
	}
}

func newTestMonitor(clock clockwork.Clock) *Monitor {
	return NewMonitor(clock, testThresholds(), 10, 2*time.Second, zap.NewNop())
}

func pong(m *Monitor, clock *clockwork.FakeClock, peer string, rtt time.Duration) {
	seq := m.Ping(peer)
	clock.Advance(rtt)
	m.Pong(peer, seq)
}

func TestMonitor_FastRepliesStayGreen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(clock)

	for i := 0; i < 5; i++ {
		pong(m, clock, "p1", 30*time.Millisecond)
	}

	st := m.Snapshot("p1")
	require.Equal(t, TierGreen, st.Tier)
	require.Equal(t, 30*time.Millisecond, st.RTT)
	require.Zero(t, st.LossRate)

	select {
	case ev := <-m.Events():
		t.Fatalf("no transition expected while green, got %+v", ev)
	default:
	}
}

func TestMonitor_SlowRepliesDegradeOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(clock)

	pong(m, clock, "p1", 30*time.Millisecond)
	for i := 0; i < 9; i++ {
		pong(m, clock, "p1", 250*time.Millisecond)
	}

	require.Equal(t, TierYellow, m.Snapshot("p1").Tier)

	// Degradation produced exactly one transition event.
	var changes []TierChange
	for {
		select {
		case ev := <-m.Events():
			changes = append(changes, ev)
			continue
		default:
		}
		break
	}
	require.Len(t, changes, 1)
	require.Equal(t, TierChange{Peer: "p1", From: TierGreen, To: TierYellow}, changes[0])
}

func TestMonitor_MissedHeartbeatsCountAsLoss(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(clock)

	// Never answer; each subsequent ping expires the previous one.
	for i := 0; i < 6; i++ {
		m.Ping("p1")
		clock.Advance(5 * time.Second)
	}

	st := m.Snapshot("p1")
	require.Equal(t, TierRed, st.Tier)
	require.Equal(t, 1.0, st.LossRate)
}

func TestMonitor_JitterIsWindowSpread(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(clock)

	pong(m, clock, "p1", 20*time.Millisecond)
	pong(m, clock, "p1", 80*time.Millisecond)
	pong(m, clock, "p1", 50*time.Millisecond)

	require.Equal(t, 60*time.Millisecond, m.Snapshot("p1").Jitter)
}

func TestMonitor_DisconnectForcesRedAndCounts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(clock)

	pong(m, clock, "p1", 30*time.Millisecond)
	m.MarkDisconnect("p1")

	st := m.Snapshot("p1")
	require.Equal(t, TierRed, st.Tier)
	require.Equal(t, 1, st.DisconnectCount)
	require.Equal(t, TierRed, m.WorstSeen("p1"))

	// Recovery: fresh fast samples bring the tier back, worst stays red.
	for i := 0; i < 3; i++ {
		pong(m, clock, "p1", 30*time.Millisecond)
	}
	require.Equal(t, TierGreen, m.Snapshot("p1").Tier)
	require.Equal(t, TierRed, m.WorstSeen("p1"))
}

func TestWorse(t *testing.T) {
	require.Equal(t, TierRed, Worse(TierGreen, TierRed))
	require.Equal(t, TierYellow, Worse(TierYellow, TierGreen))
	require.Equal(t, TierGreen, Worse(TierGreen, TierGreen))
}
