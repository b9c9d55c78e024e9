package match

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/connquality"
	"github.com/mathduel/backend/internal/engine"
)

func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func recvResult(t *testing.T, ch <-chan Result, within time.Duration) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(within):
		t.Fatalf("timed out waiting for result")
		return Result{}
	}
}

type fixedTiers struct{ m map[string]connquality.Tier }

func (f fixedTiers) WorstSeen(peer string) connquality.Tier { return f.m[peer] }

type fixedConflicts int

func (f fixedConflicts) Conflicts() int { return int(f) }

func testConfig(d time.Duration) Config {
	return Config{Duration: d, ConflictYellowAt: 3, ConflictRedAt: 10, Ranked: true, Mode: "ranked"}
}

func newTestSession(t *testing.T, cfg Config, tiers TierSource, conflicts ConflictSource) (*Session, <-chan Result) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	results := make(chan Result, 4)
	init := engine.NewState(engine.OpAddition,
		engine.Player{ID: "alice", DisplayName: "Alice"},
		engine.Player{ID: "bob", DisplayName: "Bob"})

	s := NewSession(ctx, uuid.New(), init, cfg, tiers, conflicts,
		clockwork.NewRealClock(), func(r Result) { results <- r }, zap.NewNop())
	return s, results
}

func startMatch(t *testing.T, s *Session, out chan Snapshot) {
	t.Helper()
	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, time.Second) // join snapshot, version 0

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideHome}}
	_ = recvSnapshot(t, out, time.Second)
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideAway}}
	snap := recvSnapshot(t, out, time.Second)
	require.Equal(t, engine.PhaseActive, snap.State.Phase)
}

func TestSession_BroadcastsVersionedSnapshots(t *testing.T) {
	s, _ := newTestSession(t, testConfig(time.Minute), nil, nil)
	out := make(chan Snapshot, 8)
	startMatch(t, s, out)

	answer := answerFor(t, s, engine.SideHome)
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdSubmitAnswer, Side: engine.SideHome, Answer: answer}}

	snap := recvSnapshot(t, out, time.Second)
	require.Equal(t, int64(3), snap.Version)
	require.Equal(t, 1, snap.State.Players[engine.SideHome].Score)
	require.Greater(t, snap.RemainingMS, int64(0))
}

// answerFor reads the current expected answer through GetState so the test
// does not depend on the question generator.
func answerFor(t *testing.T, s *Session, side engine.Side) int {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v.State.Questions[side].Answer
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return 0
	}
}

func TestSession_TimerExpiryEndsAndSettlesOnce(t *testing.T) {
	s, results := newTestSession(t, testConfig(50*time.Millisecond), nil, nil)
	out := make(chan Snapshot, 8)
	startMatch(t, s, out)

	res := recvResult(t, results, time.Second)
	require.True(t, res.Outcome.IsDraw, "0-0 at expiry is a draw")
	require.False(t, res.Outcome.Forfeit)

	select {
	case extra := <-results:
		t.Fatalf("settlement triggered twice: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_DuplicateForfeitSettlesOnce(t *testing.T) {
	s, results := newTestSession(t, testConfig(time.Minute), nil, nil)
	out := make(chan Snapshot, 8)
	startMatch(t, s, out)

	// The disconnect signal fires twice; only one settlement may happen.
	s.Inbox() <- PeerGone{Side: engine.SideAway}
	s.Inbox() <- PeerGone{Side: engine.SideAway}

	res := recvResult(t, results, time.Second)
	require.True(t, res.Outcome.Forfeit)
	require.Equal(t, "alice", res.Outcome.WinnerID)
	require.Equal(t, engine.RewardForfeitWin, res.Outcome.Reward)

	select {
	case extra := <-results:
		t.Fatalf("settlement triggered twice: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSession_IntegrityDegradesRanked(t *testing.T) {
	tiers := fixedTiers{m: map[string]connquality.Tier{"alice": connquality.TierGreen, "bob": connquality.TierYellow}}
	s, results := newTestSession(t, testConfig(time.Minute), tiers, fixedConflicts(0))
	out := make(chan Snapshot, 8)
	startMatch(t, s, out)

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdLeave, Side: engine.SideAway}}

	res := recvResult(t, results, time.Second)
	require.Equal(t, connquality.TierYellow, res.Integrity)
	require.False(t, res.Ranked, "non-green integrity is unranked even for ranked matches")
}

func TestSession_ConflictCountDegradesIntegrity(t *testing.T) {
	s, results := newTestSession(t, testConfig(time.Minute), fixedTiers{}, fixedConflicts(4))
	out := make(chan Snapshot, 8)
	startMatch(t, s, out)

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdLeave, Side: engine.SideAway}}

	res := recvResult(t, results, time.Second)
	require.Equal(t, connquality.TierYellow, res.Integrity)
}

func TestSession_LeaveClosesOutbox(t *testing.T) {
	s, _ := newTestSession(t, testConfig(time.Minute), nil, nil)
	out := make(chan Snapshot, 8)

	s.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, time.Second)

	s.Inbox() <- Leave{ClientID: "c1"}

	// A ranging writer goroutine must unblock when the client leaves.
	select {
	case _, ok := <-out:
		require.False(t, ok, "outbox should be closed, not sent to")
	case <-time.After(time.Second):
		t.Fatalf("outbox left open after leave")
	}

	// A duplicate leave for the same client is a no-op.
	s.Inbox() <- Leave{ClientID: "c1"}
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		require.Zero(t, v.NumClients)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
	}
}

func TestSession_DropsSlowClient(t *testing.T) {
	s, _ := newTestSession(t, testConfig(time.Minute), nil, nil)

	out := make(chan Snapshot) // unbuffered and never read after join
	s.Inbox() <- Join{ClientID: "slow", Outbox: out}
	<-out // take the join snapshot so the actor is not blocked

	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideHome}}
	s.Inbox() <- FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideAway}}

	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		require.Zero(t, v.NumClients, "slow client should be dropped")
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
	}
}
