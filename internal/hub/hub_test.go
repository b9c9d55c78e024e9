package hub

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/engine"
	"github.com/mathduel/backend/internal/match"
	"github.com/mathduel/backend/internal/settle"
)

type fakeSettler struct {
	got chan settle.Result
}

func (f *fakeSettler) Settle(ctx context.Context, res settle.Result) (settle.Reward, error) {
	f.got <- res
	return settle.Reward{RatingChange: 10}, nil
}

func newTestHub(t *testing.T) (*Hub, *fakeSettler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	settler := &fakeSettler{got: make(chan settle.Result, 1)}
	return New(ctx, nil, settler, clockwork.NewRealClock(), zap.NewNop()), settler
}

func duelState() engine.State {
	return engine.NewState(engine.OpAddition,
		engine.Player{ID: "alice"}, engine.Player{ID: "bob"})
}

func TestHub_CreateGet_SamePointer(t *testing.T) {
	h, _ := newTestHub(t)
	id := uuid.New()
	reply := make(chan *match.Session, 1)

	h.Inbox() <- CreateMatch{ID: id, State: duelState(), Cfg: match.Config{Duration: time.Minute}, Reply: reply}
	s1 := <-reply

	h.Inbox() <- GetMatch{ID: id.String(), Reply: reply}
	s2 := <-reply

	require.NotNil(t, s1)
	require.Same(t, s1, s2)
}

func TestHub_EnsureCreatesOnlyWhenMissing(t *testing.T) {
	h, _ := newTestHub(t)
	id := uuid.New()
	reply := make(chan *match.Session, 1)

	h.Inbox() <- EnsureMatch{ID: id, State: duelState(), Cfg: match.Config{Duration: time.Minute}, Reply: reply}
	s1 := <-reply
	h.Inbox() <- EnsureMatch{ID: id, State: duelState(), Cfg: match.Config{Duration: time.Minute}, Reply: reply}
	s2 := <-reply

	require.Same(t, s1, s2)
}

func TestHub_UnknownMatchIsNil(t *testing.T) {
	h, _ := newTestHub(t)
	reply := make(chan *match.Session, 1)
	h.Inbox() <- GetMatch{ID: "nope", Reply: reply}
	require.Nil(t, <-reply)
}

type fixedConflicts int

func (f fixedConflicts) Conflicts() int { return int(f) }

func TestHub_ConflictSourceDegradesIntegrity(t *testing.T) {
	h, settler := newTestHub(t)
	id := uuid.New()
	reply := make(chan *match.Session, 1)

	cfg := match.Config{Duration: time.Minute, ConflictYellowAt: 3, ConflictRedAt: 10, Ranked: true, Mode: "ranked"}
	h.Inbox() <- CreateMatch{ID: id, State: duelState(), Cfg: cfg, Conflicts: fixedConflicts(12), Reply: reply}
	s := <-reply

	s.Inbox() <- match.FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideHome}}
	s.Inbox() <- match.FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideAway}}
	s.Inbox() <- match.PeerGone{Side: engine.SideAway}

	select {
	case res := <-settler.got:
		require.Equal(t, "red", res.MatchIntegrity, "conflict count past the red threshold degrades integrity")
		require.False(t, res.Ranked, "non-green integrity forces unranked")
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for settlement")
	}
}

func TestHub_EndedMatchIsSettledAndDropped(t *testing.T) {
	h, settler := newTestHub(t)
	id := uuid.New()
	reply := make(chan *match.Session, 1)

	h.Inbox() <- CreateMatch{ID: id, State: duelState(), Cfg: match.Config{Duration: time.Minute, Ranked: true, Mode: "ranked"}, Reply: reply}
	s := <-reply

	s.Inbox() <- match.FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideHome}}
	s.Inbox() <- match.FromClient{Cmd: engine.Command{Type: engine.CmdConnect, Side: engine.SideAway}}
	s.Inbox() <- match.PeerGone{Side: engine.SideAway}

	select {
	case res := <-settler.got:
		require.Equal(t, id.String(), res.MatchID)
		require.Equal(t, "alice", res.WinnerID)
		require.True(t, res.Forfeit)
		require.Equal(t, engine.RewardForfeitWin, res.Reward)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for settlement")
	}

	require.Eventually(t, func() bool {
		h.Inbox() <- GetMatch{ID: id.String(), Reply: reply}
		return <-reply == nil
	}, time.Second, 10*time.Millisecond, "settled match should leave the registry")
}
