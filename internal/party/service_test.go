package party

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ask(t *testing.T, s *Service, build func(chan Reply) Msg) Reply {
	t.Helper()
	reply := make(chan Reply, 1)
	s.Inbox() <- build(reply)
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply")
		return Reply{}
	}
}

func recvPush(t *testing.T, ch <-chan Push, within time.Duration) Push {
	t.Helper()
	select {
	case p, ok := <-ch:
		if !ok {
			t.Fatalf("push channel closed unexpectedly")
		}
		return p
	case <-time.After(within):
		t.Fatalf("timed out waiting for push")
		return Push{}
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewService(ctx, nil, staticMatchID, zap.NewNop())
}

func buildFullParty(t *testing.T, s *Service) {
	t.Helper()
	r := ask(t, s, func(reply chan Reply) Msg {
		return Create{ID: "P1", Leader: Member{UserID: "leader"}, Visibility: "private", Size: 5, Reply: reply}
	})
	require.NoError(t, r.Err)

	for _, id := range []string{"m2", "m3", "m4", "m5"} {
		r = ask(t, s, func(reply chan Reply) Msg {
			return JoinMember{PartyID: "P1", Member: Member{UserID: id}, Reply: reply}
		})
		require.NoError(t, r.Err)
	}

	r = ask(t, s, func(reply chan Reply) Msg {
		return AssignRole{PartyID: "P1", ActorID: "leader", Target: "m2", Reply: reply}
	})
	require.NoError(t, r.Err)
	r = ask(t, s, func(reply chan Reply) Msg {
		return AssignRole{PartyID: "P1", ActorID: "leader", Target: "m3", Anchor: true, Reply: reply}
	})
	require.NoError(t, r.Err)

	for _, id := range []string{"m2", "m3", "m4", "m5"} {
		r = ask(t, s, func(reply chan Reply) Msg {
			return ToggleReadyMsg{PartyID: "P1", UserID: id, Reply: reply}
		})
		require.NoError(t, r.Err)
	}
}

func TestService_FullRankedQueue_AllMembersNotified(t *testing.T) {
	s := newTestService(t)
	buildFullParty(t, s)

	// Five member clients subscribed for pushes.
	outboxes := make([]chan Push, 5)
	for i := range outboxes {
		outboxes[i] = make(chan Push, 8)
		s.Inbox() <- Subscribe{PartyID: "P1", ClientID: string(rune('a' + i)), Outbox: outboxes[i]}
		_ = recvPush(t, outboxes[i], time.Second) // initial snapshot push
	}

	r := ask(t, s, func(reply chan Reply) Msg {
		return StartQueueMsg{PartyID: "P1", ActorID: "leader", MatchType: TypeRanked, Reply: reply}
	})
	require.NoError(t, r.Err)
	require.Equal(t, StatusFindingOpponents, r.Transition.Status)

	// Every member observes the queue-status change.
	for _, out := range outboxes {
		push := recvPush(t, out, time.Second)
		require.True(t, push.QueueChanged)
		require.Equal(t, StatusFindingOpponents, push.Party.QueueStatus)
	}
}

func TestService_UnreadyCancellation_IsNotSilent(t *testing.T) {
	s := newTestService(t)
	buildFullParty(t, s)

	out := make(chan Push, 8)
	s.Inbox() <- Subscribe{PartyID: "P1", ClientID: "watcher", Outbox: out}
	_ = recvPush(t, out, time.Second)

	r := ask(t, s, func(reply chan Reply) Msg {
		return StartQueueMsg{PartyID: "P1", ActorID: "leader", MatchType: TypeRanked, Reply: reply}
	})
	require.NoError(t, r.Err)
	_ = recvPush(t, out, time.Second) // queue start push

	r = ask(t, s, func(reply chan Reply) Msg {
		return ToggleReadyMsg{PartyID: "P1", UserID: "m4", Reply: reply}
	})
	require.NoError(t, r.Err)

	push := recvPush(t, out, time.Second)
	require.True(t, push.QueueChanged, "cancellation must be pushed, not silent")
	require.Equal(t, StatusNone, push.Party.QueueStatus)
}

func TestService_VersionsIncreaseMonotonically(t *testing.T) {
	s := newTestService(t)
	buildFullParty(t, s)

	out := make(chan Push, 16)
	s.Inbox() <- Subscribe{PartyID: "P1", ClientID: "watcher", Outbox: out}
	first := recvPush(t, out, time.Second)

	r := ask(t, s, func(reply chan Reply) Msg {
		return LinkTeamMsg{PartyID: "P1", ActorID: "leader", TeamID: "team-9", Reply: reply}
	})
	require.NoError(t, r.Err)

	second := recvPush(t, out, time.Second)
	require.Greater(t, second.Version, first.Version)
	require.Equal(t, "team-9", second.Party.LinkedTeamID)
}

func TestService_UnsubscribeClosesOutbox(t *testing.T) {
	s := newTestService(t)
	buildFullParty(t, s)

	out := make(chan Push, 8)
	s.Inbox() <- Subscribe{PartyID: "P1", ClientID: "watcher", Outbox: out}
	_ = recvPush(t, out, time.Second)

	s.Inbox() <- Unsubscribe{PartyID: "P1", ClientID: "watcher"}

	// A ranging writer goroutine must unblock when the client goes away.
	select {
	case _, ok := <-out:
		require.False(t, ok, "outbox should be closed, not sent to")
	case <-time.After(time.Second):
		t.Fatalf("outbox left open after unsubscribe")
	}

	// Repeat unsubscribe for the same client is a no-op.
	s.Inbox() <- Unsubscribe{PartyID: "P1", ClientID: "watcher"}
	r := ask(t, s, func(reply chan Reply) Msg {
		return GetSnapshot{PartyID: "P1", Reply: reply}
	})
	require.NoError(t, r.Err)
}

func TestService_SnapshotAndUnknownParty(t *testing.T) {
	s := newTestService(t)
	buildFullParty(t, s)

	r := ask(t, s, func(reply chan Reply) Msg {
		return GetSnapshot{PartyID: "P1", Reply: reply}
	})
	require.NoError(t, r.Err)
	require.Len(t, r.Party.Members, 5)

	r = ask(t, s, func(reply chan Reply) Msg {
		return GetSnapshot{PartyID: "nope", Reply: reply}
	})
	require.ErrorIs(t, r.Err, ErrPartyNotFound)
}
