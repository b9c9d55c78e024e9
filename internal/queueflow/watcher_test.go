package queueflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mathduel/backend/internal/party"
)

type fakeNav struct {
	mu     sync.Mutex
	queue  []string // "partyID/phase"
	match  []string // "matchID/partyID"
	visits int
}

func (n *fakeNav) ToQueueScreen(partyID string, phase QueuePhase, mode string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, partyID+"/"+string(phase))
	n.visits++
}

func (n *fakeNav) ToMatchScreen(matchID, partyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.match = append(n.match, matchID+"/"+partyID)
	n.visits++
}

func (n *fakeNav) totalVisits() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visits
}

type fakeClient struct {
	mu      sync.Mutex
	party   party.Party
	cancels int
}

func (c *fakeClient) FetchParty(ctx context.Context) (party.Party, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.party, nil
}

func (c *fakeClient) CancelQueue(ctx context.Context, partyID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels++
	c.party.QueueStatus = party.StatusNone
	c.party.Version++
	return nil
}

func (c *fakeClient) set(version int64, status party.QueueStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.party.Version = version
	c.party.QueueStatus = status
}

func (c *fakeClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

func newTestWatcher(clock clockwork.Clock, nav *fakeNav, client *fakeClient) (*Watcher, *Guard) {
	guard := NewGuard(clock, 5*time.Second, 30*time.Second)
	w := NewWatcher("P1", "ranked", guard, nav, client, clock, 5*time.Second, zap.NewNop())
	return w, guard
}

func pushFor(version int64, status party.QueueStatus) party.Push {
	return party.Push{
		Version:      version,
		Party:        party.Party{ID: "P1", QueueStatus: status, Version: version},
		QueueChanged: true,
	}
}

func TestWatcher_PushAndPollRace_SingleRedirect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	client := &fakeClient{}
	client.set(3, party.StatusFindingOpponents)
	w, _ := newTestWatcher(clock, nav, client)

	ctx := context.Background()

	// Both channels observe the same transition concurrently.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.OnPush(ctx, pushFor(3, party.StatusFindingOpponents)) }()
	go func() { defer wg.Done(); w.PollOnce(ctx) }()
	wg.Wait()

	require.Equal(t, 1, nav.totalVisits(), "poll and push must not both navigate")
	require.Equal(t, []string{"P1/opponents"}, nav.queue)
}

func TestWatcher_DuplicatePushIsNoOp(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	w, _ := newTestWatcher(clock, nav, &fakeClient{})

	ctx := context.Background()
	w.OnPush(ctx, pushFor(3, party.StatusFindingOpponents))
	w.OnPush(ctx, pushFor(3, party.StatusFindingOpponents))

	require.Equal(t, 1, nav.totalVisits())
}

func TestWatcher_TeammatePhaseScreen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	w, _ := newTestWatcher(clock, nav, &fakeClient{})

	w.OnPush(context.Background(), pushFor(1, party.StatusFindingTeammates))
	require.Equal(t, []string{"P1/teammates"}, nav.queue)
}

func TestWatcher_AIMatchGoesToMatchScreen(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	w, _ := newTestWatcher(clock, nav, &fakeClient{})

	w.OnPush(context.Background(), pushFor(1, party.AIMatchStatus("m-77")))
	require.Equal(t, []string{"m-77/P1"}, nav.match)
}

func TestWatcher_LeaveQueue_PollCannotResurrect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	client := &fakeClient{}
	w, _ := newTestWatcher(clock, nav, client)

	ctx := context.Background()
	w.OnPush(ctx, pushFor(3, party.StatusFindingOpponents))
	require.NoError(t, w.LeaveQueue(ctx))
	require.Equal(t, party.StatusNone, w.QueueStatus())

	// A lagging poll snapshot still carries the old status at a newer
	// version; it must not resurrect it or trigger navigation.
	client.set(4, party.StatusFindingOpponents)
	w.PollOnce(ctx)

	require.Equal(t, party.StatusNone, w.QueueStatus())
	require.Equal(t, 1, nav.totalVisits(), "only the original transition navigated")
}

func TestWatcher_RequeueAfterLeaveRedirectsAgain(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	client := &fakeClient{}
	w, guard := newTestWatcher(clock, nav, client)
	ctx := context.Background()

	// First queue: followed once.
	w.OnPush(ctx, pushFor(3, party.StatusFindingOpponents))
	require.Equal(t, 1, nav.totalVisits())

	// The user backs out of the queue screen and leaves the queue.
	guard.Reset()
	require.NoError(t, w.LeaveQueue(ctx))

	clock.Advance(6 * time.Second)
	require.Equal(t, StateArmed, guard.State())

	// The leader starts a fresh queue with the same status. This is a
	// new null -> non-null transition and must be followed again.
	w.OnPush(ctx, pushFor(5, party.StatusFindingOpponents))
	require.Equal(t, 2, nav.totalVisits(), "fresh queue after grace must redirect again")
	require.Equal(t, []string{"P1/opponents", "P1/opponents"}, nav.queue)
}

func TestWatcher_StaleMarkerScenario(t *testing.T) {
	clock := clockwork.NewFakeClock()
	nav := &fakeNav{}
	client := &fakeClient{}
	w, guard := newTestWatcher(clock, nav, client)
	ctx := context.Background()

	// The client just left a queue for this party...
	guard.MarkLeft("P1")
	// ...but the freshly fetched record still shows the old status.
	client.set(7, party.StatusFindingOpponents)
	w.PollOnce(ctx)

	require.Equal(t, 1, client.cancelCount(), "stale status cleared via one explicit cancel")
	require.Zero(t, nav.totalVisits(), "stale status never redirects")
	require.Equal(t, party.StatusNone, w.QueueStatus())

	// Repeat polls while the server still lags: no second cancel.
	client.set(8, party.StatusFindingOpponents)
	w.PollOnce(ctx)
	require.Equal(t, 1, client.cancelCount())
	require.Zero(t, nav.totalVisits())

	// During the grace window even a genuine push may not redirect.
	require.Equal(t, StateGracePeriod, guard.State())

	clock.Advance(6 * time.Second)
	require.Equal(t, StateArmed, guard.State())

	// After the gate lifts, the leader starts a fresh queue: followed once.
	w.OnPush(ctx, pushFor(9, party.StatusFindingOpponents))
	w.PollOnce(ctx) // poll sees it too
	require.Equal(t, 1, nav.totalVisits())
	require.Equal(t, []string{"P1/opponents"}, nav.queue)
}

