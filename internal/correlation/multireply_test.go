package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openbap/go-backend/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1700000000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMultiReplyForTest(clock *testClock) *MultiReply {
	ts := store.NewTenantStore(store.NewMemoryBackendWithClock(clock.Now), "buyer.example.org")
	m := NewMultiReply(ts)
	m.now = clock.Now
	return m
}

func TestSnapshotNeverCreated(t *testing.T) {
	m := newMultiReplyForTest(newTestClock())
	snap, err := m.Snapshot(context.Background(), "never")
	require.NoError(t, err)
	require.False(t, snap.Found)
	require.Zero(t, snap.ReplyCount)
}

func TestCreateEntryIdempotent(t *testing.T) {
	clock := newTestClock()
	m := newMultiReplyForTest(clock)
	ctx := context.Background()

	require.NoError(t, m.CreateEntry(ctx, "t1", 10*time.Second))
	require.NoError(t, m.AddReply(ctx, "t1", []byte(`{"seller":"a"}`)))
	firstDeadline := mustSnapshot(t, m, "t1").Deadline

	clock.Advance(3 * time.Second)
	// Re-creating must not reset the reply list or move the deadline.
	require.NoError(t, m.CreateEntry(ctx, "t1", 10*time.Second))

	snap := mustSnapshot(t, m, "t1")
	require.Equal(t, 1, snap.ReplyCount)
	require.Equal(t, firstDeadline, snap.Deadline)
}

func TestConcurrentAddReplies(t *testing.T) {
	m := newMultiReplyForTest(newTestClock())
	ctx := context.Background()
	require.NoError(t, m.CreateEntry(ctx, "t1", time.Minute))

	const n = 40
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- m.AddReply(ctx, "t1", []byte(fmt.Sprintf(`{"seller":%d}`, i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	snap := mustSnapshot(t, m, "t1")
	require.Equal(t, n, snap.ReplyCount)
	seen := make(map[string]bool)
	for _, reply := range snap.Replies {
		require.False(t, seen[string(reply)], "payload %s appeared twice", reply)
		seen[string(reply)] = true
	}
}

func TestCompletionIsDeadlineOnly(t *testing.T) {
	clock := newTestClock()
	m := newMultiReplyForTest(clock)
	ctx := context.Background()

	require.NoError(t, m.CreateEntry(ctx, "t1", 5*time.Second))
	require.False(t, mustSnapshot(t, m, "t1").Complete)

	// Zero replies is a valid complete state.
	clock.Advance(5 * time.Second)
	snap := mustSnapshot(t, m, "t1")
	require.True(t, snap.Complete)
	require.Zero(t, snap.ReplyCount)
}

func TestLateRepliesStillRecorded(t *testing.T) {
	clock := newTestClock()
	m := newMultiReplyForTest(clock)
	ctx := context.Background()

	require.NoError(t, m.CreateEntry(ctx, "t1", 2*time.Second))
	clock.Advance(10 * time.Second)
	require.NoError(t, m.AddReply(ctx, "t1", []byte(`{"late":true}`)))

	snap := mustSnapshot(t, m, "t1")
	require.True(t, snap.Complete)
	require.Equal(t, 1, snap.ReplyCount)
}

// The timeline from the discovery aggregation contract: replies at t=0s and
// t=2s against a 5s deadline, observed at t=1s and t=6s.
func TestDiscoveryTimeline(t *testing.T) {
	clock := newTestClock()
	m := newMultiReplyForTest(clock)
	ctx := context.Background()

	require.NoError(t, m.CreateEntry(ctx, "T1", 5*time.Second))
	require.NoError(t, m.AddReply(ctx, "T1", []byte(`{"seller":"A"}`)))

	clock.Advance(1 * time.Second)
	snap := mustSnapshot(t, m, "T1")
	require.Equal(t, 1, snap.ReplyCount)
	require.False(t, snap.Complete)

	clock.Advance(1 * time.Second)
	require.NoError(t, m.AddReply(ctx, "T1", []byte(`{"seller":"B"}`)))

	clock.Advance(4 * time.Second)
	snap = mustSnapshot(t, m, "T1")
	require.Equal(t, 2, snap.ReplyCount)
	require.True(t, snap.Complete)
}

func TestAddReplyPublishesNotification(t *testing.T) {
	clock := newTestClock()
	backend := store.NewMemoryBackendWithClock(clock.Now)
	ts := store.NewTenantStore(backend, "buyer.example.org")
	m := NewMultiReply(ts)
	m.now = clock.Now
	ctx := context.Background()

	require.NoError(t, m.CreateEntry(ctx, "t1", time.Minute))

	notified := make(chan []byte, 1)
	cancel, err := ts.Subscribe(ctx, m.Channel("t1"), func(p []byte) { notified <- p })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.AddReply(ctx, "t1", []byte(`{}`)))
	select {
	case p := <-notified:
		require.Equal(t, "t1", string(p))
	case <-time.After(2 * time.Second):
		t.Fatal("no notification published")
	}
}

func mustSnapshot(t *testing.T, m *MultiReply, transactionID string) MultiReplySnapshot {
	t.Helper()
	snap, err := m.Snapshot(context.Background(), transactionID)
	require.NoError(t, err)
	require.True(t, snap.Found)
	return snap
}
