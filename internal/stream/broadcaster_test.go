package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openbap/go-backend/internal/correlation"
	"openbap/go-backend/internal/store"
)

type streamFixture struct {
	store  *store.TenantStore
	multi  *correlation.MultiReply
	single *correlation.SingleReply
	b      *Broadcaster
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	ts := store.NewTenantStore(store.NewMemoryBackend(), "buyer.example.org")
	sched := NewScheduler(20 * time.Millisecond)
	t.Cleanup(sched.Close)
	return &streamFixture{
		store:  ts,
		multi:  correlation.NewMultiReply(ts),
		single: correlation.NewSingleReply(ts),
		b:      NewBroadcaster(ts, sched, nil),
	}
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed unexpectedly")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func requireClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.False(t, ok, "expected closed stream, got event %q", ev.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not close")
	}
}

func TestStreamUnknownEntryEmitsErrorNeverInitial(t *testing.T) {
	f := newStreamFixture(t)
	ch := f.b.Stream(context.Background(), NewMultiReplySource(f.multi, "missing"))

	require.Equal(t, EventConnected, nextEvent(t, ch).Name)
	ev := nextEvent(t, ch)
	require.Equal(t, EventError, ev.Name)
	var body map[string]string
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	require.NotEmpty(t, body["message"], "error event carries a human-readable reason")
	requireClosed(t, ch)
}

func TestStreamLifecycleWithUpdatesAndDeadline(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	require.NoError(t, f.multi.CreateEntry(ctx, "t1", time.Second))

	ch := f.b.Stream(ctx, NewMultiReplySource(f.multi, "t1"))
	require.Equal(t, EventConnected, nextEvent(t, ch).Name)

	initial := nextEvent(t, ch)
	require.Equal(t, EventInitial, initial.Name)
	var snap correlation.MultiReplySnapshot
	require.NoError(t, json.Unmarshal(initial.Data, &snap))
	require.Zero(t, snap.ReplyCount)
	require.False(t, snap.Complete)

	require.NoError(t, f.multi.AddReply(ctx, "t1", []byte(`{"seller":"a"}`)))
	update := nextEvent(t, ch)
	require.Equal(t, EventUpdate, update.Name)
	require.NoError(t, json.Unmarshal(update.Data, &snap))
	require.Equal(t, 1, snap.ReplyCount)

	// The watchdog forces completion once the deadline passes.
	complete := nextEvent(t, ch)
	require.Equal(t, EventComplete, complete.Name)
	require.NoError(t, json.Unmarshal(complete.Data, &snap))
	require.True(t, snap.Complete)
	requireClosed(t, ch)
}

func TestStreamCompletesWithZeroReplies(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	require.NoError(t, f.multi.CreateEntry(ctx, "t1", 150*time.Millisecond))

	ch := f.b.Stream(ctx, NewMultiReplySource(f.multi, "t1"))
	require.Equal(t, EventConnected, nextEvent(t, ch).Name)
	require.Equal(t, EventInitial, nextEvent(t, ch).Name)
	require.Equal(t, EventComplete, nextEvent(t, ch).Name)
	requireClosed(t, ch)
}

func TestStreamAlreadyCompleteAtConnect(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	require.NoError(t, f.multi.CreateEntry(ctx, "t1", time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	ch := f.b.Stream(ctx, NewMultiReplySource(f.multi, "t1"))
	require.Equal(t, EventConnected, nextEvent(t, ch).Name)
	require.Equal(t, EventInitial, nextEvent(t, ch).Name)
	require.Equal(t, EventComplete, nextEvent(t, ch).Name)
	requireClosed(t, ch)
}

func TestStreamCancellationClosesWithoutFurtherEvents(t *testing.T) {
	f := newStreamFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.multi.CreateEntry(ctx, "t1", time.Minute))

	ch := f.b.Stream(ctx, NewMultiReplySource(f.multi, "t1"))
	require.Equal(t, EventConnected, nextEvent(t, ch).Name)
	require.Equal(t, EventInitial, nextEvent(t, ch).Name)

	cancel()
	requireClosed(t, ch)

	// A reply after disconnect must not panic or emit anywhere.
	require.NoError(t, f.multi.AddReply(context.Background(), "t1", []byte(`{}`)))
}

func TestSingleReplyStreamCompletesOnResponse(t *testing.T) {
	f := newStreamFixture(t)
	ctx := context.Background()
	seller := correlation.SellerContext{SellerID: "seller.example.org"}
	require.NoError(t, f.single.CreateEntry(ctx, "select", "t1", "m1", seller, time.Minute))

	ch := f.b.Stream(ctx, NewSingleReplySource(f.single, "select", "t1", "m1"))
	require.Equal(t, EventConnected, nextEvent(t, ch).Name)
	require.Equal(t, EventInitial, nextEvent(t, ch).Name)

	require.NoError(t, f.single.RecordReply(ctx, "select", "t1", "m1", []byte(`{"quote":7}`)))

	complete := nextEvent(t, ch)
	require.Equal(t, EventComplete, complete.Name)
	var entry correlation.SingleReplyEntry
	require.NoError(t, json.Unmarshal(complete.Data, &entry))
	require.True(t, entry.HasResponse)
	requireClosed(t, ch)
}
