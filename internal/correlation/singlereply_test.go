package correlation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openbap/go-backend/internal/store"
)

func newSingleReplyForTest(clock *testClock) (*SingleReply, *store.TenantStore) {
	ts := store.NewTenantStore(store.NewMemoryBackendWithClock(clock.Now), "buyer.example.org")
	s := NewSingleReply(ts)
	s.now = clock.Now
	return s, ts
}

func testSeller() SellerContext {
	return SellerContext{SellerID: "seller.example.org", SellerURI: "https://seller.example.org/bpp"}
}

func TestGetEntryMissing(t *testing.T) {
	s, _ := newSingleReplyForTest(newTestClock())
	entry, err := s.GetEntry(context.Background(), "select", "t1", "m1")
	require.NoError(t, err)
	require.False(t, entry.Found)
}

func TestRecordReplyFirstWriteWins(t *testing.T) {
	s, _ := newSingleReplyForTest(newTestClock())
	ctx := context.Background()

	require.NoError(t, s.CreateEntry(ctx, "select", "t1", "m1", testSeller(), time.Minute))
	require.NoError(t, s.RecordReply(ctx, "select", "t1", "m1", []byte(`{"quote":1}`)))
	// The network is at-least-once; a duplicate is accepted but discarded.
	require.NoError(t, s.RecordReply(ctx, "select", "t1", "m1", []byte(`{"quote":2}`)))

	entry, err := s.GetEntry(ctx, "select", "t1", "m1")
	require.NoError(t, err)
	require.True(t, entry.Found)
	require.True(t, entry.HasResponse)
	require.True(t, entry.Complete)
	require.JSONEq(t, `{"quote":1}`, string(entry.Response))
	require.Equal(t, "seller.example.org", entry.Context.SellerID)
}

func TestRecordReplyConcurrentDuplicates(t *testing.T) {
	s, _ := newSingleReplyForTest(newTestClock())
	ctx := context.Background()
	require.NoError(t, s.CreateEntry(ctx, "init", "t1", "m1", testSeller(), time.Minute))

	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(`{"first":true}`)
			if i > 0 {
				payload = []byte(`{"dup":true}`)
			}
			errs <- s.RecordReply(ctx, "init", "t1", "m1", payload)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entry, err := s.GetEntry(ctx, "init", "t1", "m1")
	require.NoError(t, err)
	require.True(t, entry.HasResponse)
	// Exactly one of the racing payloads was stored; it never changes after.
	stored := string(entry.Response)
	require.NoError(t, s.RecordReply(ctx, "init", "t1", "m1", []byte(`{"again":true}`)))
	entry, err = s.GetEntry(ctx, "init", "t1", "m1")
	require.NoError(t, err)
	require.Equal(t, stored, string(entry.Response))
}

func TestDuplicateReplyStillPublishes(t *testing.T) {
	clock := newTestClock()
	s, ts := newSingleReplyForTest(clock)
	ctx := context.Background()
	require.NoError(t, s.CreateEntry(ctx, "confirm", "t1", "m1", testSeller(), time.Minute))

	notified := make(chan struct{}, 4)
	cancel, err := ts.Subscribe(ctx, s.Channel("confirm", "t1", "m1"), func([]byte) { notified <- struct{}{} })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.RecordReply(ctx, "confirm", "t1", "m1", []byte(`{"n":1}`)))
	require.NoError(t, s.RecordReply(ctx, "confirm", "t1", "m1", []byte(`{"n":2}`)))

	for i := 0; i < 2; i++ {
		select {
		case <-notified:
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d not published", i+1)
		}
	}
}

func TestSameTransactionDistinctMessages(t *testing.T) {
	s, _ := newSingleReplyForTest(newTestClock())
	ctx := context.Background()

	require.NoError(t, s.CreateEntry(ctx, "select", "t1", "m1", testSeller(), time.Minute))
	require.NoError(t, s.CreateEntry(ctx, "select", "t1", "m2", testSeller(), time.Minute))
	require.NoError(t, s.RecordReply(ctx, "select", "t1", "m1", []byte(`{"pick":1}`)))

	first, err := s.GetEntry(ctx, "select", "t1", "m1")
	require.NoError(t, err)
	require.True(t, first.HasResponse)

	second, err := s.GetEntry(ctx, "select", "t1", "m2")
	require.NoError(t, err)
	require.True(t, second.Found)
	require.False(t, second.HasResponse)
}

func TestSingleReplyDeadlineCompletion(t *testing.T) {
	clock := newTestClock()
	s, _ := newSingleReplyForTest(clock)
	ctx := context.Background()

	require.NoError(t, s.CreateEntry(ctx, "init", "t1", "m1", testSeller(), 5*time.Second))
	entry, err := s.GetEntry(ctx, "init", "t1", "m1")
	require.NoError(t, err)
	require.False(t, entry.Complete)

	clock.Advance(6 * time.Second)
	entry, err = s.GetEntry(ctx, "init", "t1", "m1")
	require.NoError(t, err)
	require.True(t, entry.Found)
	require.False(t, entry.HasResponse)
	require.True(t, entry.Complete)
}

func TestStatusStoreOverwrites(t *testing.T) {
	ts := store.NewTenantStore(store.NewMemoryBackend(), "buyer.example.org")
	st := NewStatusStore(ts)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "o1", []byte(`{"state":"Created"}`)))
	require.NoError(t, st.Set(ctx, "o1", []byte(`{"state":"Completed"}`)))

	payload, found, err := st.Get(ctx, "o1")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `{"state":"Completed"}`, string(payload))

	ids, err := st.OrderIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"o1"}, ids)
}
