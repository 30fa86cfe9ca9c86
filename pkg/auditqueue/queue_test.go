package auditqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentrygate/gateway/pkg/audit"
)

type fakeStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	failN   int
}

func (f *fakeStore) Insert(ctx context.Context, e audit.Entry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return 0, context.DeadlineExceeded
	}
	f.entries = append(f.entries, e)
	return int64(len(f.entries)), nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestSyncModeInsertsDirectlyWithoutDrainer(t *testing.T) {
	store := &fakeStore{}
	q := New(store, 10, false)
	q.Start(context.Background())
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r1"}))
	require.Equal(t, 1, store.count())
	require.Equal(t, int64(0), q.Size())
}

func TestAsyncModeDrainsInBackground(t *testing.T) {
	store := &fakeStore{}
	q := New(store, 10, true, WithDrainInterval(10*time.Millisecond), WithBatchSize(5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r1"}))
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r2"}))

	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAsyncModeDropsWhenFull(t *testing.T) {
	store := &fakeStore{}
	q := New(store, 1, true, WithDrainInterval(time.Hour))
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r1"}))
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r2"}))
	require.Equal(t, int64(1), q.Dropped())
}

func TestFlushDrainsRemainingEntriesSynchronously(t *testing.T) {
	store := &fakeStore{}
	q := New(store, 10, true, WithDrainInterval(time.Hour))
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r1"}))
	require.NoError(t, q.Enqueue(context.Background(), audit.Entry{RequestID: "r2"}))
	q.Flush(context.Background())
	require.Equal(t, 2, store.count())
	require.Equal(t, int64(0), q.Size())
}
