package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	urls []string
	err  error
}

func (l staticLister) UserURLs(ctx context.Context) ([]string, error) {
	return l.urls, l.err
}

type failingStore struct {
	MemoryStore
}

func (s *failingStore) Add(ctx context.Context, urls ...string) error {
	return errors.New("disk full")
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), NewMemoryStore())
	require.NoError(t, err)
	return tr
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	url := "https://example.com/post"

	assert.True(t, tr.ShouldSubmit(url))
	assert.Equal(t, NotSubmitted, tr.State(url))

	tr.MarkPending(url)
	assert.False(t, tr.ShouldSubmit(url))
	assert.Equal(t, Pending, tr.State(url))

	tr.MarkFailed(url)
	assert.True(t, tr.ShouldSubmit(url), "failure must release the pending mark")

	tr.MarkPending(url)
	require.NoError(t, tr.MarkConfirmed(ctx, url))
	assert.False(t, tr.ShouldSubmit(url))
	assert.Equal(t, Confirmed, tr.State(url))

	// A late failure never un-confirms
	tr.MarkFailed(url)
	assert.Equal(t, Confirmed, tr.State(url))

	pending, confirmed := tr.Counts()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 1, confirmed)
}

func TestKeysAreCanonical(t *testing.T) {
	tr := newTracker(t)

	tr.MarkPending("https://example.com/post/")
	assert.False(t, tr.ShouldSubmit("https://example.com/post"))
	assert.False(t, tr.TryAcquire("https://example.com/post"))

	tr.MarkFailed("https://example.com/post")
	assert.True(t, tr.ShouldSubmit("https://example.com/post/"))
}

func TestTryAcquireIsExclusive(t *testing.T) {
	tr := newTracker(t)
	url := "https://example.com/race"

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.TryAcquire(url) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, Pending, tr.State(url))
}

func TestMarkConfirmedPersistFailureStillConfirms(t *testing.T) {
	tr, err := New(context.Background(), &failingStore{MemoryStore: MemoryStore{urls: map[string]struct{}{}}})
	require.NoError(t, err)

	err = tr.MarkConfirmed(context.Background(), "https://example.com/a")
	assert.Error(t, err)
	assert.Equal(t, Confirmed, tr.State("https://example.com/a"))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr, err := New(ctx, store)
	require.NoError(t, err)

	require.NoError(t, tr.MarkConfirmed(ctx, "https://example.com/known"))
	tr.MarkPending("https://example.com/inflight")

	added, err := tr.Reconcile(ctx, staticLister{urls: []string{
		"https://example.com/known",
		"https://example.com/new/",
		"https://example.com/inflight",
		"",
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	assert.Equal(t, Confirmed, tr.State("https://example.com/new"))
	assert.Equal(t, Confirmed, tr.State("https://example.com/inflight"))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/inflight", "https://example.com/known", "https://example.com/new"}, persisted)

	added, err = tr.Reconcile(ctx, staticLister{urls: []string{"https://example.com/new"}})
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestReconcileListerError(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Reconcile(context.Background(), staticLister{err: errors.New("401")})
	assert.Error(t, err)

	_, confirmed := tr.Counts()
	assert.Equal(t, 0, confirmed)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr, err := New(ctx, store)
	require.NoError(t, err)

	require.NoError(t, tr.MarkConfirmed(ctx, "https://example.com/a"))
	tr.MarkPending("https://example.com/b")

	require.NoError(t, tr.Clear(ctx))
	assert.True(t, tr.ShouldSubmit("https://example.com/a"))
	assert.True(t, tr.ShouldSubmit("https://example.com/b"))

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestNewLoadsPersistedSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Add(ctx, "https://example.com/a/"))

	tr, err := New(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, tr.State("https://example.com/a"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not-submitted", NotSubmitted.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "confirmed", Confirmed.String())
}
