package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent", "confirmed.json")

	first := NewFileStore(path)
	urls, err := first.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)

	require.NoError(t, first.Add(ctx, "https://example.com/b", "https://example.com/a"))

	second := NewFileStore(path)
	urls, err = second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)

	require.NoError(t, second.Clear(ctx))
	urls, err = NewFileStore(path).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "confirmed.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}

func TestTrackerWithFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "confirmed.json")

	tr, err := New(ctx, NewFileStore(path))
	require.NoError(t, err)
	require.True(t, tr.TryAcquire("https://example.com/post/"))
	require.NoError(t, tr.MarkConfirmed(ctx, "https://example.com/post/"))

	restarted, err := New(ctx, NewFileStore(path))
	require.NoError(t, err)
	assert.False(t, restarted.ShouldSubmit("https://example.com/post"))
}

func TestRedisStore(t *testing.T) {
	client, mr, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	store := NewRedisStore(client, "laptop")
	assert.Equal(t, "curator:agent:laptop:confirmed", store.Key())

	require.NoError(t, store.Add(ctx))
	require.NoError(t, store.Add(ctx, "https://example.com/b", "https://example.com/a", "https://example.com/a"))

	urls, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, urls)

	members, err := mr.Members(store.Key())
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, store.Clear(ctx))
	assert.False(t, mr.Exists(store.Key()))
}

func TestRedisStoreDefaultInstance(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()

	assert.Equal(t, "curator:agent:default:confirmed", NewRedisStore(client, "").Key())
}

func TestTrackerWithRedisStore(t *testing.T) {
	client, _, cleanup := setupTestRedis(t)
	defer cleanup()
	ctx := context.Background()

	tr, err := New(ctx, NewRedisStore(client, "a"))
	require.NoError(t, err)
	require.NoError(t, tr.MarkConfirmed(ctx, "https://example.com/x"))

	restarted, err := New(ctx, NewRedisStore(client, "a"))
	require.NoError(t, err)
	assert.Equal(t, Confirmed, restarted.State("https://example.com/x"))

	other, err := New(ctx, NewRedisStore(client, "b"))
	require.NoError(t, err)
	assert.Equal(t, NotSubmitted, other.State("https://example.com/x"))
}
