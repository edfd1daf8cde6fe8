package kv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite exercises the Store contract against any backend.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("PutIfAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		item := Item{PartitionKey: "w1", SortKey: "feed.f1", ObjectType: "feed", Status: "ENABLED",
			Attributes: map[string]string{"url": "https://example.com/rss"}}

		require.NoError(t, s.Put(ctx, item, PutOptions{IfAbsent: true}))
		err := s.Put(ctx, item, PutOptions{IfAbsent: true})
		assert.ErrorIs(t, err, ErrConditionFailed)

		got, err := s.Get(ctx, "w1", "feed.f1")
		require.NoError(t, err)
		assert.Equal(t, "ENABLED", got.Status)
		assert.Equal(t, "https://example.com/rss", got.Attributes["url"])
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "w1", "feed.none")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Update(ctx, "w1", "feed.none", Mutation{Status: "DISABLED"}, Condition{})
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Put(ctx, Item{PartitionKey: "w1", SortKey: "feed.f1.post.p1", ObjectType: "post",
			Status: "PENDING", Attributes: map[string]string{"url": "https://example.com/a"}}, PutOptions{}))

		updated, err := s.Update(ctx, "w1", "feed.f1.post.p1",
			Mutation{Status: "INGESTED", Attributes: map[string]string{"ingestedAt": "now"}},
			Condition{StatusEquals: "PENDING"})
		require.NoError(t, err)
		assert.Equal(t, "INGESTED", updated.Status)
		assert.Equal(t, "https://example.com/a", updated.Attributes["url"])
		assert.Equal(t, "now", updated.Attributes["ingestedAt"])

		_, err = s.Update(ctx, "w1", "feed.f1.post.p1", Mutation{Status: "INGESTED"}, Condition{StatusEquals: "PENDING"})
		assert.ErrorIs(t, err, ErrConditionFailed)

		pending, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByTypeStatus, ObjectType: "post", Status: "PENDING"}, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)

		ingested, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByTypeStatus, ObjectType: "post", Status: "INGESTED"}, 0)
		require.NoError(t, err)
		assert.Len(t, ingested, 1)
	})

	t.Run("QueryPrefixIsolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		puts := []Item{
			{PartitionKey: "w1", SortKey: "feed.f1", ObjectType: "feed", Status: "ENABLED"},
			{PartitionKey: "w1", SortKey: "feed.f1.post.a", ObjectType: "post", Status: "PENDING"},
			{PartitionKey: "w1", SortKey: "feed.f1.post.b", ObjectType: "post", Status: "PENDING"},
			{PartitionKey: "w1", SortKey: "feed.f2", ObjectType: "feed", Status: "ENABLED"},
			{PartitionKey: "w1", SortKey: "feed.f2.post.c", ObjectType: "post", Status: "PENDING"},
			{PartitionKey: "w2", SortKey: "feed.f1.post.d", ObjectType: "post", Status: "PENDING"},
		}
		for _, item := range puts {
			require.NoError(t, s.Put(ctx, item, PutOptions{}))
		}

		posts, err := s.QueryPrefix(ctx, "w1", "feed.f1.post.", 0)
		require.NoError(t, err)
		require.Len(t, posts, 2)
		assert.Equal(t, "feed.f1.post.a", posts[0].SortKey)
		assert.Equal(t, "feed.f1.post.b", posts[1].SortKey)

		limited, err := s.QueryPrefix(ctx, "w1", "feed.f1.post.", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		feeds, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByWorkspaceType, PartitionKey: "w1", ObjectType: "feed"}, 0)
		require.NoError(t, err)
		assert.Len(t, feeds, 2)

		pending, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByTypeStatus, ObjectType: "post", Status: "PENDING"}, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 4)
	})

	t.Run("IndexLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 15; i++ {
			require.NoError(t, s.Put(ctx, Item{
				PartitionKey: fmt.Sprintf("w%d", i%3),
				SortKey:      fmt.Sprintf("feed.f.post.%02d", i),
				ObjectType:   "post",
				Status:       "PENDING",
			}, PutOptions{}))
		}
		batch, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByTypeStatus, ObjectType: "post", Status: "PENDING"}, 10)
		require.NoError(t, err)
		assert.Len(t, batch, 10)
	})

	t.Run("IndexAfter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, pk := range []string{"w1", "w2"} {
			for i := 0; i < 3; i++ {
				require.NoError(t, s.Put(ctx, Item{
					PartitionKey: pk,
					SortKey:      fmt.Sprintf("feed.f.post.%d", i),
					ObjectType:   "post",
					Status:       "PENDING",
				}, PutOptions{}))
			}
		}

		rest, err := s.QueryIndex(ctx, IndexQuery{
			Index:      IndexByTypeStatus,
			ObjectType: "post",
			Status:     "PENDING",
			After:      &Cursor{PartitionKey: "w1", SortKey: "feed.f.post.1"},
		}, 3)
		require.NoError(t, err)
		require.Len(t, rest, 3)
		assert.Equal(t, Cursor{PartitionKey: "w1", SortKey: "feed.f.post.2"}, Cursor{PartitionKey: rest[0].PartitionKey, SortKey: rest[0].SortKey})
		assert.Equal(t, Cursor{PartitionKey: "w2", SortKey: "feed.f.post.1"}, Cursor{PartitionKey: rest[2].PartitionKey, SortKey: rest[2].SortKey})

		tail, err := s.QueryIndex(ctx, IndexQuery{
			Index:        IndexByWorkspaceType,
			PartitionKey: "w2",
			ObjectType:   "post",
			After:        &Cursor{PartitionKey: "w2", SortKey: "feed.f.post.1"},
		}, 0)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		assert.Equal(t, "feed.f.post.2", tail[0].SortKey)

		none, err := s.QueryIndex(ctx, IndexQuery{
			Index:      IndexByTypeStatus,
			ObjectType: "post",
			Status:     "PENDING",
			After:      &Cursor{PartitionKey: "w2", SortKey: "feed.f.post.2"},
		}, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		item := Item{PartitionKey: "w1", SortKey: "feed.f1", ObjectType: "feed", Status: "DISABLED"}
		require.NoError(t, s.Put(ctx, item, PutOptions{}))
		require.NoError(t, s.Delete(ctx, "w1", "feed.f1"))
		require.NoError(t, s.Delete(ctx, "w1", "feed.f1"))

		_, err := s.Get(ctx, "w1", "feed.f1")
		assert.ErrorIs(t, err, ErrNotFound)

		feeds, err := s.QueryIndex(ctx, IndexQuery{Index: IndexByWorkspaceType, PartitionKey: "w1", ObjectType: "feed"}, 0)
		require.NoError(t, err)
		assert.Empty(t, feeds)
	})

	t.Run("BadIndexQuery", func(t *testing.T) {
		s := newStore(t)
		_, err := s.QueryIndex(context.Background(), IndexQuery{Index: IndexByTypeStatus, ObjectType: "post"}, 0)
		assert.Error(t, err)
	})
}

func runConcurrentPutSuite(t *testing.T, s Store, workers int) {
	var wg sync.WaitGroup
	var inserted, collided atomic.Int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Put(context.Background(), Item{
				PartitionKey: "w1",
				SortKey:      "feed.f1.post.same",
				ObjectType:   "post",
				Status:       "PENDING",
			}, PutOptions{IfAbsent: true})
			switch err {
			case nil:
				inserted.Add(1)
			case ErrConditionFailed:
				collided.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), inserted.Load())
	assert.Equal(t, int32(workers-1), collided.Load())
}
