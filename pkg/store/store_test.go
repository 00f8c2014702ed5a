package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cap int) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := New(context.Background(), Config{
		PrimaryURL:      "redis://" + mr.Addr(),
		FallbackPath:    filepath.Join(t.TempDir(), "fallback.db"),
		ConversationCap: cap,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestAppendAndTailRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Record{ConversationID: "c1", Content: "abc", Response: "cba", Provider: "echo"}))
	recs, err := s.Tail(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "cba", recs[0].Response)
}

func TestConversationCapOffByOne(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 101; i++ {
		require.NoError(t, s.Append(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("msg-%d", i)}))
	}

	recs, err := s.Tail(ctx, "c1", 1000)
	require.NoError(t, err)
	require.Len(t, recs, 100)
	// Oldest (msg-0) should have been pruned away.
	require.Equal(t, "msg-1", recs[0].Content)
	require.Equal(t, "msg-100", recs[len(recs)-1].Content)
}

func TestFallbackIsSupersetOfPrimary(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("m%d", i)}))
	}

	boltRecs, err := s.bolt.tail("c1", 100)
	require.NoError(t, err)
	require.Len(t, boltRecs, 5)
}

func TestReadDegradesToFallbackOnPrimaryFailure(t *testing.T) {
	s, mr := newTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Record{ConversationID: "c1", Content: "before-outage"}))

	mr.Close() // simulate primary connection failure

	recs, err := s.Tail(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "before-outage", recs[0].Content)
	require.False(t, s.primaryAvailable())
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 100)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "default_provider", "echo"))
	v, ok, err := s.Get(ctx, "default_provider")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "echo", v)

	require.NoError(t, s.Delete(ctx, "default_provider"))
	_, ok, err = s.Get(ctx, "default_provider")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFallbackOnlyModeWhenPrimaryURLEmpty(t *testing.T) {
	s, err := New(context.Background(), Config{
		FallbackPath: filepath.Join(t.TempDir(), "fallback.db"),
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.False(t, s.primaryAvailable())
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, Record{ConversationID: "c1", Content: "x"}))
	recs, err := s.Tail(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestPruningIdempotentRegardlessOfBatching(t *testing.T) {
	s1, err := New(context.Background(), Config{FallbackPath: filepath.Join(t.TempDir(), "a.db"), ConversationCap: 10}, nil)
	require.NoError(t, err)
	defer s1.Close()

	s2, err := New(context.Background(), Config{FallbackPath: filepath.Join(t.TempDir(), "b.db"), ConversationCap: 10}, nil)
	require.NoError(t, err)
	defer s2.Close()

	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, s1.Append(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("m%d", i), Timestamp: time.Now()}))
		require.NoError(t, s2.Append(ctx, Record{ConversationID: "c1", Content: fmt.Sprintf("m%d", i), Timestamp: time.Now()}))
	}

	r1, err := s1.Tail(ctx, "c1", 100)
	require.NoError(t, err)
	r2, err := s2.Tail(ctx, "c1", 100)
	require.NoError(t, err)
	require.Equal(t, len(r1), len(r2))
	require.Equal(t, r1[0].Content, r2[0].Content)
}
