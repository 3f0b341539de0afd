package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/meshcredit/fundd/internal/mutualcredit"
	"github.com/stretchr/testify/require"
)

func TestBoltDBAppliesAndReportsLastCounter(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "fund.db"))
	require.NoError(t, err)
	defer db.Close()

	var friend mutualcredit.PublicKey
	friend[0] = 7
	ctx := context.Background()

	_, ok, err := db.LastCounter(ctx, friend)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Apply(ctx, Batch{Friend: friend, Counter: 1, MoveToken: []byte("mt1")}))
	require.NoError(t, db.Apply(ctx, Batch{Friend: friend, Counter: 2, MoveToken: []byte("mt2")}))

	counter, ok, err := db.LastCounter(ctx, friend)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, counter)
}

func TestBoltDBSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fund.db")
	var friend mutualcredit.PublicKey
	friend[0] = 9
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Apply(ctx, Batch{Friend: friend, Counter: 5, MoveToken: []byte("mt5")}))
	require.NoError(t, db.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	counter, ok, err := reopened.LastCounter(ctx, friend)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, counter)

	require.NoError(t, os.Remove(path))
}

func TestMemoryRejectsNonIncreasingCounter(t *testing.T) {
	store := NewMemory()
	var friend mutualcredit.PublicKey
	ctx := context.Background()

	require.NoError(t, store.Apply(ctx, Batch{Friend: friend, Counter: 1}))
	err := store.Apply(ctx, Batch{Friend: friend, Counter: 1})
	require.Error(t, err)
}

func TestFailNextInjectsThenDelegates(t *testing.T) {
	inner := NewMemory()
	store := NewFailNext(inner, 1)
	var friend mutualcredit.PublicKey
	ctx := context.Background()

	err := store.Apply(ctx, Batch{Friend: friend, Counter: 1})
	require.Error(t, err)

	require.NoError(t, store.Apply(ctx, Batch{Friend: friend, Counter: 1}))
	require.Len(t, inner.Batches(friend), 1)
}
