package sqlitekv_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otterkv/otterkv/pkg/keysel"
	"github.com/otterkv/otterkv/pkg/kv"
	"github.com/otterkv/otterkv/pkg/kv/sqlitekv"
)

func mustOpen(t *testing.T) *sqlitekv.Engine {
	t.Helper()

	dir := t.TempDir()

	eng, err := sqlitekv.Open(context.Background(), sqlitekv.Config{Dir: dir})
	require.NoError(t, err)

	t.Cleanup(func() { _ = eng.Close() })

	return eng
}

func mustTx(t *testing.T, eng kv.Engine) kv.Transaction {
	t.Helper()

	tx, err := eng.CreateTransaction(context.Background())
	require.NoError(t, err)

	return tx
}

// Scenario 1: last-write-wins with clear (spec.md §8.1).
func TestLastWriteWinsWithClear(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	tx := mustTx(t, eng)
	tx.SetValue([]byte{0x01}, []byte{1})
	tx.Clear([]byte{0x01})
	tx.SetValue([]byte{0x01}, []byte{2})

	v, ok, err := tx.GetValue(ctx, []byte{0x01})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{2}, v)

	require.NoError(t, tx.Commit(ctx))

	tx2 := mustTx(t, eng)
	v2, ok2, err := tx2.GetValue(ctx, []byte{0x01})
	require.NoError(t, err)
	require.True(t, ok2)
	require.Equal(t, []byte{2}, v2)
	require.NoError(t, tx2.Commit(ctx))
}

// Scenario 2: reverse then limit (spec.md §8.2).
func TestReverseThenLimit(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	tx := mustTx(t, eng)
	for i := byte(1); i <= 5; i++ {
		tx.SetValue([]byte{i}, []byte{i * 10})
	}
	require.NoError(t, tx.Commit(ctx))

	tx2 := mustTx(t, eng)
	rs := kv.RangeSelector{
		Begin: keysel.FirstGreaterOrEqual([]byte{0x01}),
		End:   keysel.FirstGreaterOrEqual([]byte{0x06}),
	}

	entries, err := tx2.GetRange(ctx, rs, kv.RangeOptions{Limit: 2, Reverse: true})
	require.NoError(t, err)
	require.Equal(t, []kv.Entry{
		{Key: []byte{0x05}, Value: []byte{50}},
		{Key: []byte{0x04}, Value: []byte{40}},
	}, entries)
}

// Scenario 3: clearRange boundary (spec.md §8.3).
func TestClearRangeBoundary(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	tx := mustTx(t, eng)
	for i := byte(1); i <= 5; i++ {
		tx.SetValue([]byte{i}, []byte{i})
	}
	require.NoError(t, tx.Commit(ctx))

	tx2 := mustTx(t, eng)
	tx2.ClearRange([]byte{0x02}, []byte{0x05})
	require.NoError(t, tx2.Commit(ctx))

	tx3 := mustTx(t, eng)

	v, ok, err := tx3.GetValue(ctx, []byte{0x01})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{1}, v)

	for _, k := range []byte{0x02, 0x03, 0x04} {
		_, ok, err := tx3.GetValue(ctx, []byte{k})
		require.NoError(t, err)
		require.False(t, ok)
	}

	v5, ok5, err := tx3.GetValue(ctx, []byte{0x05})
	require.NoError(t, err)
	require.True(t, ok5)
	require.Equal(t, []byte{5}, v5)
}

// Scenario 6: rollback on failure (spec.md §8.6).
func TestRollbackOnFailure(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	boom := errors.New("boom")

	err := kv.WithTransaction(ctx, eng, func(ctx context.Context, tx kv.Transaction) error {
		tx.SetValue([]byte{0x01}, []byte{42})

		return boom
	})
	require.ErrorIs(t, err, boom)

	tx := mustTx(t, eng)
	_, ok, err := tx.GetValue(ctx, []byte{0x01})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCommitCancelIdempotency(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	t.Run("commit then cancel is a no-op", func(t *testing.T) {
		tx := mustTx(t, eng)
		tx.SetValue([]byte("a"), []byte("1"))
		require.NoError(t, tx.Commit(ctx))
		tx.Cancel()

		tx2 := mustTx(t, eng)
		v, ok, err := tx2.GetValue(ctx, []byte("a"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("1"), v)
		require.NoError(t, tx2.Commit(ctx))
	})

	t.Run("cancel then commit raises invalid operation", func(t *testing.T) {
		tx := mustTx(t, eng)
		tx.Cancel()
		err := tx.Commit(ctx)
		require.Error(t, err)
	})

	t.Run("double commit is a no-op", func(t *testing.T) {
		tx := mustTx(t, eng)
		require.NoError(t, tx.Commit(ctx))
		require.NoError(t, tx.Commit(ctx))
	})

	t.Run("double cancel is a no-op", func(t *testing.T) {
		tx := mustTx(t, eng)
		tx.Cancel()
		tx.Cancel()
	})
}

func TestAtomicAdd(t *testing.T) {
	eng := mustOpen(t)
	ctx := context.Background()

	tx := mustTx(t, eng)
	require.NoError(t, tx.AtomicOp(ctx, kv.AtomicAdd, []byte("counter"), []byte{0, 0, 0, 1}))
	require.NoError(t, tx.AtomicOp(ctx, kv.AtomicAdd, []byte("counter"), []byte{0, 0, 0, 1}))

	v, ok, err := tx.GetValue(ctx, []byte("counter"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0, 2}, v)
}

// TestCommitSurvivesReopen exercises the durability half of the backend:
// a committed value must still be there after closing and reopening the
// store against the same directory.
func TestCommitSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	eng, err := sqlitekv.Open(ctx, sqlitekv.Config{Dir: dir})
	require.NoError(t, err)

	tx := mustTx(t, eng)
	tx.SetValue([]byte("durable"), []byte("yes"))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, eng.Close())

	reopened, err := sqlitekv.Open(ctx, sqlitekv.Config{Dir: dir})
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	tx2 := mustTx(t, reopened)
	v, ok, err := tx2.GetValue(ctx, []byte("durable"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("yes"), v)
}

// TestRecoverDiscardsUncommittedJournal simulates a crash mid-write: a
// journal file with a body but no valid footer must be discarded on Open,
// not mistaken for a committed write set.
func TestRecoverDiscardsUncommittedJournal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	eng, err := sqlitekv.Open(ctx, sqlitekv.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	journalPath := filepath.Join(dir, "journal")
	require.NoError(t, os.WriteFile(journalPath, []byte(`{"op":"set","key":"AQ==","value":"Ag=="}`+"\n"), 0o600))

	reopened, err := sqlitekv.Open(ctx, sqlitekv.Config{Dir: dir})
	require.NoError(t, err)

	defer func() { _ = reopened.Close() }()

	tx := mustTx(t, reopened)
	_, ok, err := tx.GetValue(ctx, []byte{0x01})
	require.NoError(t, err)
	require.False(t, ok, "uncommitted journal entries must not be applied")

	info, err := os.Stat(journalPath)
	require.NoError(t, err)
	require.Zero(t, info.Size(), "discarded journal should be truncated")
}
