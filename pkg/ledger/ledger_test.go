package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

// runLedgerContract exercises behavior every backend must share
func runLedgerContract(t *testing.T, newLedger func(t *testing.T) Ledger) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing record", func(t *testing.T) {
		l := newLedger(t)
		rec, ok, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Record{}, rec)
	})

	t.Run("set then get", func(t *testing.T) {
		l := newLedger(t)
		want := Record{Amount: 50, LastPaid: 0, Enabled: true}
		require.NoError(t, l.Set(ctx, "svc", "alice", want))

		got, ok, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, got)

		_, ok, err = l.Get(ctx, "other", "alice")
		require.NoError(t, err)
		assert.False(t, ok, "records are scoped per payee")
	})

	t.Run("set overwrites", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Set(ctx, "svc", "alice", Record{Amount: 50, LastPaid: 10, Enabled: true}))
		require.NoError(t, l.Set(ctx, "svc", "alice", Record{Amount: 70, Enabled: true}))

		got, _, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.Equal(t, Record{Amount: 70, Enabled: true}, got)
	})

	t.Run("full uint64 range", func(t *testing.T) {
		l := newLedger(t)
		want := Record{Amount: ^uint64(0), LastPaid: ^uint64(0) - 1, Enabled: true}
		require.NoError(t, l.Set(ctx, "svc", "alice", want))

		got, _, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("subscribers ordered by payer", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Set(ctx, "svc", "carol", Record{Amount: 3, Enabled: true}))
		require.NoError(t, l.Set(ctx, "svc", "alice", Record{Amount: 1, Enabled: true}))
		require.NoError(t, l.Set(ctx, "svc", "bob", Record{Amount: 2, Enabled: true}))
		require.NoError(t, l.Set(ctx, "other", "dave", Record{Amount: 4, Enabled: true}))

		entries, err := l.Subscribers(ctx, "svc")
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "alice", entries[0].Payer)
		assert.Equal(t, "bob", entries[1].Payer)
		assert.Equal(t, "carol", entries[2].Payer)
		assert.Equal(t, uint64(2), entries[1].Record.Amount)
		assert.Equal(t, "svc", entries[2].Payee)
	})

	t.Run("update commits and reads its own writes", func(t *testing.T) {
		l := newLedger(t)
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.Set(ctx, "svc", "alice", Record{Amount: 5, Enabled: true}); err != nil {
				return err
			}
			rec, ok, err := tx.Get(ctx, "svc", "alice")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, uint64(5), rec.Amount)
			return nil
		})
		require.NoError(t, err)

		rec, ok, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(5), rec.Amount)
	})

	t.Run("update rolls back on error", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Set(ctx, "svc", "alice", Record{Amount: 5, Enabled: true}))

		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.Set(ctx, "svc", "alice", Record{Amount: 5, LastPaid: 99, Enabled: true}); err != nil {
				return err
			}
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		rec, _, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), rec.LastPaid)
	})

	t.Run("nested update sees outer writes", func(t *testing.T) {
		l := newLedger(t)
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.Set(ctx, "svc", "alice", Record{Amount: 5, LastPaid: 7, Enabled: true}); err != nil {
				return err
			}
			return l.Update(ctx, func(ctx context.Context, inner Store) error {
				rec, ok, err := inner.Get(ctx, "svc", "alice")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, uint64(7), rec.LastPaid)
				return inner.Set(ctx, "svc", "bob", Record{Amount: 6, Enabled: true})
			})
		})
		require.NoError(t, err)

		_, ok, err := l.Get(ctx, "svc", "bob")
		require.NoError(t, err)
		assert.True(t, ok, "nested writes merge into the outer unit")
	})

	t.Run("failed nested update is discarded", func(t *testing.T) {
		l := newLedger(t)
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.Set(ctx, "svc", "alice", Record{Amount: 5, Enabled: true}); err != nil {
				return err
			}
			nestedErr := l.Update(ctx, func(ctx context.Context, inner Store) error {
				if err := inner.Set(ctx, "svc", "bob", Record{Amount: 6, Enabled: true}); err != nil {
					return err
				}
				return errAbort
			})
			assert.ErrorIs(t, nestedErr, errAbort)
			return nil
		})
		require.NoError(t, err)

		_, ok, err := l.Get(ctx, "svc", "alice")
		require.NoError(t, err)
		assert.True(t, ok)
		_, ok, err = l.Get(ctx, "svc", "bob")
		require.NoError(t, err)
		assert.False(t, ok)
	})
	t.Run("abort hooks run when the unit fails", func(t *testing.T) {
		l := newLedger(t)
		var order []string
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			require.True(t, OnAbort(ctx, func(context.Context) error {
				order = append(order, "first")
				return nil
			}))
			OnAbort(ctx, func(context.Context) error {
				order = append(order, "second")
				return nil
			})
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)
		assert.Equal(t, []string{"second", "first"}, order)
	})

	t.Run("abort hooks are dropped on commit", func(t *testing.T) {
		l := newLedger(t)
		called := false
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			OnAbort(ctx, func(context.Context) error {
				called = true
				return nil
			})
			return tx.Set(ctx, "svc", "alice", Record{Amount: 5, Enabled: true})
		})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("nested abort hooks follow the outer unit", func(t *testing.T) {
		l := newLedger(t)
		var ran []string
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			require.NoError(t, l.Update(ctx, func(ctx context.Context, inner Store) error {
				OnAbort(ctx, func(context.Context) error {
					ran = append(ran, "merged")
					return nil
				})
				return inner.Set(ctx, "svc", "alice", Record{Amount: 5, Enabled: true})
			}))
			assert.Empty(t, ran, "a committed nested unit defers its hooks")

			nestedErr := l.Update(ctx, func(ctx context.Context, inner Store) error {
				OnAbort(ctx, func(context.Context) error {
					ran = append(ran, "failed")
					return nil
				})
				return errAbort
			})
			assert.ErrorIs(t, nestedErr, errAbort)
			assert.Equal(t, []string{"failed"}, ran)
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)
		assert.Equal(t, []string{"failed", "merged"}, ran)
	})

	t.Run("compensation failures are reported", func(t *testing.T) {
		l := newLedger(t)
		compErr := errors.New("refund failed")
		err := l.Update(ctx, func(ctx context.Context, tx Store) error {
			OnAbort(ctx, func(context.Context) error { return compErr })
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)
		assert.ErrorIs(t, err, compErr)
	})
}

func TestOnAbortOutsideUnit(t *testing.T) {
	assert.False(t, OnAbort(context.Background(), func(context.Context) error { return nil }))
}

func TestMemoryLedger(t *testing.T) {
	runLedgerContract(t, func(t *testing.T) Ledger {
		return NewMemoryLedger()
	})
}

func TestMemoryLedgerSnapshotIsDeepCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Set(ctx, "svc", "alice", Record{Amount: 1, Enabled: true}))

	snap := l.Snapshot()
	snap["svc"]["alice"] = Record{Amount: 999}

	rec, _, err := l.Get(ctx, "svc", "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Amount)
	assert.Equal(t, map[string]map[string]Record{"svc": {"alice": {Amount: 1, Enabled: true}}}, l.Snapshot())
}

func TestMemoryLedgerUnitsAreScopedToInstance(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryLedger()
	b := NewMemoryLedger()

	err := a.Update(ctx, func(ctx context.Context, tx Store) error {
		// a unit of a does not leak into b
		return b.Update(ctx, func(ctx context.Context, inner Store) error {
			return inner.Set(ctx, "svc", "alice", Record{Amount: 1})
		})
	})
	require.NoError(t, err)

	_, ok, _ := b.Get(ctx, "svc", "alice")
	assert.True(t, ok)
	_, ok, _ = a.Get(ctx, "svc", "alice")
	assert.False(t, ok)
}
