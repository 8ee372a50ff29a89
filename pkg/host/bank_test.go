package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBank(t *testing.T) {
	b := NewMemoryBank()
	ctx := context.Background()

	require.NoError(t, b.Deposit("alice", 100))
	require.NoError(t, b.Transfer(ctx, "alice", "bob", 30))

	bal, err := b.Balance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(70), bal)
	bal, _ = b.Balance(ctx, "bob")
	assert.Equal(t, uint64(30), bal)

	err = b.Transfer(ctx, "bob", "alice", 31)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, b.Transfer(ctx, "alice", "alice", 70))
	bal, _ = b.Balance(ctx, "alice")
	assert.Equal(t, uint64(70), bal)

	bal, _ = b.Balance(ctx, "nobody")
	assert.Equal(t, uint64(0), bal)
}

func TestMemoryBankOverflow(t *testing.T) {
	b := NewMemoryBank()
	ctx := context.Background()

	require.NoError(t, b.Deposit("alice", ^uint64(0)))
	assert.ErrorIs(t, b.Deposit("alice", 1), ErrBalanceOverflow)

	require.NoError(t, b.Deposit("bob", 1))
	assert.ErrorIs(t, b.Transfer(ctx, "bob", "alice", 1), ErrBalanceOverflow)
}
