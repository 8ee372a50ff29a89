package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInsufficientFunds is returned when a transfer exceeds the sender's balance
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow is returned when a credit would overflow the receiver's balance
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Bank holds native token balances
type Bank interface {
	Balance(ctx context.Context, account string) (uint64, error)
	Transfer(ctx context.Context, from, to string, amount uint64) error
}

// MemoryBank is an in-process Bank
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// NewMemoryBank creates a bank with no balances
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		balances: make(map[string]uint64),
	}
}

// Deposit mints amount into account
func (b *MemoryBank) Deposit(account string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balances[account]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, account)
	}
	b.balances[account] = bal + amount
	return nil
}

// Balance returns the balance of account, zero if unknown
func (b *MemoryBank) Balance(ctx context.Context, account string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.balances[account], nil
}

// Transfer moves amount from one account to another atomically
func (b *MemoryBank) Transfer(ctx context.Context, from, to string, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, b.balances[from], amount)
	}
	if from == to {
		return nil
	}
	if b.balances[to] > ^uint64(0)-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, to)
	}

	b.balances[from] -= amount
	b.balances[to] += amount
	return nil
}
