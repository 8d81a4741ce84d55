// Package ledger simulates the host ledger around the capsule store:
// account balances, the block height, and the per-call environment.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/chrono/internal/capsule"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow is returned when a credit would overflow the balance.
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrSelfTransfer is returned when a transfer names the same account on
	// both sides. Such a transfer would move nothing.
	ErrSelfTransfer = errors.New("transfer to the same account")
)

// Bank holds account balances.
type Bank interface {
	Balance(ctx context.Context, account capsule.AccountID) (capsule.Amount, error)
	Credit(ctx context.Context, account capsule.AccountID, amount capsule.Amount) error
	Debit(ctx context.Context, account capsule.AccountID, amount capsule.Amount) error
	Transfer(ctx context.Context, from, to capsule.AccountID, amount capsule.Amount) error
}

// AddBalance adds amount to balance with a checked addition.
func AddBalance(balance, amount capsule.Amount) (capsule.Amount, error) {
	if amount > ^capsule.Amount(0)-balance {
		return 0, ErrBalanceOverflow
	}
	return balance + amount, nil
}

// SubBalance subtracts amount from balance, failing instead of wrapping.
func SubBalance(balance, amount capsule.Amount) (capsule.Amount, error) {
	if amount > balance {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, balance, amount)
	}
	return balance - amount, nil
}

// Memory is an in-memory Bank.
type Memory struct {
	mu       sync.Mutex
	balances map[capsule.AccountID]capsule.Amount
}

// NewMemory creates an empty bank.
func NewMemory() *Memory {
	return &Memory{balances: make(map[capsule.AccountID]capsule.Amount)}
}

func (m *Memory) Balance(_ context.Context, account capsule.AccountID) (capsule.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) Credit(_ context.Context, account capsule.AccountID, amount capsule.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := AddBalance(m.balances[account], amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	m.balances[account] = next
	return nil
}

func (m *Memory) Debit(_ context.Context, account capsule.AccountID, amount capsule.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := SubBalance(m.balances[account], amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", account, err)
	}
	m.balances[account] = next
	return nil
}

// Transfer moves amount between distinct accounts. Both sides are checked
// before either balance changes.
func (m *Memory) Transfer(_ context.Context, from, to capsule.AccountID, amount capsule.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from == to {
		return fmt.Errorf("transfer %s: %w", from, ErrSelfTransfer)
	}
	debited, err := SubBalance(m.balances[from], amount)
	if err != nil {
		return fmt.Errorf("transfer from %s: %w", from, err)
	}
	credited, err := AddBalance(m.balances[to], amount)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	m.balances[from] = debited
	m.balances[to] = credited
	return nil
}
