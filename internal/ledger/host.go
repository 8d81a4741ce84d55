package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/chrono/internal/capsule"
)

var (
	// ErrTransferRejected is returned by Host.Transfer while transfers are rejected.
	ErrTransferRejected = errors.New("transfer rejected by host")

	// ErrEscrowCaller is returned when the escrow account attaches value to
	// a call. Escrow already holds every locked amount, so nothing would
	// move in and the new capsule would be paid from other capsules.
	ErrEscrowCaller = errors.New("escrow account cannot attach value")
)

// Runner executes fn as one unit. Transactional backends roll back every
// write made through ctx when fn fails.
type Runner func(ctx context.Context, fn func(ctx context.Context) error) error

func direct(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Host plays the ledger runtime for the capsule store. It supplies the
// per-call Env, holds attached value in an escrow account, and acts as
// the store's Transferer.
type Host struct {
	bank   Bank
	clock  Clock
	escrow capsule.AccountID
	run    Runner
	logger *slog.Logger
	reject atomic.Bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithRunner wraps every Call in r, typically a database transaction.
func WithRunner(r Runner) HostOption {
	return func(h *Host) { h.run = r }
}

// WithHostLogger sets the logger. Defaults to discarding.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a host over bank and clock. Value attached to calls is
// held by escrow until a capsule releases it.
func NewHost(bank Bank, clock Clock, escrow capsule.AccountID, opts ...HostOption) *Host {
	h := &Host{
		bank:   bank,
		clock:  clock,
		escrow: escrow,
		run:    direct,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Escrow returns the account holding locked value.
func (h *Host) Escrow() capsule.AccountID {
	return h.escrow
}

// RejectTransfers makes every later Transfer fail until called with false.
func (h *Host) RejectTransfers(reject bool) {
	h.reject.Store(reject)
}

// Call runs fn on behalf of caller with value attached.
//
// The value moves from caller to escrow before fn runs. If fn fails the
// value is returned, so a failed call has no effect on balances. The escrow
// account itself may call but never with value attached.
func (h *Host) Call(ctx context.Context, caller capsule.AccountID, value capsule.Amount, fn func(ctx context.Context, env capsule.Env) error) error {
	if value > 0 && caller == h.escrow {
		return fmt.Errorf("call by %s with value %d: %w", caller, value, ErrEscrowCaller)
	}
	return h.run(ctx, func(ctx context.Context) error {
		height, err := h.clock.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("read block height: %w", err)
		}

		if value > 0 {
			if err := h.bank.Transfer(ctx, caller, h.escrow, value); err != nil {
				return fmt.Errorf("attach value: %w", err)
			}
		}

		env := capsule.StaticEnv{Account: caller, Block: height, Value: value}
		if err := fn(ctx, env); err != nil {
			if value > 0 {
				if refundErr := h.bank.Transfer(ctx, h.escrow, caller, value); refundErr != nil {
					h.logger.Error("refund failed", "caller", caller, "value", value, "error", refundErr)
					return errors.Join(err, fmt.Errorf("refund attached value: %w", refundErr))
				}
			}
			return err
		}
		return nil
	})
}

// Transfer releases amount from escrow to the given account.
func (h *Host) Transfer(ctx context.Context, to capsule.AccountID, amount capsule.Amount) error {
	if h.reject.Load() {
		return ErrTransferRejected
	}
	if to == h.escrow {
		return fmt.Errorf("release to %s: %w", to, ErrSelfTransfer)
	}
	if err := h.bank.Transfer(ctx, h.escrow, to, amount); err != nil {
		return fmt.Errorf("release from escrow: %w", err)
	}
	h.logger.Debug("value released", "to", to, "amount", amount)
	return nil
}

// Balance reports the balance of account.
func (h *Host) Balance(ctx context.Context, account capsule.AccountID) (capsule.Amount, error) {
	return h.bank.Balance(ctx, account)
}

// Fund mints amount into account. The simulated ledger has no other source of value.
func (h *Host) Fund(ctx context.Context, account capsule.AccountID, amount capsule.Amount) error {
	return h.run(ctx, func(ctx context.Context) error {
		return h.bank.Credit(ctx, account, amount)
	})
}
