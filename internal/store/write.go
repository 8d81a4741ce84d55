package store

import (
	"context"
	"fmt"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/ledger"
)

// Atomic implements capsule.Table. fn runs inside one SQLite transaction;
// ledger transfers and outbox rows written with the same context join it.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx capsule.Tx) error) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		return fn(ctx, capsuleTx{s})
	})
}

// capsuleTx is the capsule.Tx view of a Store. Its methods must be
// called with the context handed to the Atomic callback.
type capsuleTx struct {
	s *Store
}

func (tx capsuleTx) Get(ctx context.Context, id capsule.ID) (capsule.Capsule, bool, error) {
	return tx.s.lookup(ctx, id)
}

func (tx capsuleTx) Insert(ctx context.Context, id capsule.ID, c capsule.Capsule) error {
	return tx.s.insertCapsule(ctx, id, c)
}

func (tx capsuleTx) Remove(ctx context.Context, id capsule.ID) error {
	_, err := tx.s.conn(ctx).ExecContext(ctx, `DELETE FROM capsules WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("remove capsule: %w", err)
	}
	return nil
}

func (tx capsuleTx) NextID(ctx context.Context) (capsule.ID, error) {
	v, err := tx.s.readMeta(ctx, metaNextID)
	return capsule.ID(v), err
}

func (tx capsuleTx) SetNextID(ctx context.Context, next capsule.ID) error {
	return tx.s.writeMeta(ctx, metaNextID, int64(next))
}

// insertCapsule writes a capsule row. The message is compressed with the
// store's configured algorithm when that makes it smaller.
func (s *Store) insertCapsule(ctx context.Context, id capsule.ID, c capsule.Capsule) error {
	stored, codec, err := encodeMessage(c.Message, s.compression)
	if err != nil {
		return fmt.Errorf("insert capsule: %w", err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO capsules
		(id, creator, recipient, message, message_codec, message_size, unlock_block, value_locked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		int64(id),
		c.Creator[:],
		c.Recipient[:],
		stored,
		int(codec),
		len(c.Message),
		int64(c.UnlockBlock),
		int64(c.ValueLocked),
	)
	if err != nil {
		return fmt.Errorf("insert capsule: %w", err)
	}
	return nil
}

const (
	metaNextID = "next_id"
	metaHeight = "height"
)

func (s *Store) writeMeta(ctx context.Context, key string, value int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// SetHeight moves the stored block height to h. Heights never decrease.
func (s *Store) SetHeight(ctx context.Context, h capsule.BlockNumber) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		current, err := s.BlockNumber(ctx)
		if err != nil {
			return err
		}
		if h < current {
			return fmt.Errorf("%w: %d < %d", ledger.ErrHeightRegression, h, current)
		}
		return s.writeMeta(ctx, metaHeight, int64(h))
	})
}

// Advance moves the stored block height forward by n and returns the new height.
func (s *Store) Advance(ctx context.Context, n capsule.BlockNumber) (capsule.BlockNumber, error) {
	var next capsule.BlockNumber
	err := s.InTx(ctx, func(ctx context.Context) error {
		current, err := s.BlockNumber(ctx)
		if err != nil {
			return err
		}
		next, err = ledger.AdvanceHeight(current, n)
		if err != nil {
			return err
		}
		return s.writeMeta(ctx, metaHeight, int64(next))
	})
	return next, err
}

// Credit implements ledger.Bank.
func (s *Store) Credit(ctx context.Context, account capsule.AccountID, amount capsule.Amount) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		balance, err := s.Balance(ctx, account)
		if err != nil {
			return err
		}
		next, err := ledger.AddBalance(balance, amount)
		if err != nil {
			return fmt.Errorf("credit %s: %w", account, err)
		}
		return s.writeBalance(ctx, account, next)
	})
}

// Debit implements ledger.Bank.
func (s *Store) Debit(ctx context.Context, account capsule.AccountID, amount capsule.Amount) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		balance, err := s.Balance(ctx, account)
		if err != nil {
			return err
		}
		next, err := ledger.SubBalance(balance, amount)
		if err != nil {
			return fmt.Errorf("debit %s: %w", account, err)
		}
		return s.writeBalance(ctx, account, next)
	})
}

// Transfer implements ledger.Bank. Both balances change in one transaction.
func (s *Store) Transfer(ctx context.Context, from, to capsule.AccountID, amount capsule.Amount) error {
	if from == to {
		return fmt.Errorf("transfer %s: %w", from, ledger.ErrSelfTransfer)
	}
	return s.InTx(ctx, func(ctx context.Context) error {
		if err := s.Debit(ctx, from, amount); err != nil {
			return fmt.Errorf("transfer: %w", err)
		}
		if err := s.Credit(ctx, to, amount); err != nil {
			return fmt.Errorf("transfer: %w", err)
		}
		return nil
	})
}

func (s *Store) writeBalance(ctx context.Context, account capsule.AccountID, balance capsule.Amount) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO accounts (account, balance) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET balance = excluded.balance
	`, account[:], int64(balance))
	if err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}
