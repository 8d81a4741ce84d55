package capsule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

// DefaultMaxMessageBytes bounds message payloads unless overridden.
const DefaultMaxMessageBytes = 64 << 10

// Store is the capsule state machine.
//
// Store holds no capsule state of its own: records and next_id live in the
// Table. The only local state is the sealed flag, set once the id space
// is exhausted.
type Store struct {
	table      Table
	transferer Transferer
	notifier   Notifier
	logger     *slog.Logger
	maxMessage int
	sealed     atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the notification sink. Defaults to discarding.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxMessageBytes bounds message length. n <= 0 keeps the default.
func WithMaxMessageBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

// New creates a Store over table, releasing value through transferer.
func New(table Table, transferer Transferer, opts ...Option) *Store {
	s := &Store{
		table:      table,
		transferer: transferer,
		notifier:   discardNotifier{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		maxMessage: DefaultMaxMessageBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxMessageBytes returns the configured message bound.
func (s *Store) MaxMessageBytes() int {
	return s.maxMessage
}

// Sealed reports whether the store stopped accepting creations.
func (s *Store) Sealed() bool {
	return s.sealed.Load()
}

// Create locks message and the value attached to env for recipient until
// env.BlockNumber() + duration.
//
// Self-capsules (recipient == caller) are permitted.
func (s *Store) Create(ctx context.Context, env Env, recipient AccountID, message []byte, duration BlockNumber) (ID, error) {
	if duration == 0 {
		return 0, newError(CodeUnlockTimeMustBeInFuture, "duration must be positive")
	}
	now := env.BlockNumber()
	unlock, ok := unlockAt(now, duration)
	if !ok {
		return 0, newError(CodeAdditionOverflow, fmt.Sprintf("block %d + duration %d overflows", now, duration))
	}
	if s.sealed.Load() {
		return 0, newError(CodeIDSpaceExhausted, "store no longer accepts capsules")
	}
	if len(message) > s.maxMessage {
		return 0, newError(CodeMessageTooLarge, fmt.Sprintf("message is %d bytes, limit %d", len(message), s.maxMessage))
	}

	c := Capsule{
		Creator:     env.Caller(),
		Recipient:   recipient,
		Message:     append([]byte(nil), message...),
		UnlockBlock: unlock,
		ValueLocked: env.TransferredValue(),
	}

	var id ID
	err := s.table.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		id, err = tx.NextID(ctx)
		if err != nil {
			return fmt.Errorf("create: read next id: %w", err)
		}
		if id == MaxID {
			return newError(CodeIDSpaceExhausted, "next id cannot advance")
		}
		if err := tx.Insert(ctx, id, c); err != nil {
			return fmt.Errorf("create: insert capsule %d: %w", id, err)
		}
		if err := tx.SetNextID(ctx, id+1); err != nil {
			return fmt.Errorf("create: advance next id: %w", err)
		}
		return s.notifier.Notify(ctx, Created{
			ID:          id,
			From:        c.Creator,
			To:          c.Recipient,
			UnlockBlock: unlock,
		})
	})
	if err != nil {
		if IsFatal(err) {
			s.sealed.Store(true)
			s.logger.Error("capsule id space exhausted, sealing store")
		}
		return 0, err
	}

	s.logger.Debug("capsule created",
		"id", id,
		"creator", c.Creator,
		"recipient", c.Recipient,
		"unlock_block", unlock,
		"value", c.ValueLocked,
		"message_digest", MessageDigest(c.Message),
	)
	return id, nil
}

// Open releases capsule id to its recipient and deletes it.
//
// Checks run in order: existence, recipient, unlock block. The removal and
// the notification are staged next; the transfer is the last step, so a
// failure anywhere leaves the value where it was.
func (s *Store) Open(ctx context.Context, env Env, id ID) error {
	caller := env.Caller()
	now := env.BlockNumber()

	var released Amount
	err := s.table.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		c, ok, err := tx.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("open: read capsule %d: %w", id, err)
		}
		if !ok {
			return capsuleError(CodeCapsuleNotFound, id, "")
		}
		if c.Recipient != caller {
			return capsuleError(CodeNotTheDesignatedRecipient, id, "")
		}
		if !c.Unlocked(now) {
			return capsuleError(CodeCapsuleIsStillLocked, id,
				fmt.Sprintf("unlocks at block %d, now %d", c.UnlockBlock, now))
		}
		if err := tx.Remove(ctx, id); err != nil {
			return fmt.Errorf("open: remove capsule %d: %w", id, err)
		}
		if err := s.notifier.Notify(ctx, Opened{ID: id, By: caller}); err != nil {
			return err
		}
		if c.ValueLocked > 0 {
			if err := s.transferer.Transfer(ctx, caller, c.ValueLocked); err != nil {
				return &Error{Code: CodeTokenTransferFailed, CapsuleID: &id, Err: err}
			}
		}
		released = c.ValueLocked
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("capsule opened", "id", id, "by", caller, "value", released)
	return nil
}

// Get returns capsule id if it is still locked or unopened.
// Absence is reported through the bool, never as an error.
func (s *Store) Get(ctx context.Context, id ID) (Capsule, bool, error) {
	c, ok, err := s.table.Lookup(ctx, id)
	if err != nil {
		return Capsule{}, false, fmt.Errorf("get capsule %d: %w", id, err)
	}
	return c, ok, nil
}

// Count returns next_id: every capsule ever created, opened ones included.
func (s *Store) Count(ctx context.Context) (ID, error) {
	next, err := s.table.NextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("count capsules: %w", err)
	}
	return next, nil
}

// List returns the live capsules created by or addressed to account.
func (s *Store) List(ctx context.Context, account AccountID) ([]Entry, error) {
	entries, err := s.table.ScanAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list capsules: %w", err)
	}
	return entries, nil
}
