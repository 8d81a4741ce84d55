package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/event"
	"github.com/roach88/chrono/internal/ledger"
)

func (d *durableStack) create(t *testing.T, caller capsule.AccountID, value capsule.Amount, to capsule.AccountID, msg string, duration capsule.BlockNumber) (capsule.ID, error) {
	t.Helper()
	var id capsule.ID
	err := d.host.Call(context.Background(), caller, value, func(ctx context.Context, env capsule.Env) error {
		var err error
		id, err = d.capsule.Create(ctx, env, to, []byte(msg), duration)
		return err
	})
	return id, err
}

func (d *durableStack) open(t *testing.T, caller capsule.AccountID, id capsule.ID) error {
	t.Helper()
	return d.host.Call(context.Background(), caller, 0, func(ctx context.Context, env capsule.Env) error {
		return d.capsule.Open(ctx, env, id)
	})
}

func (d *durableStack) balance(t *testing.T, account capsule.AccountID) capsule.Amount {
	t.Helper()
	b, err := d.db.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func TestCapsuleLifecycle(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t, "ev-1", "ev-2")
	require.NoError(t, d.host.Fund(ctx, alice, 1000))
	require.NoError(t, d.db.SetHeight(ctx, 100))

	id, err := d.create(t, alice, 500, bob, "Hello Bob!", 10)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(0), id)

	got, ok, err := d.capsule.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, got.Creator)
	assert.Equal(t, bob, got.Recipient)
	assert.Equal(t, []byte("Hello Bob!"), got.Message)
	assert.Equal(t, capsule.BlockNumber(110), got.UnlockBlock)
	assert.Equal(t, capsule.Amount(500), got.ValueLocked)

	assert.Equal(t, capsule.Amount(500), d.balance(t, alice))
	assert.Equal(t, capsule.Amount(500), d.balance(t, escrow))

	// Locked until block 110.
	_, err = d.db.Advance(ctx, 9)
	require.NoError(t, err)
	err = d.open(t, bob, id)
	assert.ErrorIs(t, err, capsule.ErrCapsuleIsStillLocked)

	_, err = d.db.Advance(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, d.open(t, bob, id))

	_, ok, err = d.capsule.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, capsule.Amount(500), d.balance(t, bob))
	assert.Equal(t, capsule.Amount(0), d.balance(t, escrow))

	count, err := d.capsule.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(1), count)

	records, err := d.db.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, capsule.KindCapsuleCreated, records[0].Kind)
	assert.Equal(t, "ev-1", records[0].ID)
	assert.Equal(t, capsule.KindCapsuleOpened, records[1].Kind)
	assert.Equal(t, "ev-2", records[1].ID)

	ev, err := records[1].Open()
	require.NoError(t, err)
	assert.Equal(t, capsule.Opened{ID: id, By: bob}, ev)
}

func TestCapsule_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/chrono.db"

	s, err := Open(path)
	require.NoError(t, err)
	cs := capsule.New(s, ledger.NewHost(s, s, escrow))
	env := capsule.StaticEnv{Account: alice, Block: 7}
	_, err = cs.Create(ctx, env, bob, []byte("first"), 3)
	require.NoError(t, err)
	_, err = cs.Create(ctx, env, bob, []byte("second"), 3)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	cs = capsule.New(s, ledger.NewHost(s, s, escrow))

	count, err := cs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(2), count)

	id, err := cs.Create(ctx, env, bob, []byte("third"), 3)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(2), id)

	got, ok, err := cs.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got.Message)
}

func TestCapsule_RejectedTransferKeepsCapsule(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t, "ev-1", "ev-2")
	require.NoError(t, d.host.Fund(ctx, alice, 100))

	id, err := d.create(t, alice, 100, bob, "payday", 1)
	require.NoError(t, err)
	_, err = d.db.Advance(ctx, 1)
	require.NoError(t, err)

	d.host.RejectTransfers(true)
	err = d.open(t, bob, id)
	require.Error(t, err)
	assert.Equal(t, capsule.CodeTokenTransferFailed, capsule.CodeOf(err))
	assert.ErrorIs(t, err, ledger.ErrTransferRejected)

	_, ok, err := d.capsule.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok, "capsule must survive a failed transfer")
	assert.Equal(t, capsule.Amount(100), d.balance(t, escrow))
	assert.Equal(t, capsule.Amount(0), d.balance(t, bob))

	records, err := d.db.Events(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, records, 1, "no Opened event for a failed open")

	d.host.RejectTransfers(false)
	require.NoError(t, d.open(t, bob, id))
	assert.Equal(t, capsule.Amount(100), d.balance(t, bob))
}

func TestCapsule_FailedCreateRollsBack(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t)
	require.NoError(t, d.host.Fund(ctx, alice, 50))

	_, err := d.create(t, alice, 50, bob, "nope", 0)
	assert.ErrorIs(t, err, capsule.ErrUnlockTimeMustBeInFuture)

	assert.Equal(t, capsule.Amount(50), d.balance(t, alice))
	assert.Equal(t, capsule.Amount(0), d.balance(t, escrow))
	count, err := d.capsule.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(0), count)
}

func TestCapsule_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t)
	require.NoError(t, d.host.Fund(ctx, alice, 10))

	_, err := d.create(t, alice, 11, bob, "too rich", 5)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, capsule.Amount(10), d.balance(t, alice))

	count, err := d.capsule.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(0), count)
}

func TestCapsule_WrongRecipient(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t, "ev-1")
	id, err := d.create(t, alice, 0, bob, "for bob", 1)
	require.NoError(t, err)
	_, err = d.db.Advance(ctx, 5)
	require.NoError(t, err)

	err = d.open(t, alice, id)
	assert.ErrorIs(t, err, capsule.ErrNotTheDesignatedRecipient)

	err = d.open(t, bob, id+1)
	assert.ErrorIs(t, err, capsule.ErrCapsuleNotFound)
}

func TestCapsule_IDSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t)
	last := capsule.MaxID
	require.NoError(t, d.db.writeMeta(ctx, metaNextID, int64(last)))

	_, err := d.create(t, alice, 0, bob, "last", 1)
	assert.ErrorIs(t, err, capsule.ErrIDSpaceExhausted)
	assert.True(t, d.capsule.Sealed())

	_, ok, err := d.db.Lookup(ctx, capsule.MaxID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCapsule_LargeIDsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	start := capsule.MaxID - 3
	require.NoError(t, s.writeMeta(ctx, metaNextID, int64(start)))

	cs := capsule.New(s, ledger.NewHost(s, s, escrow))
	env := capsule.StaticEnv{Account: alice, Block: 1}
	for i := 0; i < 2; i++ {
		_, err := cs.Create(ctx, env, bob, []byte("x"), 1)
		require.NoError(t, err)
	}
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx capsule.Tx) error {
		return tx.Insert(ctx, 5, capsule.Capsule{Creator: bob, Recipient: alice, Message: []byte("y"), UnlockBlock: 2})
	}))

	entries, err := cs.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, capsule.ID(5), entries[0].ID)
	assert.Equal(t, start, entries[1].ID)
	assert.Equal(t, start+1, entries[2].ID)

	next, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, start+2, next)
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	sentinel := assert.AnError
	err := s.Atomic(ctx, func(ctx context.Context, tx capsule.Tx) error {
		if err := tx.Insert(ctx, 0, capsule.Capsule{Creator: alice, Recipient: bob, UnlockBlock: 1}); err != nil {
			return err
		}
		if err := tx.SetNextID(ctx, 1); err != nil {
			return err
		}
		if err := s.Credit(ctx, alice, 10); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	_, ok, err := s.Lookup(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	next, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(0), next)
	balance, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(0), balance)
}

func TestAtomic_StagedReadsVisibleInside(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	err := s.Atomic(ctx, func(ctx context.Context, tx capsule.Tx) error {
		require.NoError(t, tx.Insert(ctx, 3, capsule.Capsule{Creator: alice, Recipient: bob, Message: []byte("m"), UnlockBlock: 9}))
		got, ok, err := tx.Get(ctx, 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, capsule.BlockNumber(9), got.UnlockBlock)

		require.NoError(t, tx.Remove(ctx, 3))
		_, ok, err = tx.Get(ctx, 3)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

// Compression

func TestMessageCompression(t *testing.T) {
	text := bytes.Repeat([]byte("time capsule payload "), 200)
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	tests := []struct {
		name      string
		preferred Compression
		message   []byte
		stored    Compression
	}{
		{"empty", CompressionZstd, nil, CompressionNone},
		{"small", CompressionZstd, []byte("Hello Bob!"), CompressionNone},
		{"zstd text", CompressionZstd, text, CompressionZstd},
		{"lz4 text", CompressionLZ4, text, CompressionLZ4},
		{"none text", CompressionNone, text, CompressionNone},
		{"zstd random", CompressionZstd, random, CompressionNone},
		{"lz4 random", CompressionLZ4, random, CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := createTestStore(t, WithCompression(tt.preferred))
			c := capsule.Capsule{Creator: alice, Recipient: bob, Message: tt.message, UnlockBlock: 1}

			require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx capsule.Tx) error {
				return tx.Insert(ctx, 0, c)
			}))

			var codec, size int
			var stored []byte
			require.NoError(t, s.db.QueryRow(
				"SELECT message, message_codec, message_size FROM capsules WHERE id = 0",
			).Scan(&stored, &codec, &size))
			assert.Equal(t, tt.stored, Compression(codec))
			assert.Equal(t, len(tt.message), size)
			if tt.stored != CompressionNone {
				assert.Less(t, len(stored), len(tt.message))
			}

			got, ok, err := s.Lookup(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, bytes.Equal(tt.message, got.Message))
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseCompression("gzip")
	assert.Error(t, err)
	assert.Equal(t, "unknown(9)", Compression(9).String())
}

func TestDecodeMessage_SizeMismatch(t *testing.T) {
	_, err := decodeMessage([]byte("abc"), CompressionNone, 4)
	assert.Error(t, err)

	_, err = decodeMessage([]byte("abc"), Compression(9), 3)
	assert.Error(t, err)
}

// Ledger

func TestCapsule_EscrowCannotFundCapsule(t *testing.T) {
	ctx := context.Background()
	d := newDurableStack(t, "ev-1", "ev-2")
	mallory := capsule.DeriveAccount("mallory")
	require.NoError(t, d.host.Fund(ctx, alice, 500))

	id, err := d.create(t, alice, 500, bob, "for bob", 1)
	require.NoError(t, err)

	_, err = d.create(t, escrow, 500, mallory, "not backed", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrEscrowCaller)

	count, err := d.capsule.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.ID(1), count)
	assert.Equal(t, capsule.Amount(500), d.balance(t, escrow))

	_, err = d.db.Advance(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, d.open(t, bob, id))
	assert.Equal(t, capsule.Amount(500), d.balance(t, bob))
	assert.Equal(t, capsule.Amount(0), d.balance(t, mallory))
	assert.Equal(t, capsule.Amount(0), d.balance(t, escrow))
}

func TestBank_SelfTransferRefused(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.Credit(ctx, alice, 10))

	err := s.Transfer(ctx, alice, alice, 5)
	assert.ErrorIs(t, err, ledger.ErrSelfTransfer)

	balance, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(10), balance)
}

func TestBank_Operations(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	balance, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(0), balance)

	require.NoError(t, s.Credit(ctx, alice, 100))
	require.NoError(t, s.Transfer(ctx, alice, bob, 30))
	require.NoError(t, s.Debit(ctx, bob, 10))

	balance, err = s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(70), balance)
	balance, err = s.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(20), balance)

	err = s.Transfer(ctx, bob, alice, 21)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	balance, err = s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, capsule.Amount(70), balance, "failed transfer must not credit")
}

func TestBank_LargeBalances(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	top := capsule.Amount(^uint64(0))
	require.NoError(t, s.Credit(ctx, alice, top))
	balance, err := s.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, top, balance)

	err = s.Credit(ctx, alice, 1)
	assert.ErrorIs(t, err, ledger.ErrBalanceOverflow)
}

func TestHeight(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	h, err := s.Advance(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, capsule.BlockNumber(5), h)

	require.NoError(t, s.SetHeight(ctx, 20))
	err = s.SetHeight(ctx, 19)
	assert.ErrorIs(t, err, ledger.ErrHeightRegression)

	require.NoError(t, s.SetHeight(ctx, capsule.MaxBlockNumber))
	_, err = s.Advance(ctx, 1)
	assert.ErrorIs(t, err, ledger.ErrHeightOverflow)

	h, err = s.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, capsule.MaxBlockNumber, h)
}

// Outbox

func TestOutbox_Paging(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	out := s.Outbox(event.NewFixedGenerator("a", "b", "c"))

	require.NoError(t, out.Notify(ctx, capsule.Created{ID: 0, From: alice, To: bob, UnlockBlock: 4}))
	require.NoError(t, out.Notify(ctx, capsule.Created{ID: 1, From: bob, To: alice, UnlockBlock: 8}))
	require.NoError(t, out.Notify(ctx, capsule.Opened{ID: 0, By: bob}))

	page, err := s.Events(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	rest, err := s.Events(ctx, page[1].Seq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, capsule.KindCapsuleOpened, rest[0].Kind)
	assert.Equal(t, capsule.ID(0), rest[0].CapsuleID)

	ev, err := page[1].Open()
	require.NoError(t, err)
	assert.Equal(t, capsule.Created{ID: 1, From: bob, To: alice, UnlockBlock: 8}, ev)

	none, err := s.Events(ctx, rest[0].Seq, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
