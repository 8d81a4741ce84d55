package capsule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = DeriveAccount("alice")
	bob   = DeriveAccount("bob")
	carol = DeriveAccount("carol")
)

// fakeTransferer records transfers and can be told to reject them.
type fakeTransferer struct {
	reject    bool
	transfers []transfer
}

type transfer struct {
	to     AccountID
	amount Amount
}

func (f *fakeTransferer) Transfer(_ context.Context, to AccountID, amount Amount) error {
	if f.reject {
		return errors.New("ledger rejected transfer")
	}
	f.transfers = append(f.transfers, transfer{to: to, amount: amount})
	return nil
}

// eventLog collects notifications.
type eventLog struct {
	events []Event
}

func (l *eventLog) Notify(_ context.Context, ev Event) error {
	l.events = append(l.events, ev)
	return nil
}

type fixture struct {
	store      *Store
	table      *MemTable
	transferer *fakeTransferer
	events     *eventLog
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		table:      NewMemTable(),
		transferer: &fakeTransferer{},
		events:     &eventLog{},
	}
	opts = append([]Option{WithNotifier(f.events)}, opts...)
	f.store = New(f.table, f.transferer, opts...)
	return f
}

func at(caller AccountID, block BlockNumber, value Amount) StaticEnv {
	return StaticEnv{Account: caller, Block: block, Value: value}
}

func TestCreate_ComputesUnlockBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 100, 500), bob, []byte("hello"), 10)
	require.NoError(t, err)
	assert.Equal(t, ID(0), id)

	c, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, alice, c.Creator)
	assert.Equal(t, bob, c.Recipient)
	assert.Equal(t, []byte("hello"), c.Message)
	assert.Equal(t, BlockNumber(110), c.UnlockBlock)
	assert.Equal(t, Amount(500), c.ValueLocked)
}

func TestCreate_AssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for want := ID(0); want < 5; want++ {
		id, err := f.store.Create(ctx, at(alice, 1, 0), bob, nil, 1)
		require.NoError(t, err)
		assert.Equal(t, want, id)

		count, err := f.store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, want+1, count)
	}
}

func TestCreate_ZeroDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Create(ctx, at(alice, 100, 5), bob, []byte("x"), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnlockTimeMustBeInFuture)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID(0), count)
	assert.Empty(t, f.events.events)
}

func TestCreate_AdditionOverflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Create(ctx, at(alice, MaxBlockNumber, 0), bob, nil, 1)
	require.Error(t, err)
	assert.Equal(t, CodeAdditionOverflow, CodeOf(err))

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID(0), count)
	assert.Equal(t, 0, f.table.Len())
}

func TestCreate_LargestDurationThatFits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 10, 0), bob, nil, MaxBlockNumber-10)
	require.NoError(t, err)

	c, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MaxBlockNumber, c.UnlockBlock)
}

func TestCreate_MessageBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithMaxMessageBytes(8))

	_, err := f.store.Create(ctx, at(alice, 1, 0), bob, make([]byte, 8), 1)
	require.NoError(t, err)

	_, err = f.store.Create(ctx, at(alice, 1, 0), bob, make([]byte, 9), 1)
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID(1), count)
}

func TestCreate_SelfCapsule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 7), alice, []byte("note to self"), 2)
	require.NoError(t, err)

	require.NoError(t, f.store.Open(ctx, at(alice, 3, 0), id))
	assert.Equal(t, []transfer{{to: alice, amount: 7}}, f.transferer.transfers)
}

func TestCreate_EmitsCreated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 40, 0), bob, nil, 2)
	require.NoError(t, err)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, Created{ID: id, From: alice, To: bob, UnlockBlock: 42}, f.events.events[0])
}

func TestCreate_CopiesMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg := []byte("original")
	id, err := f.store.Create(ctx, at(alice, 1, 0), bob, msg, 1)
	require.NoError(t, err)
	msg[0] = 'X'

	c, _, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), c.Message)
}

func TestCreate_IDSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	table := NewMemTableAt(MaxID)
	s := New(table, &fakeTransferer{})

	_, err := s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, s.Sealed())
	assert.Equal(t, 0, table.Len())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxID, count)

	// Sealed: later creations fail fast even with valid input.
	_, err = s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestCreate_LastAssignableID(t *testing.T) {
	ctx := context.Background()
	table := NewMemTableAt(MaxID - 1)
	s := New(table, &fakeTransferer{})

	id, err := s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, MaxID-1, id)

	_, err = s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	assert.True(t, IsFatal(err))
}

func TestOpen_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 100, 500), bob, []byte("happy birthday"), 10)
	require.NoError(t, err)

	err = f.store.Open(ctx, at(bob, 109, 0), id)
	assert.ErrorIs(t, err, ErrCapsuleIsStillLocked)
	assert.Empty(t, f.transferer.transfers)

	require.NoError(t, f.store.Open(ctx, at(bob, 110, 0), id))
	assert.Equal(t, []transfer{{to: bob, amount: 500}}, f.transferer.transfers)

	_, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.store.Open(ctx, at(bob, 200, 0), id)
	assert.ErrorIs(t, err, ErrCapsuleNotFound)
	assert.Len(t, f.transferer.transfers, 1)

	require.Len(t, f.events.events, 2)
	assert.Equal(t, Opened{ID: id, By: bob}, f.events.events[1])
}

func TestOpen_UnknownID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.store.Open(ctx, at(bob, 1, 0), 42)
	require.Error(t, err)
	assert.Equal(t, CodeCapsuleNotFound, CodeOf(err))

	var ce *Error
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.CapsuleID)
	assert.Equal(t, ID(42), *ce.CapsuleID)
}

func TestOpen_WrongCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 100), bob, []byte("for bob"), 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller AccountID
		block  BlockNumber
	}{
		{"creator before unlock", alice, 1},
		{"creator after unlock", alice, 50},
		{"stranger after unlock", carol, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.store.Open(ctx, at(tt.caller, tt.block, 0), id)
			assert.ErrorIs(t, err, ErrNotTheDesignatedRecipient)

			_, ok, err := f.store.Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, "capsule should remain after rejected open")
		})
	}
	assert.Empty(t, f.transferer.transfers)
}

func TestOpen_RecipientCheckedBeforeLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 0), bob, nil, 100)
	require.NoError(t, err)

	err = f.store.Open(ctx, at(carol, 1, 0), id)
	assert.Equal(t, CodeNotTheDesignatedRecipient, CodeOf(err))
}

func TestOpen_TransferRejectedKeepsCapsule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 250), bob, []byte("m"), 1)
	require.NoError(t, err)

	f.transferer.reject = true
	err = f.store.Open(ctx, at(bob, 5, 0), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenTransferFailed)
	assert.Contains(t, err.Error(), "ledger rejected transfer")

	c, ok, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Amount(250), c.ValueLocked)

	// Retry succeeds once the ledger accepts.
	f.transferer.reject = false
	require.NoError(t, f.store.Open(ctx, at(bob, 6, 0), id))
	assert.Equal(t, []transfer{{to: bob, amount: 250}}, f.transferer.transfers)
}

func TestOpen_ZeroValueSkipsTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 0), bob, []byte("just words"), 1)
	require.NoError(t, err)

	f.transferer.reject = true
	require.NoError(t, f.store.Open(ctx, at(bob, 2, 0), id))
	assert.Empty(t, f.transferer.transfers)
}

func TestOpen_NotifierFailureAborts(t *testing.T) {
	ctx := context.Background()
	table := NewMemTable()
	fail := false
	s := New(table, &fakeTransferer{}, WithNotifier(NotifierFunc(func(context.Context, Event) error {
		if fail {
			return errors.New("sink down")
		}
		return nil
	})))

	id, err := s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.NoError(t, err)

	fail = true
	require.Error(t, s.Open(ctx, at(bob, 2, 0), id))
	_, ok, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_NotifiesBeforeTransfer(t *testing.T) {
	ctx := context.Background()
	transferer := &fakeTransferer{}
	var pending []transfer
	s := New(NewMemTable(), transferer, WithNotifier(NotifierFunc(func(_ context.Context, ev Event) error {
		if ev.Kind() == KindCapsuleOpened {
			pending = append(pending, transferer.transfers...)
		}
		return nil
	})))

	id, err := s.Create(ctx, at(alice, 1, 40), bob, nil, 1)
	require.NoError(t, err)
	require.NoError(t, s.Open(ctx, at(bob, 2, 0), id))

	assert.Empty(t, pending, "value moved before CapsuleOpened was accepted")
	assert.Equal(t, []transfer{{to: bob, amount: 40}}, transferer.transfers)
}

func TestCreate_SealedStillRejectsZeroDuration(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemTableAt(MaxID), &fakeTransferer{})

	_, err := s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.True(t, IsFatal(err))
	require.True(t, s.Sealed())

	_, err = s.Create(ctx, at(alice, 1, 0), bob, nil, 0)
	assert.ErrorIs(t, err, ErrUnlockTimeMustBeInFuture)

	_, err = s.Create(ctx, at(alice, MaxBlockNumber, 0), bob, nil, 1)
	assert.ErrorIs(t, err, ErrAdditionOverflow)

	_, err = s.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestCount_UnaffectedByOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.store.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.NoError(t, err)
	_, err = f.store.Create(ctx, at(alice, 1, 0), carol, nil, 1)
	require.NoError(t, err)

	require.NoError(t, f.store.Open(ctx, at(bob, 2, 0), id))

	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, ID(2), count)
	assert.Equal(t, 1, f.table.Len())
}

func TestList_FiltersByAccount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Create(ctx, at(alice, 1, 0), bob, nil, 1)
	require.NoError(t, err)
	_, err = f.store.Create(ctx, at(carol, 1, 0), alice, nil, 1)
	require.NoError(t, err)
	_, err = f.store.Create(ctx, at(bob, 1, 0), carol, nil, 1)
	require.NoError(t, err)

	entries, err := f.store.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ID(0), entries[0].ID)
	assert.Equal(t, ID(1), entries[1].ID)

	require.NoError(t, f.store.Open(ctx, at(alice, 5, 0), 1))
	entries, err = f.store.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ID(0), entries[0].ID)
}
