package capsule

import "context"

// Env is the per-call capability handle supplied by the host.
type Env interface {
	// Caller returns the identity invoking the operation.
	Caller() AccountID

	// BlockNumber returns the current block height.
	BlockNumber() BlockNumber

	// TransferredValue returns the value attached to the call.
	TransferredValue() Amount
}

// Transferer moves locked value out of the store.
// Transfer must be synchronous: success or failure is known on return.
type Transferer interface {
	Transfer(ctx context.Context, to AccountID, amount Amount) error
}

// Notifier receives notifications emitted by the store.
//
// Notify is called inside the operation's atomic unit, after all table
// writes and before any value leaves the store. An error aborts the unit.
// A sink that cannot roll back sees notifications of units that later
// abort on a failed transfer; put such sinks behind event.Deferred.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// EventKind names a notification.
type EventKind string

const (
	KindCapsuleCreated EventKind = "CapsuleCreated"
	KindCapsuleOpened  EventKind = "CapsuleOpened"
)

// Event is a notification emitted by the store. It is either Created or Opened.
type Event interface {
	Kind() EventKind
	Capsule() ID
}

// Created is emitted by a successful Create.
type Created struct {
	ID          ID          `cbor:"id" json:"id"`
	From        AccountID   `cbor:"from" json:"from"`
	To          AccountID   `cbor:"to" json:"to"`
	UnlockBlock BlockNumber `cbor:"unlock_block" json:"unlock_block"`
}

func (Created) Kind() EventKind { return KindCapsuleCreated }
func (e Created) Capsule() ID   { return e.ID }

// Opened is emitted by a successful Open.
type Opened struct {
	ID ID        `cbor:"id" json:"id"`
	By AccountID `cbor:"by" json:"by"`
}

func (Opened) Kind() EventKind { return KindCapsuleOpened }
func (e Opened) Capsule() ID   { return e.ID }

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Event) error { return nil }

// StaticEnv is a fixed Env, convenient for tests and tools.
type StaticEnv struct {
	Account AccountID
	Block   BlockNumber
	Value   Amount
}

func (e StaticEnv) Caller() AccountID        { return e.Account }
func (e StaticEnv) BlockNumber() BlockNumber { return e.Block }
func (e StaticEnv) TransferredValue() Amount { return e.Value }
