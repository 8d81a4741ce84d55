// Package capsule implements the time-locked capsule store.
//
// A capsule locks a message and an amount of value for a designated
// recipient until a block height is reached. The Store exposes four
// operations over a Table:
//
//   - Create: validates the unlock height, stores the record, advances next_id
//   - Open: checks recipient and unlock height, releases value, deletes the record
//   - Get: read-only lookup, absence is not an error
//   - Count: next_id, the number of capsules ever created
//
// # Collaborators
//
// The store never reads ambient state. Every mutating call receives an
// Env (caller, block height, attached value). Value leaves the store only
// through a Transferer, and notifications go out through a Notifier.
//
// # Atomicity
//
// Each Create and Open runs inside Table.Atomic. Writes staged by a unit
// that returns an error are discarded, so a rejected transfer leaves the
// capsule exactly as it was and can be retried.
package capsule
