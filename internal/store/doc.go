// Package store provides SQLite-backed durable storage for the capsule store.
//
// One database holds everything the host ledger and the capsule store
// need to survive a restart:
//   - capsules: live capsule records keyed by capsule ID
//   - meta: the next_id counter and the current block height
//   - accounts: ledger balances, including the escrow account
//   - outbox: notifications, written in the same transaction as the change
//
// # Transactions
//
// InTx opens one transaction and carries it on the context. Every method
// called with that context joins the transaction instead of using the
// pool, so a capsule write, a ledger transfer and its outbox row commit or
// roll back together. Nested InTx calls join the outer transaction.
//
// # Integer Encoding
//
// SQLite integers are signed 64-bit. Capsule IDs, amounts and the next_id
// counter are unsigned 64-bit and are stored by bit pattern, so values at
// or above 2^63 read back unchanged but do not sort numerically in SQL.
// Ordering is done in Go.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - a single connection: SQLite allows one writer at a time
package store
