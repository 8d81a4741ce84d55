// Package scenario runs YAML-described capsule scenarios.
//
// A scenario funds named accounts, executes a sequence of steps (create,
// open, get, count, list, advance) against a fresh backend, checks each
// step's expected outcome, and evaluates assertions over the final state
// and the notifications emitted. Every run produces a trace that renders
// as canonical JSON, so it can be compared against a golden file.
//
// Accounts are written by name. A name maps to an account ID through
// capsule.DeriveAccount; "0x"-prefixed hex is taken literally. Traces
// print accounts by the name the scenario used for them.
//
// Two backends are available: "memory" (the default) uses capsule.MemTable
// and ledger.Memory, "sqlite" uses an in-memory SQLite store. Both must
// produce identical traces for the same scenario.
package scenario
