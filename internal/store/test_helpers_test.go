package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/event"
	"github.com/roach88/chrono/internal/ledger"
)

var (
	alice  = capsule.DeriveAccount("alice")
	bob    = capsule.DeriveAccount("bob")
	escrow = capsule.DeriveAccount("chrono.escrow")
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// durableStack wires a capsule store, host and outbox over one SQLite store.
type durableStack struct {
	db      *Store
	host    *ledger.Host
	capsule *capsule.Store
}

func newDurableStack(t *testing.T, ids ...string) *durableStack {
	t.Helper()
	db := createTestStore(t)
	host := ledger.NewHost(db, db, escrow, ledger.WithRunner(db.InTx))
	cs := capsule.New(db, host, capsule.WithNotifier(db.Outbox(event.NewFixedGenerator(ids...))))
	return &durableStack{db: db, host: host, capsule: cs}
}
