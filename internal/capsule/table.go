package capsule

import (
	"context"
	"sort"
	"sync"
)

// Table is the storage contract behind the Store: a mapping from ID to
// Capsule plus the next_id counter.
type Table interface {
	// Atomic runs fn as one all-or-nothing unit. If fn returns an error,
	// no write staged through tx becomes visible. Units never interleave.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Lookup reads a committed capsule.
	Lookup(ctx context.Context, id ID) (Capsule, bool, error)

	// NextID reads the committed next_id.
	NextID(ctx context.Context) (ID, error)

	// ScanAccount returns the committed capsules created by or addressed
	// to account, in ascending ID order.
	ScanAccount(ctx context.Context, account AccountID) ([]Entry, error)
}

// Tx is the read/write view of a Table inside an atomic unit.
type Tx interface {
	Get(ctx context.Context, id ID) (Capsule, bool, error)
	Insert(ctx context.Context, id ID, c Capsule) error
	Remove(ctx context.Context, id ID) error
	NextID(ctx context.Context) (ID, error)
	SetNextID(ctx context.Context, next ID) error
}

// MemTable is an in-memory Table.
//
// Writes made inside Atomic are staged and applied only when fn succeeds.
// A mutex serializes units, matching the host's single-writer model.
type MemTable struct {
	mu       sync.Mutex
	capsules map[ID]Capsule
	next     ID
}

// NewMemTable creates an empty table with next_id = 0.
func NewMemTable() *MemTable {
	return &MemTable{capsules: make(map[ID]Capsule)}
}

// NewMemTableAt creates an empty table whose next_id starts at next.
// Used to exercise id-space exhaustion.
func NewMemTableAt(next ID) *MemTable {
	t := NewMemTable()
	t.next = next
	return t
}

func (t *MemTable) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{
		table:  t,
		writes: make(map[ID]*Capsule),
		next:   t.next,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	// Commit
	for id, c := range tx.writes {
		if c == nil {
			delete(t.capsules, id)
			continue
		}
		t.capsules[id] = *c
	}
	t.next = tx.next
	return nil
}

func (t *MemTable) Lookup(_ context.Context, id ID) (Capsule, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.capsules[id]
	if !ok {
		return Capsule{}, false, nil
	}
	return c.Clone(), true, nil
}

func (t *MemTable) NextID(context.Context) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next, nil
}

func (t *MemTable) ScanAccount(_ context.Context, account AccountID) ([]Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := []Entry{}
	for id, c := range t.capsules {
		if c.Involves(account) {
			entries = append(entries, Entry{ID: id, Capsule: c.Clone()})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Len returns the number of live capsules.
func (t *MemTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.capsules)
}

// memTx stages writes. A nil entry in writes marks a removal.
type memTx struct {
	table  *MemTable
	writes map[ID]*Capsule
	next   ID
}

func (tx *memTx) Get(_ context.Context, id ID) (Capsule, bool, error) {
	if c, staged := tx.writes[id]; staged {
		if c == nil {
			return Capsule{}, false, nil
		}
		return c.Clone(), true, nil
	}
	c, ok := tx.table.capsules[id]
	if !ok {
		return Capsule{}, false, nil
	}
	return c.Clone(), true, nil
}

func (tx *memTx) Insert(_ context.Context, id ID, c Capsule) error {
	stored := c.Clone()
	tx.writes[id] = &stored
	return nil
}

func (tx *memTx) Remove(_ context.Context, id ID) error {
	tx.writes[id] = nil
	return nil
}

func (tx *memTx) NextID(context.Context) (ID, error) {
	return tx.next, nil
}

func (tx *memTx) SetNextID(_ context.Context, next ID) error {
	tx.next = next
	return nil
}
