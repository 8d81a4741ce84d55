package scenario

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/event"
	"github.com/roach88/chrono/internal/ledger"
	"github.com/roach88/chrono/internal/store"
)

// EscrowAccount names the account holding locked value in every scenario.
const EscrowAccount = "chrono.escrow"

// backend is a capsule store wired to a host, a chain and a recorder.
type backend struct {
	capsules  *capsule.Store
	host      *ledger.Host
	recorder  *event.Recorder
	height    func(ctx context.Context) (capsule.BlockNumber, error)
	advance   func(ctx context.Context, n capsule.BlockNumber) (capsule.BlockNumber, error)
	setHeight func(ctx context.Context, h capsule.BlockNumber) error
	close     func() error
}

func newBackend(ctx context.Context, s *Scenario) (*backend, error) {
	escrow := capsule.DeriveAccount(EscrowAccount)
	start := capsule.BlockNumber(s.StartBlock)
	rec := event.NewRecorder()

	var next capsule.ID
	if s.NextID != nil {
		next = capsule.ID(*s.NextID)
	}

	// The recorder only sees notifications of committed calls.
	deferred := event.NewDeferred(rec)

	b := &backend{recorder: rec}
	switch s.Backend {
	case "", BackendMemory:
		chain := ledger.NewChain(start)
		b.host = ledger.NewHost(ledger.NewMemory(), chain, escrow,
			ledger.WithRunner(deferred.Wrap(nil)))
		b.capsules = capsule.New(capsule.NewMemTableAt(next), b.host,
			capsule.WithNotifier(deferred),
			capsule.WithMaxMessageBytes(s.MaxMessageBytes))
		b.height = chain.BlockNumber
		b.advance = func(_ context.Context, n capsule.BlockNumber) (capsule.BlockNumber, error) {
			return chain.Advance(n)
		}
		b.setHeight = func(_ context.Context, h capsule.BlockNumber) error {
			return chain.SetHeight(h)
		}
		b.close = func() error { return nil }

	case BackendSQLite:
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		if err := st.SetHeight(ctx, start); err != nil {
			st.Close()
			return nil, err
		}
		if next != 0 {
			err := st.Atomic(ctx, func(ctx context.Context, tx capsule.Tx) error {
				return tx.SetNextID(ctx, next)
			})
			if err != nil {
				st.Close()
				return nil, err
			}
		}
		outbox := st.Outbox(event.UUIDv7Generator{})
		b.host = ledger.NewHost(st, st, escrow, ledger.WithRunner(deferred.Wrap(st.InTx)))
		b.capsules = capsule.New(st, b.host,
			capsule.WithNotifier(event.Fanout{outbox, deferred}),
			capsule.WithMaxMessageBytes(s.MaxMessageBytes))
		b.height = st.BlockNumber
		b.advance = st.Advance
		b.setHeight = st.SetHeight
		b.close = st.Close

	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}

	for _, name := range sortedNames(s.Accounts) {
		amount := s.Accounts[name]
		if amount == 0 {
			continue
		}
		account, err := resolveAccount(name)
		if err != nil {
			b.close()
			return nil, err
		}
		if err := b.host.Fund(ctx, account, capsule.Amount(amount)); err != nil {
			b.close()
			return nil, fmt.Errorf("fund %s: %w", name, err)
		}
	}
	return b, nil
}

// resolveAccount maps a scenario account name to its ID.
func resolveAccount(name string) (capsule.AccountID, error) {
	return capsule.ParseAccount(name)
}

// accountNames maps account IDs back to the names a scenario used.
type accountNames map[capsule.AccountID]string

func collectNames(s *Scenario) (accountNames, error) {
	names := accountNames{}
	add := func(name string) error {
		if name == "" {
			return nil
		}
		account, err := resolveAccount(name)
		if err != nil {
			return err
		}
		if _, ok := names[account]; !ok {
			names[account] = name
		}
		return nil
	}

	if err := add(EscrowAccount); err != nil {
		return nil, err
	}
	for _, name := range sortedNames(s.Accounts) {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	for i, st := range s.Steps {
		for _, name := range []string{st.Caller, st.Args.Recipient, st.Args.Account} {
			if err := add(name); err != nil {
				return nil, fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
	}
	for i, a := range s.Assertions {
		if err := add(a.Account); err != nil {
			return nil, fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return names, nil
}

func sortedNames(accounts map[string]uint64) []string {
	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n accountNames) name(a capsule.AccountID) string {
	if name, ok := n[a]; ok {
		return name
	}
	return a.String()
}
