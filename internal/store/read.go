package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/chrono/internal/capsule"
)

// Lookup implements capsule.Table.
func (s *Store) Lookup(ctx context.Context, id capsule.ID) (capsule.Capsule, bool, error) {
	return s.lookup(ctx, id)
}

// NextID implements capsule.Table.
func (s *Store) NextID(ctx context.Context) (capsule.ID, error) {
	v, err := s.readMeta(ctx, metaNextID)
	return capsule.ID(v), err
}

// ScanAccount implements capsule.Table. Entries are ordered by ID.
func (s *Store) ScanAccount(ctx context.Context, account capsule.AccountID) ([]capsule.Entry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, listQuery, account[:], account[:])
	if err != nil {
		return nil, fmt.Errorf("query capsules: %w", err)
	}
	defer rows.Close()

	entries := []capsule.Entry{}
	for rows.Next() {
		e, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capsules: %w", err)
	}

	// IDs are stored by bit pattern; sort as unsigned.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// listQuery is served by idx_capsules_creator and idx_capsules_recipient.
const listQuery = `
	SELECT id, creator, recipient, message, message_codec, message_size, unlock_block, value_locked
	FROM capsules
	WHERE creator = ? OR recipient = ?
`

// BlockNumber implements ledger.Clock.
func (s *Store) BlockNumber(ctx context.Context) (capsule.BlockNumber, error) {
	v, err := s.readMeta(ctx, metaHeight)
	return capsule.BlockNumber(v), err
}

// Balance implements ledger.Bank. Unknown accounts have a zero balance.
func (s *Store) Balance(ctx context.Context, account capsule.AccountID) (capsule.Amount, error) {
	var balance int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account = ?`, account[:]).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return capsule.Amount(balance), nil
}

func (s *Store) lookup(ctx context.Context, id capsule.ID) (capsule.Capsule, bool, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, creator, recipient, message, message_codec, message_size, unlock_block, value_locked
		FROM capsules
		WHERE id = ?
	`, int64(id))

	e, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return capsule.Capsule{}, false, nil
	}
	if err != nil {
		return capsule.Capsule{}, false, err
	}
	return e.Capsule, true, nil
}

func (s *Store) readMeta(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCapsule(row scanner) (capsule.Entry, error) {
	var (
		id, unlock, value  int64
		creator, recipient []byte
		stored             []byte
		codec, size        int
	)
	if err := row.Scan(&id, &creator, &recipient, &stored, &codec, &size, &unlock, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return capsule.Entry{}, err
		}
		return capsule.Entry{}, fmt.Errorf("scan capsule: %w", err)
	}

	message, err := decodeMessage(stored, Compression(codec), size)
	if err != nil {
		return capsule.Entry{}, fmt.Errorf("capsule %d: %w", capsule.ID(id), err)
	}

	e := capsule.Entry{
		ID: capsule.ID(id),
		Capsule: capsule.Capsule{
			Message:     message,
			UnlockBlock: capsule.BlockNumber(unlock),
			ValueLocked: capsule.Amount(value),
		},
	}
	copy(e.Capsule.Creator[:], creator)
	copy(e.Capsule.Recipient[:], recipient)
	return e, nil
}
