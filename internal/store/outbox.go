package store

import (
	"context"
	"fmt"

	"github.com/roach88/chrono/internal/capsule"
	"github.com/roach88/chrono/internal/event"
)

// Outbox is a capsule.Notifier that persists notifications in the outbox
// table. Called inside a capsule unit, the row commits with the change.
type Outbox struct {
	store *Store
	gen   event.IDGenerator
}

// Outbox returns a notifier writing to this store, with envelope IDs from gen.
func (s *Store) Outbox(gen event.IDGenerator) *Outbox {
	return &Outbox{store: s, gen: gen}
}

func (o *Outbox) Notify(ctx context.Context, ev capsule.Event) error {
	env, err := event.Seal(o.gen, ev)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	_, err = o.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, kind, capsule_id, payload)
		VALUES (?, ?, ?, ?)
	`, env.ID, string(env.Kind), int64(env.CapsuleID), env.Payload)
	if err != nil {
		return fmt.Errorf("outbox: write %s: %w", env.Kind, err)
	}
	return nil
}

// OutboxRecord is a stored notification with its position in the outbox.
type OutboxRecord struct {
	Seq int64 `json:"seq"`
	event.Envelope
}

// Events returns up to limit outbox records with seq greater than after,
// in emission order. limit <= 0 means no limit.
func (s *Store) Events(ctx context.Context, after int64, limit int) ([]OutboxRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT is unbounded
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT seq, id, kind, capsule_id, payload
		FROM outbox
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	records := []OutboxRecord{}
	for rows.Next() {
		var (
			rec       OutboxRecord
			kind      string
			capsuleID int64
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &kind, &capsuleID, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		rec.Kind = capsule.EventKind(kind)
		rec.CapsuleID = capsule.ID(capsuleID)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return records, nil
}
