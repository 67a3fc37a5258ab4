package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ThreadKind distinguishes the conversation variants. Community threads
// never participate in replicated disappearing-message config.
type ThreadKind string

const (
	ThreadKindContact     ThreadKind = "contact"
	ThreadKindLegacyGroup ThreadKind = "legacy_group"
	ThreadKindGroup       ThreadKind = "group"
	ThreadKindCommunity   ThreadKind = "community"
)

// Thread is one conversation row. For contact threads the id is the
// contact's identity; for groups it is the group identity.
type Thread struct {
	ID          string
	Kind        ThreadKind
	CreatedAtMs int64
}

// ThreadExists reports whether a thread row exists for the id.
func (q *queries) ThreadExists(ctx context.Context, id string) (bool, error) {
	var one int

	err := q.db.QueryRowContext(ctx, `SELECT 1 FROM threads WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("querying thread %s: %w", id, err)
	}

	return true, nil
}

// GetThread returns the thread row, with ok=false when absent.
func (q *queries) GetThread(ctx context.Context, id string) (Thread, bool, error) {
	var th Thread
	var kind string

	err := q.db.QueryRowContext(ctx,
		`SELECT id, kind, created_at_ms FROM threads WHERE id = ?`, id,
	).Scan(&th.ID, &kind, &th.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, false, nil
	}

	if err != nil {
		return Thread{}, false, fmt.Errorf("querying thread %s: %w", id, err)
	}

	th.Kind = ThreadKind(kind)

	return th, true, nil
}

// SaveThread upserts a thread row.
func (q *queries) SaveThread(ctx context.Context, th Thread) error {
	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO threads (id, kind, created_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind = excluded.kind`,
		th.ID, string(th.Kind), th.CreatedAtMs,
	); err != nil {
		return fmt.Errorf("saving thread %s: %w", th.ID, err)
	}

	return nil
}

// DeleteThread removes a thread row, returning the number of rows deleted.
func (q *queries) DeleteThread(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting thread %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}

	return n, nil
}
