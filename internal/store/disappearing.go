package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ExpiryType says when a disappearing message's countdown starts.
type ExpiryType int64

const (
	ExpiryUnknown   ExpiryType = 0
	ExpiryAfterRead ExpiryType = 1
	ExpiryAfterSend ExpiryType = 2
)

// DisappearingConfig is the per-thread disappearing-message policy. Its
// fields form one atomic policy: an accepted change supersedes the whole
// row rather than merging field by field.
type DisappearingConfig struct {
	ThreadID        string
	IsEnabled       bool
	DurationSeconds int64
	Type            ExpiryType

	// LastChangeTsMs is the timestamp of the most recent accepted change,
	// used by the change gate to reject stale replays.
	LastChangeTsMs int64
}

// DefaultDisappearingConfig is the disabled policy for a thread with no
// stored row.
func DefaultDisappearingConfig(threadID string) DisappearingConfig {
	return DisappearingConfig{ThreadID: threadID}
}

// Equal reports whether two configs describe the same policy. The change
// timestamp is bookkeeping, not policy, so it is excluded.
func (c DisappearingConfig) Equal(o DisappearingConfig) bool {
	return c.ThreadID == o.ThreadID &&
		c.IsEnabled == o.IsEnabled &&
		c.DurationSeconds == o.DurationSeconds &&
		c.Type == o.Type
}

// GetDisappearingConfig returns the stored policy for a thread, with
// ok=false when none exists.
func (q *queries) GetDisappearingConfig(ctx context.Context, threadID string) (DisappearingConfig, bool, error) {
	var c DisappearingConfig
	var typ int64

	err := q.db.QueryRowContext(ctx,
		`SELECT thread_id, is_enabled, duration_seconds, type, last_change_ts_ms
		 FROM disappearing_configs WHERE thread_id = ?`, threadID,
	).Scan(&c.ThreadID, &c.IsEnabled, &c.DurationSeconds, &typ, &c.LastChangeTsMs)
	if errors.Is(err, sql.ErrNoRows) {
		return DisappearingConfig{}, false, nil
	}

	if err != nil {
		return DisappearingConfig{}, false, fmt.Errorf("querying disappearing config %s: %w", threadID, err)
	}

	c.Type = ExpiryType(typ)

	return c, true, nil
}

// SaveDisappearingConfig upserts the whole policy row.
func (q *queries) SaveDisappearingConfig(ctx context.Context, c DisappearingConfig) error {
	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO disappearing_configs (thread_id, is_enabled, duration_seconds, type, last_change_ts_ms)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
		   is_enabled = excluded.is_enabled,
		   duration_seconds = excluded.duration_seconds,
		   type = excluded.type,
		   last_change_ts_ms = excluded.last_change_ts_ms`,
		c.ThreadID, c.IsEnabled, c.DurationSeconds, int64(c.Type), c.LastChangeTsMs,
	); err != nil {
		return fmt.Errorf("saving disappearing config %s: %w", c.ThreadID, err)
	}

	return nil
}
