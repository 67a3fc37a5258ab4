package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Interaction variants written by this layer.
const (
	// VariantDisappearingUpdate is the synthetic info line describing a
	// disappearing-message policy change, shown in the conversation.
	VariantDisappearingUpdate = "info_disappearing_messages_update"
)

// Interaction is one conversation event row. The merge layer only writes
// synthetic info events; regular messages are owned by the (out of scope)
// messaging pipeline.
type Interaction struct {
	ID          string
	ThreadID    string
	AuthorID    string
	Variant     string
	Body        string
	TimestampMs int64
}

// InsertInteraction inserts an interaction row, assigning an id when the
// caller left it empty.
func (q *queries) InsertInteraction(ctx context.Context, in Interaction) (Interaction, error) {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO interactions (id, thread_id, author_id, variant, body, timestamp_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, in.ThreadID, in.AuthorID, in.Variant, in.Body, in.TimestampMs,
	); err != nil {
		return Interaction{}, fmt.Errorf("inserting interaction: %w", err)
	}

	return in, nil
}

// InteractionsForThread returns a thread's interactions ordered by
// timestamp ascending.
func (q *queries) InteractionsForThread(ctx context.Context, threadID string) ([]Interaction, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, thread_id, author_id, variant, body, timestamp_ms
		 FROM interactions WHERE thread_id = ? ORDER BY timestamp_ms`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying interactions for %s: %w", threadID, err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.ID, &in.ThreadID, &in.AuthorID, &in.Variant, &in.Body, &in.TimestampMs); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}

		out = append(out, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating interactions: %w", err)
	}

	return out, nil
}
