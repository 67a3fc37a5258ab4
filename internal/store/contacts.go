package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Contact is the relational row for one contact. IsApproved and
// DidApproveMe only ever transition false to true under remote merge; the
// merge layer enforces that, this layer just stores what it is given.
type Contact struct {
	ID           string
	IsApproved   bool
	IsBlocked    bool
	DidApproveMe bool
	Priority     int64
}

// Profile is the relational row for one profile (the contact's or the
// owner's own).
type Profile struct {
	ID        string
	Name      string
	Nickname  string
	AvatarURL string
	AvatarKey []byte
}

// Allowed column names for filtered updates, per table.
var (
	contactColumns = map[string]struct{}{
		"is_approved":    {},
		"is_blocked":     {},
		"did_approve_me": {},
		"priority":       {},
	}

	profileColumns = map[string]struct{}{
		"name":       {},
		"nickname":   {},
		"avatar_url": {},
		"avatar_key": {},
	}
)

// ColumnSet maps column names to new values for a filtered update.
// Callers put only genuinely-changed columns in it; an empty set is a
// caller bug surfaced as an error rather than a no-op UPDATE.
type ColumnSet map[string]any

// GetContact returns the contact row, with ok=false when absent.
func (q *queries) GetContact(ctx context.Context, id string) (Contact, bool, error) {
	var c Contact

	err := q.db.QueryRowContext(ctx,
		`SELECT id, is_approved, is_blocked, did_approve_me, priority FROM contacts WHERE id = ?`, id,
	).Scan(&c.ID, &c.IsApproved, &c.IsBlocked, &c.DidApproveMe, &c.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, false, nil
	}

	if err != nil {
		return Contact{}, false, fmt.Errorf("querying contact %s: %w", id, err)
	}

	return c, true, nil
}

// FetchOrCreateContact returns the contact row for id, inserting a default
// row first when none exists.
func (q *queries) FetchOrCreateContact(ctx context.Context, id string) (Contact, error) {
	if _, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO contacts (id) VALUES (?)`, id,
	); err != nil {
		return Contact{}, fmt.Errorf("creating contact %s: %w", id, err)
	}

	c, ok, err := q.GetContact(ctx, id)
	if err != nil {
		return Contact{}, err
	}

	if !ok {
		return Contact{}, fmt.Errorf("contact %s missing after insert", id)
	}

	return c, nil
}

// SaveContact upserts the full contact row.
func (q *queries) SaveContact(ctx context.Context, c Contact) error {
	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO contacts (id, is_approved, is_blocked, did_approve_me, priority)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   is_approved = excluded.is_approved,
		   is_blocked = excluded.is_blocked,
		   did_approve_me = excluded.did_approve_me,
		   priority = excluded.priority`,
		c.ID, c.IsApproved, c.IsBlocked, c.DidApproveMe, c.Priority,
	); err != nil {
		return fmt.Errorf("saving contact %s: %w", c.ID, err)
	}

	return nil
}

// UpdateContactColumns applies a filtered column update to one contact row
// and returns the number of rows affected.
func (q *queries) UpdateContactColumns(ctx context.Context, id string, cols ColumnSet) (int64, error) {
	return q.updateColumns(ctx, "contacts", contactColumns, id, cols)
}

// GetProfile returns the profile row, with ok=false when absent.
func (q *queries) GetProfile(ctx context.Context, id string) (Profile, bool, error) {
	var p Profile

	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, nickname, avatar_url, avatar_key FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Nickname, &p.AvatarURL, &p.AvatarKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}

	if err != nil {
		return Profile{}, false, fmt.Errorf("querying profile %s: %w", id, err)
	}

	return p, true, nil
}

// FetchOrCreateProfile returns the profile row for id, inserting a default
// row first when none exists.
func (q *queries) FetchOrCreateProfile(ctx context.Context, id string) (Profile, error) {
	if _, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (id) VALUES (?)`, id,
	); err != nil {
		return Profile{}, fmt.Errorf("creating profile %s: %w", id, err)
	}

	p, ok, err := q.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	if !ok {
		return Profile{}, fmt.Errorf("profile %s missing after insert", id)
	}

	return p, nil
}

// SaveProfile upserts the full profile row.
func (q *queries) SaveProfile(ctx context.Context, p Profile) error {
	if _, err := q.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, nickname, avatar_url, avatar_key)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   nickname = excluded.nickname,
		   avatar_url = excluded.avatar_url,
		   avatar_key = excluded.avatar_key`,
		p.ID, p.Name, p.Nickname, p.AvatarURL, p.AvatarKey,
	); err != nil {
		return fmt.Errorf("saving profile %s: %w", p.ID, err)
	}

	return nil
}

// UpdateProfileColumns applies a filtered column update to one profile row
// and returns the number of rows affected.
func (q *queries) UpdateProfileColumns(ctx context.Context, id string, cols ColumnSet) (int64, error) {
	return q.updateColumns(ctx, "profiles", profileColumns, id, cols)
}

// ContactIDsExisting filters ids down to those with a contact row,
// preserving input order.
func (q *queries) ContactIDsExisting(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id FROM contacts WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing contact ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning contact id: %w", err)
		}

		existing[id] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contact ids: %w", err)
	}

	var out []string
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			out = append(out, id)
		}
	}

	return out, nil
}

func (q *queries) updateColumns(ctx context.Context, table string, allowed map[string]struct{}, id string, cols ColumnSet) (int64, error) {
	if len(cols) == 0 {
		return 0, fmt.Errorf("empty column set for %s %s", table, id)
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		if _, ok := allowed[name]; !ok {
			return 0, fmt.Errorf("column %q not updatable on %s", name, table)
		}

		names = append(names, name)
	}
	sort.Strings(names)

	assignments := make([]string, len(names))
	args := make([]any, 0, len(names)+1)

	for i, name := range names {
		assignments[i] = name + " = ?"
		args = append(args, cols[name])
	}
	args = append(args, id)

	res, err := q.db.ExecContext(ctx,
		`UPDATE `+table+` SET `+strings.Join(assignments, ", ")+` WHERE id = ?`, args...,
	)
	if err != nil {
		return 0, fmt.Errorf("updating %s %s: %w", table, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}

	return n, nil
}
