package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/errors"
	"github.com/alexjbarnes/confsync/internal/store"
)

// MergeOutcome counts what an inbound merge actually changed. Re-applying
// an identical batch yields the zero outcome apart from RecordsSkipped.
type MergeOutcome struct {
	ContactsCreated int
	ContactWrites   int
	ProfileWrites   int
	ThreadsCreated  int
	ThreadsDeleted  int
	RecordsSkipped  int
}

// TotalWrites is the number of relational mutations the merge performed.
func (o MergeOutcome) TotalWrites() int {
	return o.ContactsCreated + o.ContactWrites + o.ProfileWrites + o.ThreadsCreated + o.ThreadsDeleted
}

// ApplyRemoteContacts merges a remote device's encoded contacts state into
// the live handle, then reconciles the merged records against the
// relational store. A dump is persisted afterwards when the merge left the
// handle diverged from its last dump.
func (e *Engine) ApplyRemoteContacts(ctx context.Context, data []byte) (MergeOutcome, error) {
	var snapshot []byte

	res, err := e.registry.Mutate(confstore.NamespaceContacts, e.owner, func(h *confstore.Handle) error {
		if err := h.MergeRemote(data); err != nil {
			return fmt.Errorf("%w: %v", errors.ErrConfigUnavailable, err)
		}

		snapshot = h.Save()

		return nil
	})
	if err != nil {
		return MergeOutcome{}, err
	}

	merged, err := confstore.LoadHandle(confstore.NamespaceContacts, e.owner, snapshot)
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("%w: %v", errors.ErrConfigUnavailable, err)
	}

	outcome, err := e.HandleContactsUpdate(ctx, merged, e.owner)
	if err != nil {
		return MergeOutcome{}, err
	}

	if res.NeedsDump {
		e.flushDump(ctx, confstore.NamespaceContacts, e.owner)
	}

	return outcome, nil
}

// HandleContactsUpdate reconciles every contact record in the snapshot
// against the relational store, writing only genuinely-changed fields.
// The owner identity's own record is excluded; a batch that excludes down
// to nothing performs no writes and no side effects. The whole batch runs
// in one transaction.
func (e *Engine) HandleContactsUpdate(ctx context.Context, snapshot *confstore.Handle, owner string) (MergeOutcome, error) {
	if snapshot == nil {
		return MergeOutcome{}, fmt.Errorf("%w: nil snapshot", errors.ErrConfigUnavailable)
	}

	it, err := snapshot.IterateContacts()
	if err != nil {
		return MergeOutcome{}, fmt.Errorf("%w: %v", errors.ErrConfigUnavailable, err)
	}
	defer it.Close()

	records := make(map[string]confstore.ContactRecord)

	for it.Next() {
		rec := it.Record()

		if rec.ID == owner {
			// Self-contact state belongs to the user-profile namespace;
			// an id collision here is a producer bug.
			e.logger.Warn("dropping owner identity from contacts merge",
				slog.String("owner", owner),
			)

			continue
		}

		records[rec.ID] = rec
	}

	outcome := MergeOutcome{RecordsSkipped: it.Skipped()}

	if len(records) == 0 {
		return outcome, nil
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			if err := e.mergeContactRecord(ctx, tx, records[id], &outcome); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return MergeOutcome{}, err
	}

	return outcome, nil
}

func (e *Engine) mergeContactRecord(ctx context.Context, tx *store.Tx, rec confstore.ContactRecord, outcome *MergeOutcome) error {
	local, ok, err := tx.GetContact(ctx, rec.ID)
	if err != nil {
		return err
	}

	if !ok {
		local, err = tx.FetchOrCreateContact(ctx, rec.ID)
		if err != nil {
			return err
		}

		outcome.ContactsCreated++
	}

	profile, ok, err := tx.GetProfile(ctx, rec.ID)
	if err != nil {
		return err
	}

	if !ok {
		profile, err = tx.FetchOrCreateProfile(ctx, rec.ID)
		if err != nil {
			return err
		}
	}

	if cols := contactColumnDiff(local, rec); len(cols) > 0 {
		n, err := tx.UpdateContactColumns(ctx, rec.ID, cols)
		if err != nil {
			return err
		}

		outcome.ContactWrites += int(n)
	}

	if cols := profileColumnDiff(profile, rec); len(cols) > 0 {
		n, err := tx.UpdateProfileColumns(ctx, rec.ID, cols)
		if err != nil {
			return err
		}

		outcome.ProfileWrites += int(n)
	}

	return e.applyVisibility(ctx, tx, rec, outcome)
}

// applyVisibility keeps thread existence authoritative to the synced
// hidden flag: hidden deletes an existing thread, visible creates a
// missing one. Matching states touch nothing.
func (e *Engine) applyVisibility(ctx context.Context, tx *store.Tx, rec confstore.ContactRecord, outcome *MergeOutcome) error {
	exists, err := tx.ThreadExists(ctx, rec.ID)
	if err != nil {
		return err
	}

	switch {
	case rec.Hidden && exists:
		n, err := tx.DeleteThread(ctx, rec.ID)
		if err != nil {
			return err
		}

		outcome.ThreadsDeleted += int(n)
	case !rec.Hidden && !exists:
		err := tx.SaveThread(ctx, store.Thread{
			ID:          rec.ID,
			Kind:        store.ThreadKindContact,
			CreatedAtMs: e.now().UnixMilli(),
		})
		if err != nil {
			return err
		}

		outcome.ThreadsCreated++
	}

	return nil
}

// contactColumnDiff computes the contact columns a remote record actually
// changes. Blocked follows the remote value whenever it differs; the
// approval flags only ever transition false to true, so a stale remote
// cannot revoke an approval.
func contactColumnDiff(local store.Contact, rec confstore.ContactRecord) store.ColumnSet {
	cols := store.ColumnSet{}

	if local.IsBlocked != rec.Blocked {
		cols["is_blocked"] = rec.Blocked
	}

	if !local.IsApproved && rec.Approved {
		cols["is_approved"] = true
	}

	if !local.DidApproveMe && rec.ApprovedMe {
		cols["did_approve_me"] = true
	}

	if local.Priority != rec.Priority {
		cols["priority"] = rec.Priority
	}

	return cols
}

// profileColumnDiff computes the profile columns a remote record actually
// changes. An empty remote name means "unset" and never clears a local
// name. Names and nicknames are NFC-normalized before comparison so that
// byte-different spellings of the same text do not churn rows.
func profileColumnDiff(local store.Profile, rec confstore.ContactRecord) store.ColumnSet {
	cols := store.ColumnSet{}

	if name := norm.NFC.String(rec.Name); name != "" && name != local.Name {
		cols["name"] = name
	}

	if nickname := norm.NFC.String(rec.Nickname); nickname != local.Nickname {
		cols["nickname"] = nickname
	}

	if rec.AvatarURL != local.AvatarURL {
		cols["avatar_url"] = rec.AvatarURL
	}

	if !bytes.Equal(rec.AvatarKey, local.AvatarKey) {
		cols["avatar_key"] = rec.AvatarKey
	}

	return cols
}
