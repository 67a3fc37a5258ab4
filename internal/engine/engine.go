// Package engine is the sync core. It reconciles replicated configuration
// state (confstore handles) against the relational domain model (store),
// in both directions: inbound merges apply remote records as field-level
// diffs, outbound upserts write local edits into the handles and report
// whether a push or dump is now required. All handle access goes through
// the registry's exclusive mutation region.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/alexjbarnes/confsync/internal/config"
	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/dumpstore"
	"github.com/alexjbarnes/confsync/internal/errors"
	"github.com/alexjbarnes/confsync/internal/store"
)

//go:generate mockgen -source=engine.go -destination=mock_collaborators.go -package=engine

// AvatarDownloader schedules avatar fetches when an upsert changes a
// contact's avatar identity. Fetching itself is transport-layer work.
type AvatarDownloader interface {
	ScheduleDownload(ctx context.Context, contactID, avatarURL string, avatarKey []byte) error
}

// VersionBannerNotifier is told when a contact's client demonstrates
// support for disappearing messages, so the banner subsystem can clear
// any outdated-client warning. Not part of the merge contract.
type VersionBannerNotifier interface {
	NotifyClientVersion(ctx context.Context, contactID string, sentAtMs int64) error
}

// Engine wires the registry, relational store, dump store, and change
// gate together behind the operations the message-processing and
// user-edit layers call.
type Engine struct {
	registry *confstore.Registry
	store    *store.Store
	dumps    *dumpstore.Store
	gate     *ChangeGate
	avatars  AvatarDownloader
	versions VersionBannerNotifier
	presets  config.DurationPresets
	owner    string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an engine for the given owner identity. The avatar and
// version collaborators may be nil, in which case their side effects are
// dropped.
func New(
	registry *confstore.Registry,
	st *store.Store,
	dumps *dumpstore.Store,
	avatars AvatarDownloader,
	versions VersionBannerNotifier,
	presets config.DurationPresets,
	owner string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		store:    st,
		dumps:    dumps,
		gate:     NewChangeGate(),
		avatars:  avatars,
		versions: versions,
		presets:  presets,
		owner:    owner,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordKind selects which record type a SyncRecords batch carries.
type RecordKind string

const (
	RecordKindContact RecordKind = "contact"
	RecordKindProfile RecordKind = "profile"
)

// ContactUpdate is one outbound tuple: a contact id plus whichever parts
// of its state the local edit touched. Nil parts leave the handle's
// current values in place.
type ContactUpdate struct {
	ID       string
	Contact  *store.Contact
	Profile  *store.Profile
	Priority *int64
	Hidden   *bool
}

// pendingDownload is an avatar fetch decided while the handle lock was
// held, fired after the mutation completes.
type pendingDownload struct {
	contactID string
	avatarURL string
	avatarKey []byte
}

// UpsertContacts applies locally-changed contact tuples into the contacts
// handle for owner. The owner identity's own id is excluded from the
// input once; self entries are handled by the user-profile namespace. An
// empty filtered list returns a zero result without acquiring the handle.
func (e *Engine) UpsertContacts(ctx context.Context, updates []ContactUpdate, owner string) (confstore.MutationResult, error) {
	filtered := make([]ContactUpdate, 0, len(updates))

	for _, u := range updates {
		if u.ID == owner {
			continue
		}

		filtered = append(filtered, u)
	}

	if len(filtered) == 0 {
		return confstore.MutationResult{}, nil
	}

	var downloads []pendingDownload

	res, err := e.registry.Mutate(confstore.NamespaceContacts, owner, func(h *confstore.Handle) error {
		for _, u := range filtered {
			rec, err := h.GetOrConstructContact(u.ID)
			if err != nil {
				return err
			}

			if u.Contact != nil {
				rec.Approved = u.Contact.IsApproved
				rec.ApprovedMe = u.Contact.DidApproveMe
				rec.Blocked = u.Contact.IsBlocked

				if err := h.SetContact(rec); err != nil {
					return err
				}
			}

			if u.Profile != nil {
				if u.Profile.AvatarURL != rec.AvatarURL || !bytes.Equal(u.Profile.AvatarKey, rec.AvatarKey) {
					downloads = append(downloads, pendingDownload{
						contactID: u.ID,
						avatarURL: u.Profile.AvatarURL,
						avatarKey: u.Profile.AvatarKey,
					})
				}

				rec.Name = norm.NFC.String(u.Profile.Name)
				rec.Nickname = norm.NFC.String(u.Profile.Nickname)
				rec.AvatarURL = u.Profile.AvatarURL
				rec.AvatarKey = u.Profile.AvatarKey

				if err := h.SetContact(rec); err != nil {
					return err
				}
			}

			// Hidden and priority apply last, keeping the handle's
			// current value when the tuple left them unset.
			if u.Priority != nil {
				rec.Priority = *u.Priority
			}

			if u.Hidden != nil {
				rec.Hidden = *u.Hidden
			}

			if err := h.SetContact(rec); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return confstore.MutationResult{}, err
	}

	for _, d := range downloads {
		e.scheduleAvatarDownload(ctx, d)
	}

	return res, nil
}

// SyncRecords is the generic batch entry point. Every element must carry
// the dynamic type matching kind; a single mismatch fails the whole call
// with ErrTypeMismatch before any work runs. Accepted batches route
// through UpsertContacts, and a dump is persisted when the mutation left
// the handle needing one.
func (e *Engine) SyncRecords(ctx context.Context, kind RecordKind, records []any) (confstore.MutationResult, error) {
	switch kind {
	case RecordKindContact:
		updates := make([]ContactUpdate, 0, len(records))

		for i, raw := range records {
			c, ok := raw.(store.Contact)
			if !ok {
				return confstore.MutationResult{}, fmt.Errorf("%w: record %d is %T, want store.Contact", errors.ErrTypeMismatch, i, raw)
			}

			contact := c
			updates = append(updates, ContactUpdate{ID: c.ID, Contact: &contact})
		}

		res, err := e.UpsertContacts(ctx, updates, e.owner)
		if err != nil {
			return confstore.MutationResult{}, err
		}

		if res.NeedsDump {
			e.flushDump(ctx, confstore.NamespaceContacts, e.owner)
		}

		return res, nil
	case RecordKindProfile:
		profiles := make([]store.Profile, 0, len(records))

		for i, raw := range records {
			p, ok := raw.(store.Profile)
			if !ok {
				return confstore.MutationResult{}, fmt.Errorf("%w: record %d is %T, want store.Profile", errors.ErrTypeMismatch, i, raw)
			}

			profiles = append(profiles, p)
		}

		return e.syncProfiles(ctx, profiles)
	default:
		return confstore.MutationResult{}, fmt.Errorf("%w: unknown record kind %q", errors.ErrTypeMismatch, kind)
	}
}

// syncProfiles routes a profile batch. The owner's own profile belongs to
// the user-profile namespace, not Contacts. The rest are restricted to
// ids that already have a contact row: profiles are synced for contacts,
// and a profile seen for a stranger (a community poster, say) must not
// conjure a contact record on every device.
func (e *Engine) syncProfiles(ctx context.Context, profiles []store.Profile) (confstore.MutationResult, error) {
	var combined confstore.MutationResult

	others := make([]store.Profile, 0, len(profiles))

	for _, p := range profiles {
		if p.ID == e.owner {
			res, err := e.UpdateUserProfile(ctx, p)
			if err != nil {
				return confstore.MutationResult{}, err
			}

			combined.NeedsPush = combined.NeedsPush || res.NeedsPush
			combined.NeedsDump = combined.NeedsDump || res.NeedsDump

			continue
		}

		others = append(others, p)
	}

	ids := make([]string, 0, len(others))
	for _, p := range others {
		ids = append(ids, p.ID)
	}

	known, err := e.store.ContactIDsExisting(ctx, ids)
	if err != nil {
		return confstore.MutationResult{}, err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	updates := make([]ContactUpdate, 0, len(others))

	for _, p := range others {
		if _, ok := knownSet[p.ID]; !ok {
			continue
		}

		profile := p
		updates = append(updates, ContactUpdate{ID: p.ID, Profile: &profile})
	}

	res, err := e.UpsertContacts(ctx, updates, e.owner)
	if err != nil {
		return confstore.MutationResult{}, err
	}

	if res.NeedsDump {
		e.flushDump(ctx, confstore.NamespaceContacts, e.owner)
	}

	combined.NeedsPush = combined.NeedsPush || res.NeedsPush
	combined.NeedsDump = combined.NeedsDump || res.NeedsDump

	return combined, nil
}

// UpdateUserProfile applies a local edit of the owner's own profile: the
// user-profile handle and the owner's relational profile row are updated
// together, and a dump is persisted when the handle diverged.
func (e *Engine) UpdateUserProfile(ctx context.Context, p store.Profile) (confstore.MutationResult, error) {
	name := norm.NFC.String(p.Name)

	res, err := e.registry.Mutate(confstore.NamespaceUserProfile, e.owner, func(h *confstore.Handle) error {
		rec, _, err := h.Profile()
		if err != nil {
			return err
		}

		rec.Name = name
		rec.AvatarURL = p.AvatarURL
		rec.AvatarKey = p.AvatarKey

		return h.SetProfile(rec)
	})
	if err != nil {
		return confstore.MutationResult{}, err
	}

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SaveProfile(ctx, store.Profile{
			ID:        e.owner,
			Name:      name,
			Nickname:  p.Nickname,
			AvatarURL: p.AvatarURL,
			AvatarKey: p.AvatarKey,
		})
	})
	if err != nil {
		return confstore.MutationResult{}, err
	}

	if res.NeedsDump {
		e.flushDump(ctx, confstore.NamespaceUserProfile, e.owner)
	}

	return res, nil
}

// PushPayload returns the encoded handle state the transport layer should
// propagate to the owner's other devices, or nil when nothing has changed
// since the last confirmed push. Pushing itself is out of scope here.
func (e *Engine) PushPayload(ns confstore.Namespace, owner string) ([]byte, error) {
	var payload []byte

	_, err := e.registry.Mutate(ns, owner, func(h *confstore.Handle) error {
		if h.NeedsPush() {
			payload = h.Save()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return payload, nil
}

// ConfirmPushed records that the transport layer successfully propagated
// the handle's current state.
func (e *Engine) ConfirmPushed(ns confstore.Namespace, owner string) error {
	_, err := e.registry.Mutate(ns, owner, func(h *confstore.Handle) error {
		h.ConfirmPushed()

		return nil
	})

	return err
}

func (e *Engine) scheduleAvatarDownload(ctx context.Context, d pendingDownload) {
	if e.avatars == nil || d.avatarURL == "" {
		return
	}

	if err := e.avatars.ScheduleDownload(ctx, d.contactID, d.avatarURL, d.avatarKey); err != nil {
		e.logger.Warn("scheduling avatar download failed",
			slog.String("contact", d.contactID),
			slog.String("error", err.Error()),
		)
	}
}
