package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/errors"
	"github.com/alexjbarnes/confsync/internal/store"
)

// Expiration-update control message fields.
const (
	msgFieldSender   = "sender"
	msgFieldSentAt   = "sentTimestampMs"
	msgFieldDuration = "durationSeconds"
	msgFieldEnabled  = "enabled"
)

// HandleExpirationTimerUpdate applies a remote disappearing-message
// control message to the thread's policy. The payload is the decrypted
// message JSON; decryption and envelope validation happen upstream.
//
// A change older than the last accepted one for the thread is rejected:
// no config write and no namespace mutation, but the info event is still
// inserted so the message shows in the conversation. The info event
// always describes the policy actually in effect after this call.
func (e *Engine) HandleExpirationTimerUpdate(ctx context.Context, threadID string, kind store.ThreadKind, payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("%w: payload is not valid JSON", errors.ErrInvalidMessage)
	}

	sender := gjson.GetBytes(payload, msgFieldSender).String()
	sentAtMs := gjson.GetBytes(payload, msgFieldSentAt).Int()

	if sender == "" {
		return fmt.Errorf("%w: missing sender", errors.ErrInvalidMessage)
	}

	if sentAtMs <= 0 {
		return fmt.Errorf("%w: missing sent timestamp", errors.ErrInvalidMessage)
	}

	// Community threads never carry replicated disappearing-message
	// policy; the message is dropped wholesale.
	if kind == store.ThreadKindCommunity {
		e.logger.Debug("ignoring expiration update for community thread",
			slog.String("thread", threadID),
		)

		return nil
	}

	if kind == store.ThreadKindContact && sender != e.owner {
		e.notifyClientVersion(ctx, sender, sentAtMs)
	}

	isSelf := threadID == e.owner
	expiryType := resolveExpiryType(kind, isSelf)
	enabled, duration := e.resolveDuration(payload, expiryType)

	local, ok, err := e.store.GetDisappearingConfig(ctx, threadID)
	if err != nil {
		return err
	}

	if !ok {
		local = store.DefaultDisappearingConfig(threadID)
	}

	candidate := local
	candidate.IsEnabled = enabled
	candidate.DurationSeconds = duration
	candidate.Type = expiryType

	if !enabled {
		candidate.DurationSeconds = 0
		candidate.Type = store.ExpiryUnknown
	}

	if !e.gate.Admit(threadID, sentAtMs, local.LastChangeTsMs) {
		e.logger.Debug("rejecting stale expiration update",
			slog.String("thread", threadID),
			slog.Int64("sent_at_ms", sentAtMs),
		)

		return e.insertPolicyEvent(ctx, threadID, sender, sentAtMs, local)
	}

	// An already-identical policy on a group-keyed thread skips the
	// namespace mutation; only the conversation line is added. The
	// accepted timestamp still advances so a replay stamped between the
	// old and new timestamps cannot sneak in later.
	if (kind == store.ThreadKindLegacyGroup || kind == store.ThreadKindGroup) && local.Equal(candidate) {
		local.LastChangeTsMs = sentAtMs
		if err := e.store.SaveDisappearingConfig(ctx, local); err != nil {
			return err
		}

		e.gate.Record(threadID, sentAtMs)

		return e.insertPolicyEvent(ctx, threadID, sender, sentAtMs, local)
	}

	candidate.LastChangeTsMs = sentAtMs

	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		exists, err := tx.ThreadExists(ctx, threadID)
		if err != nil {
			return err
		}

		if !exists {
			err := tx.SaveThread(ctx, store.Thread{
				ID:          threadID,
				Kind:        kind,
				CreatedAtMs: e.now().UnixMilli(),
			})
			if err != nil {
				return err
			}
		}

		if err := tx.SaveDisappearingConfig(ctx, candidate); err != nil {
			return err
		}

		_, err = tx.InsertInteraction(ctx, policyEvent(threadID, sender, sentAtMs, candidate))

		return err
	})
	if err != nil {
		return err
	}

	e.gate.Record(threadID, sentAtMs)

	return e.upsertExpiryConfig(ctx, threadID, kind, isSelf, candidate)
}

// resolveExpiryType picks the default policy type for a thread. Direct
// contact conversations expire after read; the owner's own note thread
// and group threads expire after send.
func resolveExpiryType(kind store.ThreadKind, isSelf bool) store.ExpiryType {
	if kind == store.ThreadKindContact && !isSelf {
		return store.ExpiryAfterRead
	}

	return store.ExpiryAfterSend
}

// resolveDuration extracts the policy duration from the message. An
// explicit duration wins; an enable with no duration falls back to the
// preset default for the resolved type; anything else disables.
func (e *Engine) resolveDuration(payload []byte, expiryType store.ExpiryType) (bool, int64) {
	if dur := gjson.GetBytes(payload, msgFieldDuration); dur.Exists() {
		d := dur.Int()

		return d > 0, d
	}

	if gjson.GetBytes(payload, msgFieldEnabled).Bool() {
		if expiryType == store.ExpiryAfterRead {
			return true, e.presets.AfterReadSeconds
		}

		return true, e.presets.AfterSendSeconds
	}

	return false, 0
}

// upsertExpiryConfig propagates an accepted policy into the replicated
// namespace that carries it. Modern group policy replicates through the
// group's own config store, so only the relational row changes here.
func (e *Engine) upsertExpiryConfig(ctx context.Context, threadID string, kind store.ThreadKind, isSelf bool, c store.DisappearingConfig) error {
	var (
		res confstore.MutationResult
		ns  confstore.Namespace
		err error
	)

	switch {
	case kind == store.ThreadKindContact && isSelf:
		ns = confstore.NamespaceUserProfile
		res, err = e.registry.Mutate(ns, e.owner, func(h *confstore.Handle) error {
			rec, _, err := h.Profile()
			if err != nil {
				return err
			}

			rec.ExpMode = int64(c.Type)
			rec.ExpSeconds = c.DurationSeconds

			return h.SetProfile(rec)
		})
	case kind == store.ThreadKindContact:
		ns = confstore.NamespaceContacts
		res, err = e.registry.Mutate(ns, e.owner, func(h *confstore.Handle) error {
			rec, err := h.GetOrConstructContact(threadID)
			if err != nil {
				return err
			}

			rec.ExpMode = int64(c.Type)
			rec.ExpSeconds = c.DurationSeconds

			return h.SetContact(rec)
		})
	case kind == store.ThreadKindLegacyGroup:
		ns = confstore.NamespaceUserGroups
		res, err = e.registry.Mutate(ns, e.owner, func(h *confstore.Handle) error {
			rec, _, err := h.Group(threadID)
			if err != nil {
				return err
			}

			rec.ID = threadID
			rec.ExpSeconds = c.DurationSeconds

			return h.SetGroup(rec)
		})
	default:
		return nil
	}

	if err != nil {
		return err
	}

	if res.NeedsDump {
		e.flushDump(ctx, ns, e.owner)
	}

	return nil
}

// policyEventBody is the info-line payload describing a committed policy.
type policyEventBody struct {
	Enabled         bool   `json:"enabled"`
	DurationSeconds int64  `json:"durationSeconds"`
	Type            string `json:"type"`
}

func expiryTypeString(t store.ExpiryType) string {
	switch t {
	case store.ExpiryAfterRead:
		return "after_read"
	case store.ExpiryAfterSend:
		return "after_send"
	default:
		return "unknown"
	}
}

func policyEvent(threadID, sender string, sentAtMs int64, c store.DisappearingConfig) store.Interaction {
	body, _ := json.Marshal(policyEventBody{
		Enabled:         c.IsEnabled,
		DurationSeconds: c.DurationSeconds,
		Type:            expiryTypeString(c.Type),
	})

	return store.Interaction{
		ThreadID:    threadID,
		AuthorID:    sender,
		Variant:     store.VariantDisappearingUpdate,
		Body:        string(body),
		TimestampMs: sentAtMs,
	}
}

func (e *Engine) insertPolicyEvent(ctx context.Context, threadID, sender string, sentAtMs int64, c store.DisappearingConfig) error {
	if _, err := e.store.InsertInteraction(ctx, policyEvent(threadID, sender, sentAtMs, c)); err != nil {
		return err
	}

	return nil
}

func (e *Engine) notifyClientVersion(ctx context.Context, contactID string, sentAtMs int64) {
	if e.versions == nil {
		return
	}

	if err := e.versions.NotifyClientVersion(ctx, contactID, sentAtMs); err != nil {
		e.logger.Warn("notifying client version failed",
			slog.String("contact", contactID),
			slog.String("error", err.Error()),
		)
	}
}
