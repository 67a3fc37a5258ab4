package confstore

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/automerge/automerge-go"
)

// Document layout per namespace:
//
//	contacts:     {"contacts": {<id>: {name, nickname, avatar_url, avatar_key,
//	                                   approved, approved_me, blocked, hidden,
//	                                   priority, exp_mode, exp_seconds}}}
//	user_profile: {"profile": {name, avatar_url, avatar_key, exp_mode, exp_seconds}}
//	user_groups:  {"groups": {<id>: {name, exp_seconds, priority, hidden}}}
const (
	rootContacts = "contacts"
	rootProfile  = "profile"
	rootGroups   = "groups"
)

const (
	fieldName       = "name"
	fieldNickname   = "nickname"
	fieldAvatarURL  = "avatar_url"
	fieldAvatarKey  = "avatar_key"
	fieldApproved   = "approved"
	fieldApprovedMe = "approved_me"
	fieldBlocked    = "blocked"
	fieldHidden     = "hidden"
	fieldPriority   = "priority"
	fieldExpMode    = "exp_mode"
	fieldExpSeconds = "exp_seconds"
)

// Handle is the in-memory mutable representation of one namespace's
// replicated state for one owner identity. It is not safe for concurrent
// use; all access goes through the Registry's exclusive mutation region.
type Handle struct {
	ns    Namespace
	owner string
	doc   *automerge.Doc

	// Heads of the document at the last confirmed push/dump. Divergence
	// from the current heads is what NeedsPush/NeedsDump report.
	pushedHeads string
	dumpedHeads string
}

// NewHandle creates an empty handle for the given namespace and owner.
// A fresh handle has nothing to push or dump.
func NewHandle(ns Namespace, owner string) *Handle {
	doc := automerge.New()

	return &Handle{
		ns:          ns,
		owner:       owner,
		doc:         doc,
		pushedHeads: headsKey(doc),
		dumpedHeads: headsKey(doc),
	}
}

// LoadHandle rehydrates a handle from previously dumped bytes. The restored
// state is treated as both pushed and dumped; only changes made after the
// restore set the divergence flags.
func LoadHandle(ns Namespace, owner string, data []byte) (*Handle, error) {
	doc, err := automerge.Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s handle: %w", ns, err)
	}

	heads := headsKey(doc)

	return &Handle{
		ns:          ns,
		owner:       owner,
		doc:         doc,
		pushedHeads: heads,
		dumpedHeads: heads,
	}, nil
}

// Namespace returns the namespace this handle holds state for.
func (h *Handle) Namespace() Namespace { return h.ns }

// Owner returns the owner identity this handle is scoped to.
func (h *Handle) Owner() string { return h.owner }

// NeedsPush reports whether in-memory state has diverged from the last
// confirmed push.
func (h *Handle) NeedsPush() bool { return headsKey(h.doc) != h.pushedHeads }

// NeedsDump reports whether in-memory state has diverged from the last
// persisted dump.
func (h *Handle) NeedsDump() bool { return headsKey(h.doc) != h.dumpedHeads }

// ConfirmPushed records the current document state as propagated.
func (h *Handle) ConfirmPushed() { h.pushedHeads = headsKey(h.doc) }

// ConfirmDumped records the current document state as persisted.
func (h *Handle) ConfirmDumped() { h.dumpedHeads = headsKey(h.doc) }

// Save serializes the handle's current state to opaque dump bytes.
func (h *Handle) Save() []byte { return h.doc.Save() }

// MergeRemote merges a remote device's encoded state into this handle.
// Concurrent edits resolve per field; the handle then needs a dump and,
// if local-only changes existed, still needs a push.
func (h *Handle) MergeRemote(data []byte) error {
	remote, err := automerge.Load(data)
	if err != nil {
		return fmt.Errorf("loading remote %s state: %w", h.ns, err)
	}

	if _, err := h.doc.Merge(remote); err != nil {
		return fmt.Errorf("merging remote %s state: %w", h.ns, err)
	}

	return nil
}

func headsKey(doc *automerge.Doc) string {
	heads := doc.Heads()
	parts := make([]string, 0, len(heads))

	for _, head := range heads {
		parts = append(parts, head.String())
	}

	return strings.Join(parts, ",")
}

// ContactRecord is the replicated form of one contact in the contacts
// namespace. Zero values mean "unset".
type ContactRecord struct {
	ID         string
	Name       string
	Nickname   string
	AvatarURL  string
	AvatarKey  []byte
	Approved   bool
	ApprovedMe bool
	Blocked    bool
	Hidden     bool
	Priority   int64
	ExpMode    int64
	ExpSeconds int64
}

// ProfileRecord is the replicated form of the owner's own profile in the
// user_profile namespace.
type ProfileRecord struct {
	Name       string
	AvatarURL  string
	AvatarKey  []byte
	ExpMode    int64
	ExpSeconds int64
}

// GroupRecord is the replicated form of one group membership in the
// user_groups namespace.
type GroupRecord struct {
	ID         string
	Name       string
	ExpSeconds int64
	Priority   int64
	Hidden     bool
}

// Contact returns the record for the given id, with ok=false when no
// record exists yet.
func (h *Handle) Contact(id string) (ContactRecord, bool, error) {
	v, err := h.doc.Path(rootContacts, id).Get()
	if err != nil {
		return ContactRecord{}, false, fmt.Errorf("reading contact %s: %w", id, err)
	}

	if v.Kind() != automerge.KindMap {
		return ContactRecord{}, false, nil
	}

	rec, err := decodeContact(v.Map(), id)
	if err != nil {
		return ContactRecord{}, false, err
	}

	return rec, true, nil
}

// GetOrConstructContact returns the existing record for id, or a zero
// record carrying the id. Construction is in-memory only; the record is
// written on the next SetContact.
func (h *Handle) GetOrConstructContact(id string) (ContactRecord, error) {
	rec, ok, err := h.Contact(id)
	if err != nil {
		return ContactRecord{}, err
	}

	if !ok {
		return ContactRecord{ID: id}, nil
	}

	return rec, nil
}

// SetContact writes a contact record, updating only the fields that differ
// from the stored record. Writing an identical record leaves the document
// heads unchanged, so NeedsPush/NeedsDump stay false.
func (h *Handle) SetContact(rec ContactRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("contact record has empty id")
	}

	old, ok, err := h.Contact(rec.ID)
	if err != nil {
		return err
	}

	// An absent record must be materialized even when every field is the
	// zero value, so the id enumerates on the next iteration.
	if !ok {
		if err := h.doc.Path(rootContacts, rec.ID).Set(map[string]any{}); err != nil {
			return fmt.Errorf("constructing contact %s: %w", rec.ID, err)
		}
	}

	set := func(field string, changed bool, value any) error {
		if !changed {
			return nil
		}

		if err := h.doc.Path(rootContacts, rec.ID, field).Set(value); err != nil {
			return fmt.Errorf("writing contact %s.%s: %w", rec.ID, field, err)
		}

		return nil
	}

	steps := []error{
		set(fieldName, old.Name != rec.Name, rec.Name),
		set(fieldNickname, old.Nickname != rec.Nickname, rec.Nickname),
		set(fieldAvatarURL, old.AvatarURL != rec.AvatarURL, rec.AvatarURL),
		set(fieldAvatarKey, !bytes.Equal(old.AvatarKey, rec.AvatarKey), rec.AvatarKey),
		set(fieldApproved, old.Approved != rec.Approved, rec.Approved),
		set(fieldApprovedMe, old.ApprovedMe != rec.ApprovedMe, rec.ApprovedMe),
		set(fieldBlocked, old.Blocked != rec.Blocked, rec.Blocked),
		set(fieldHidden, old.Hidden != rec.Hidden, rec.Hidden),
		set(fieldPriority, old.Priority != rec.Priority, rec.Priority),
		set(fieldExpMode, old.ExpMode != rec.ExpMode, rec.ExpMode),
		set(fieldExpSeconds, old.ExpSeconds != rec.ExpSeconds, rec.ExpSeconds),
	}

	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	return nil
}

// Profile returns the owner profile record, with ok=false when none has
// been written yet.
func (h *Handle) Profile() (ProfileRecord, bool, error) {
	v, err := h.doc.Path(rootProfile).Get()
	if err != nil {
		return ProfileRecord{}, false, fmt.Errorf("reading profile: %w", err)
	}

	if v.Kind() != automerge.KindMap {
		return ProfileRecord{}, false, nil
	}

	m := v.Map()

	name, err := mapStr(m, fieldName)
	if err != nil {
		return ProfileRecord{}, false, err
	}

	avatarURL, err := mapStr(m, fieldAvatarURL)
	if err != nil {
		return ProfileRecord{}, false, err
	}

	avatarKey, err := mapBytes(m, fieldAvatarKey)
	if err != nil {
		return ProfileRecord{}, false, err
	}

	expMode, err := mapInt(m, fieldExpMode)
	if err != nil {
		return ProfileRecord{}, false, err
	}

	expSeconds, err := mapInt(m, fieldExpSeconds)
	if err != nil {
		return ProfileRecord{}, false, err
	}

	return ProfileRecord{
		Name:       name,
		AvatarURL:  avatarURL,
		AvatarKey:  avatarKey,
		ExpMode:    expMode,
		ExpSeconds: expSeconds,
	}, true, nil
}

// SetProfile writes the owner profile record, updating only changed fields.
func (h *Handle) SetProfile(rec ProfileRecord) error {
	old, ok, err := h.Profile()
	if err != nil {
		return err
	}

	if !ok {
		if err := h.doc.Path(rootProfile).Set(map[string]any{}); err != nil {
			return fmt.Errorf("constructing profile: %w", err)
		}
	}

	set := func(field string, changed bool, value any) error {
		if !changed {
			return nil
		}

		if err := h.doc.Path(rootProfile, field).Set(value); err != nil {
			return fmt.Errorf("writing profile %s: %w", field, err)
		}

		return nil
	}

	steps := []error{
		set(fieldName, old.Name != rec.Name, rec.Name),
		set(fieldAvatarURL, old.AvatarURL != rec.AvatarURL, rec.AvatarURL),
		set(fieldAvatarKey, !bytes.Equal(old.AvatarKey, rec.AvatarKey), rec.AvatarKey),
		set(fieldExpMode, old.ExpMode != rec.ExpMode, rec.ExpMode),
		set(fieldExpSeconds, old.ExpSeconds != rec.ExpSeconds, rec.ExpSeconds),
	}

	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	return nil
}

// Group returns the record for the given group id, with ok=false when no
// record exists yet.
func (h *Handle) Group(id string) (GroupRecord, bool, error) {
	v, err := h.doc.Path(rootGroups, id).Get()
	if err != nil {
		return GroupRecord{}, false, fmt.Errorf("reading group %s: %w", id, err)
	}

	if v.Kind() != automerge.KindMap {
		return GroupRecord{}, false, nil
	}

	m := v.Map()

	name, err := mapStr(m, fieldName)
	if err != nil {
		return GroupRecord{}, false, err
	}

	expSeconds, err := mapInt(m, fieldExpSeconds)
	if err != nil {
		return GroupRecord{}, false, err
	}

	priority, err := mapInt(m, fieldPriority)
	if err != nil {
		return GroupRecord{}, false, err
	}

	hidden, err := mapBool(m, fieldHidden)
	if err != nil {
		return GroupRecord{}, false, err
	}

	return GroupRecord{
		ID:         id,
		Name:       name,
		ExpSeconds: expSeconds,
		Priority:   priority,
		Hidden:     hidden,
	}, true, nil
}

// SetGroup writes a group record, updating only changed fields.
func (h *Handle) SetGroup(rec GroupRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("group record has empty id")
	}

	old, ok, err := h.Group(rec.ID)
	if err != nil {
		return err
	}

	if !ok {
		if err := h.doc.Path(rootGroups, rec.ID).Set(map[string]any{}); err != nil {
			return fmt.Errorf("constructing group %s: %w", rec.ID, err)
		}
	}

	set := func(field string, changed bool, value any) error {
		if !changed {
			return nil
		}

		if err := h.doc.Path(rootGroups, rec.ID, field).Set(value); err != nil {
			return fmt.Errorf("writing group %s.%s: %w", rec.ID, field, err)
		}

		return nil
	}

	steps := []error{
		set(fieldName, old.Name != rec.Name, rec.Name),
		set(fieldExpSeconds, old.ExpSeconds != rec.ExpSeconds, rec.ExpSeconds),
		set(fieldPriority, old.Priority != rec.Priority, rec.Priority),
		set(fieldHidden, old.Hidden != rec.Hidden, rec.Hidden),
	}

	for _, err := range steps {
		if err != nil {
			return err
		}
	}

	return nil
}

func decodeContact(m *automerge.Map, id string) (ContactRecord, error) {
	name, err := mapStr(m, fieldName)
	if err != nil {
		return ContactRecord{}, err
	}

	nickname, err := mapStr(m, fieldNickname)
	if err != nil {
		return ContactRecord{}, err
	}

	avatarURL, err := mapStr(m, fieldAvatarURL)
	if err != nil {
		return ContactRecord{}, err
	}

	avatarKey, err := mapBytes(m, fieldAvatarKey)
	if err != nil {
		return ContactRecord{}, err
	}

	approved, err := mapBool(m, fieldApproved)
	if err != nil {
		return ContactRecord{}, err
	}

	approvedMe, err := mapBool(m, fieldApprovedMe)
	if err != nil {
		return ContactRecord{}, err
	}

	blocked, err := mapBool(m, fieldBlocked)
	if err != nil {
		return ContactRecord{}, err
	}

	hidden, err := mapBool(m, fieldHidden)
	if err != nil {
		return ContactRecord{}, err
	}

	priority, err := mapInt(m, fieldPriority)
	if err != nil {
		return ContactRecord{}, err
	}

	expMode, err := mapInt(m, fieldExpMode)
	if err != nil {
		return ContactRecord{}, err
	}

	expSeconds, err := mapInt(m, fieldExpSeconds)
	if err != nil {
		return ContactRecord{}, err
	}

	return ContactRecord{
		ID:         id,
		Name:       name,
		Nickname:   nickname,
		AvatarURL:  avatarURL,
		AvatarKey:  avatarKey,
		Approved:   approved,
		ApprovedMe: approvedMe,
		Blocked:    blocked,
		Hidden:     hidden,
		Priority:   priority,
		ExpMode:    expMode,
		ExpSeconds: expSeconds,
	}, nil
}

func mapStr(m *automerge.Map, key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}

	switch v.Kind() {
	case automerge.KindStr:
		return v.Str(), nil
	case automerge.KindVoid, automerge.KindNull:
		return "", nil
	default:
		return "", fmt.Errorf("field %s: expected string, got %v", key, v.Kind())
	}
}

func mapBool(m *automerge.Map, key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}

	switch v.Kind() {
	case automerge.KindBool:
		return v.Bool(), nil
	case automerge.KindVoid, automerge.KindNull:
		return false, nil
	default:
		return false, fmt.Errorf("field %s: expected bool, got %v", key, v.Kind())
	}
}

func mapInt(m *automerge.Map, key string) (int64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}

	switch v.Kind() {
	case automerge.KindInt64:
		return v.Int64(), nil
	case automerge.KindUint64:
		return int64(v.Uint64()), nil
	case automerge.KindFloat64:
		return int64(v.Float64()), nil
	case automerge.KindVoid, automerge.KindNull:
		return 0, nil
	default:
		return 0, fmt.Errorf("field %s: expected integer, got %v", key, v.Kind())
	}
}

func mapBytes(m *automerge.Map, key string) ([]byte, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	switch v.Kind() {
	case automerge.KindBytes:
		b := v.Bytes()
		if len(b) == 0 {
			return nil, nil
		}

		return b, nil
	case automerge.KindVoid, automerge.KindNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("field %s: expected bytes, got %v", key, v.Kind())
	}
}
