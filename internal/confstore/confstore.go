// Package confstore holds the replicated configuration state shared across
// a user's devices. Each (namespace, owner identity) pair owns one mutable
// Handle backed by a CRDT document; the Registry serializes all mutation of
// a handle behind an exclusive region and reports whether the handle has
// diverged from its last pushed or dumped snapshot.
package confstore

// Namespace is a logical partition of replicated configuration state.
type Namespace string

const (
	// NamespaceUserProfile holds the owner's own profile and settings.
	NamespaceUserProfile Namespace = "user_profile"

	// NamespaceContacts holds one record per contact.
	NamespaceContacts Namespace = "contacts"

	// NamespaceUserGroups holds one record per group membership.
	NamespaceUserGroups Namespace = "user_groups"
)

// AllNamespaces lists every namespace a device maintains a handle for.
func AllNamespaces() []Namespace {
	return []Namespace{NamespaceUserProfile, NamespaceContacts, NamespaceUserGroups}
}

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	switch ns {
	case NamespaceUserProfile, NamespaceContacts, NamespaceUserGroups:
		return true
	}

	return false
}

// MutationResult describes a handle's divergence flags after an exclusive
// mutation completed. Both flags are read while the mutation lock is still
// held, so they cannot race with a concurrent mutator.
type MutationResult struct {
	// NeedsPush is true when in-memory state has changes the transport
	// layer has not propagated to other devices yet.
	NeedsPush bool

	// NeedsDump is true when in-memory state has diverged from the last
	// persisted dump.
	NeedsDump bool
}
