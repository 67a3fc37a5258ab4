package confstore

import (
	"log/slog"
	"sync"

	"github.com/alexjbarnes/confsync/internal/errors"
)

type handleKey struct {
	ns    Namespace
	owner string
}

type handleEntry struct {
	// mu is the exclusive mutation region for this handle. Mutations on
	// different (namespace, owner) pairs never contend on it.
	mu     sync.Mutex
	handle *Handle
}

// Registry owns the single live handle per (namespace, owner identity)
// pair. It is constructed once at process start and injected into the
// merge and upsert handlers.
type Registry struct {
	mu      sync.Mutex
	entries map[handleKey]*handleEntry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[handleKey]*handleEntry),
		logger:  logger,
	}
}

// Register installs a handle, replacing any existing handle for the same
// (namespace, owner) pair. Used at startup when rehydrating from dumps,
// before any mutation runs.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := handleKey{ns: h.Namespace(), owner: h.Owner()}
	if _, exists := r.entries[key]; exists {
		r.logger.Warn("replacing registered config handle",
			slog.String("namespace", string(h.Namespace())),
			slog.String("owner", h.Owner()),
		)
	}

	r.entries[key] = &handleEntry{handle: h}
}

// Exists reports whether a handle is registered for the pair.
func (r *Registry) Exists(ns Namespace, owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[handleKey{ns: ns, owner: owner}]

	return ok
}

// Mutate runs fn with exclusive access to the handle for the pair. It
// blocks until any in-flight mutation on the same handle completes; only
// mutual exclusion is guaranteed, not FIFO ordering. The divergence flags
// in the result are read while the lock is still held.
//
// When no handle is registered for the pair, Mutate fails with
// ErrConfigUnavailable and performs no mutation.
func (r *Registry) Mutate(ns Namespace, owner string, fn func(*Handle) error) (MutationResult, error) {
	r.mu.Lock()
	entry, ok := r.entries[handleKey{ns: ns, owner: owner}]
	r.mu.Unlock()

	if !ok {
		return MutationResult{}, errors.ErrConfigUnavailable
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.handle); err != nil {
		return MutationResult{}, err
	}

	return MutationResult{
		NeedsPush: entry.handle.NeedsPush(),
		NeedsDump: entry.handle.NeedsDump(),
	}, nil
}

// HandleRef identifies a registered handle without exposing it.
type HandleRef struct {
	Namespace Namespace
	Owner     string
}

// Registered returns every (namespace, owner) pair with a live handle.
func (r *Registry) Registered() []HandleRef {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]HandleRef, 0, len(r.entries))
	for key := range r.entries {
		out = append(out, HandleRef{Namespace: key.ns, Owner: key.owner})
	}

	return out
}

// Close tears the registry down. Handles registered afterwards are lost;
// callers must have flushed dumps first.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[handleKey]*handleEntry)
}
