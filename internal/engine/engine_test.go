package engine

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/confsync/internal/config"
	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/dumpstore"
	"github.com/alexjbarnes/confsync/internal/store"
)

const (
	testOwner = "05f000000000000000000000000000000000000000000000000000000000000001"
	contactA  = "05a00000000000000000000000000000000000000000000000000000000000000a"
	contactB  = "05b00000000000000000000000000000000000000000000000000000000000000b"
	groupX    = "03c000000000000000000000000000000000000000000000000000000000000001"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}

	return key
}

// newTestEngine builds an engine over an in-memory relational store and a
// throwaway dump database, with empty handles registered for the owner.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	return newTestEngineAt(t, filepath.Join(t.TempDir(), "dumps.db"), nil, nil)
}

func newTestEngineWith(t *testing.T, avatars AvatarDownloader, versions VersionBannerNotifier) *Engine {
	t.Helper()

	return newTestEngineAt(t, filepath.Join(t.TempDir(), "dumps.db"), avatars, versions)
}

func newTestEngineAt(t *testing.T, dumpPath string, avatars AvatarDownloader, versions VersionBannerNotifier) *Engine {
	t.Helper()

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dumps, err := dumpstore.Open(dumpPath, testMasterKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dumps.Close() })

	registry := confstore.NewRegistry(quietLogger)

	e := New(registry, st, dumps, avatars, versions, config.DefaultDurationPresets(), testOwner, quietLogger)
	e.now = func() time.Time { return time.UnixMilli(1700000000000) }

	require.NoError(t, e.RestoreDumps())

	return e
}

// snapshotWith builds a contacts handle holding the given records, as the
// external decoder would hand it to the merge path.
func snapshotWith(t *testing.T, recs ...confstore.ContactRecord) *confstore.Handle {
	t.Helper()

	h := confstore.NewHandle(confstore.NamespaceContacts, testOwner)
	for _, rec := range recs {
		require.NoError(t, h.SetContact(rec))
	}

	return h
}

// readHandleContact reads a contact record off the live contacts handle.
func readHandleContact(t *testing.T, e *Engine, id string) (confstore.ContactRecord, bool) {
	t.Helper()

	var (
		rec confstore.ContactRecord
		ok  bool
	)

	_, err := e.registry.Mutate(confstore.NamespaceContacts, e.owner, func(h *confstore.Handle) error {
		var err error
		rec, ok, err = h.Contact(id)

		return err
	})
	require.NoError(t, err)

	return rec, ok
}
