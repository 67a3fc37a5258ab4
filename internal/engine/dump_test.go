package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/confsync/internal/confstore"
	"github.com/alexjbarnes/confsync/internal/errors"
	"github.com/alexjbarnes/confsync/internal/store"
)

func TestCreateDumpNilWhenClean(t *testing.T) {
	e := newTestEngine(t)

	d, err := e.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestCreateDumpAfterMutation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.UpsertContacts(context.Background(), []ContactUpdate{{
		ID:      contactA,
		Contact: &store.Contact{ID: contactA, IsApproved: true},
	}}, testOwner)
	require.NoError(t, err)

	d, err := e.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, confstore.NamespaceContacts, d.Namespace)
	assert.Equal(t, testOwner, d.Owner)
	assert.NotEmpty(t, d.Data)

	// CreateDump does not confirm; the handle still needs a flush.
	d2, err := e.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.NotNil(t, d2)
}

func TestCreateDumpUnknownPair(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CreateDump(confstore.NamespaceContacts, contactA)
	require.ErrorIs(t, err, errors.ErrConfigUnavailable)
}

func TestRestoreCreatesEmptyHandles(t *testing.T) {
	e := newTestEngine(t)

	for _, ns := range confstore.AllNamespaces() {
		assert.True(t, e.registry.Exists(ns, testOwner))
	}
}

func TestFlushAndRestoreRoundTrip(t *testing.T) {
	dumpPath := filepath.Join(t.TempDir(), "dumps.db")
	ctx := context.Background()

	e := newTestEngineAt(t, dumpPath, nil, nil)

	_, err := e.UpsertContacts(ctx, []ContactUpdate{{
		ID:      contactA,
		Contact: &store.Contact{ID: contactA, IsApproved: true, IsBlocked: true},
	}}, testOwner)
	require.NoError(t, err)

	e.FlushDumps(ctx)

	d, err := e.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.Nil(t, d)

	// Release the bolt file lock so a second open can take it.
	require.NoError(t, e.dumps.Close())

	// A fresh process over the same dump database sees the state, with
	// nothing pending to push or dump.
	restored := newTestEngineAt(t, dumpPath, nil, nil)

	rec, ok := readHandleContact(t, restored, contactA)
	require.True(t, ok)
	assert.True(t, rec.Approved)
	assert.True(t, rec.Blocked)

	payload, err := restored.PushPayload(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.Nil(t, payload)

	d, err = restored.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestFlushDumpsHonorsCancelledContext(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.UpsertContacts(context.Background(), []ContactUpdate{{
		ID:      contactA,
		Contact: &store.Contact{ID: contactA, IsApproved: true},
	}}, testOwner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.FlushDumps(ctx)

	// Nothing was persisted; the handle still wants a dump.
	dump, err := e.dumps.Get(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.Nil(t, dump)

	d, err := e.CreateDump(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestFlushDumpsSkipsCleanHandles(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.FlushDumps(ctx)

	for _, ns := range confstore.AllNamespaces() {
		d, err := e.dumps.Get(ns, testOwner)
		require.NoError(t, err)
		assert.Nil(t, d)
	}
}
