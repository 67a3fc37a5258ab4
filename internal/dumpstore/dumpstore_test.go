package dumpstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/alexjbarnes/confsync/internal/confstore"
)

const testOwner = "05aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899"

func testMasterKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	return key
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "dumps.db"), testMasterKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestOpenRejectsShortKey(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "dumps.db"), []byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "master key")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := Dump{
		Namespace:   confstore.NamespaceContacts,
		Owner:       testOwner,
		Data:        []byte("opaque handle bytes"),
		CreatedAtMs: 1700000000000,
	}
	require.NoError(t, s.Put(in))

	out, err := s.Get(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Namespace, out.Namespace)
	assert.Equal(t, in.Owner, out.Owner)
	assert.Equal(t, in.Data, out.Data)
	assert.Equal(t, in.CreatedAtMs, out.CreatedAtMs)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)

	out, err := s.Get(confstore.NamespaceUserProfile, testOwner)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGetAfterCloseReturnsError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "dumps.db"), testMasterKey())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// A failed read must surface, not masquerade as a missing dump.
	_, err = s.Get(confstore.NamespaceContacts, testOwner)
	require.Error(t, err)
}

func TestGetRejectsUnknownNamespace(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get(confstore.Namespace("bogus"), testOwner)
	require.Error(t, err)
}

func TestPutReplacesPrevious(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceContacts, Owner: testOwner, Data: []byte("v1"), CreatedAtMs: 1}))
	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceContacts, Owner: testOwner, Data: []byte("v2"), CreatedAtMs: 2}))

	out, err := s.Get(confstore.NamespaceContacts, testOwner)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []byte("v2"), out.Data)
	assert.Equal(t, int64(2), out.CreatedAtMs)
}

func TestAllSpansNamespaces(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceContacts, Owner: testOwner, Data: []byte("c")}))
	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceUserProfile, Owner: testOwner, Data: []byte("p")}))

	all, err := s.All()
	require.NoError(t, err)
	require.Len(t, all, 2)

	got := map[confstore.Namespace][]byte{}
	for _, d := range all {
		got[d.Namespace] = d.Data
	}

	assert.Equal(t, []byte("c"), got[confstore.NamespaceContacts])
	assert.Equal(t, []byte("p"), got[confstore.NamespaceUserProfile])
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceUserGroups, Owner: testOwner, Data: []byte("g")}))
	require.NoError(t, s.Delete(confstore.NamespaceUserGroups, testOwner))

	out, err := s.Get(confstore.NamespaceUserGroups, testOwner)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestPayloadSealedOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumps.db")

	s, err := Open(path, testMasterKey())
	require.NoError(t, err)

	plaintext := []byte("nickname: highly sensitive")
	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceContacts, Owner: testOwner, Data: plaintext}))
	require.NoError(t, s.Close())

	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()

	err = db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(namespaceBucket(confstore.NamespaceContacts)).Get([]byte(testOwner))
		require.NotNil(t, raw)
		assert.NotContains(t, string(raw), "sensitive")

		var env envelope
		require.NoError(t, cbor.Unmarshal(raw, &env))
		assert.False(t, bytes.Contains(env.Sealed, plaintext))

		return nil
	})
	require.NoError(t, err)
}

func TestUnsealRejectsWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dumps.db")

	s, err := Open(path, testMasterKey())
	require.NoError(t, err)
	require.NoError(t, s.Put(Dump{Namespace: confstore.NamespaceContacts, Owner: testOwner, Data: []byte("x")}))
	require.NoError(t, s.Close())

	other := make([]byte, 32)
	other[0] = 0xff

	s2, err := Open(path, other)
	require.NoError(t, err)
	defer s2.Close()

	_, err = s2.Get(confstore.NamespaceContacts, testOwner)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsealing")
}
