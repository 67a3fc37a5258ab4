// Package dumpstore persists config dumps: durable opaque snapshots of
// replicated-state handles, keyed by (namespace, owner identity). Dumps
// are the unit of restart recovery and of multi-device propagation, and
// they hold the owner's contact graph, so payloads are sealed at rest.
package dumpstore

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/alexjbarnes/confsync/internal/confstore"
)

const (
	// dumpDirPerm is the permission mode for the dump directory.
	dumpDirPerm = fs.FileMode(0o700)

	// dumpFilePerm is the permission mode for the dump database file.
	dumpFilePerm = fs.FileMode(0o600)

	// dumpOpenTimeout is the maximum time to wait for the bolt database lock.
	dumpOpenTimeout = 5 * time.Second

	// sealKeyLen is the length of derived per-namespace sealing keys.
	sealKeyLen = chacha20poly1305.KeySize
)

func namespaceBucket(ns confstore.Namespace) []byte {
	return []byte("dumps:" + string(ns))
}

// Dump is a persisted snapshot of one handle's state. Data is the opaque
// handle serialization, held in plaintext in memory and sealed on disk.
type Dump struct {
	Namespace   confstore.Namespace
	Owner       string
	Data        []byte
	CreatedAtMs int64
}

// envelope is the on-disk form of a dump.
type envelope struct {
	Namespace   string `cbor:"namespace"`
	Owner       string `cbor:"owner"`
	Sealed      []byte `cbor:"sealed"`
	CreatedAtMs int64  `cbor:"created_at_ms"`
}

// Store wraps a bbolt database of sealed dumps.
type Store struct {
	db        *bolt.DB
	masterKey []byte
}

// Open opens the dump database at path, creating it and the namespace
// buckets if needed. masterKey must be 32 bytes; per-namespace sealing
// keys are derived from it.
func Open(path string, masterKey []byte) (*Store, error) {
	if len(masterKey) != sealKeyLen {
		return nil, fmt.Errorf("dump master key must be %d bytes, got %d", sealKeyLen, len(masterKey))
	}

	if err := os.MkdirAll(filepath.Dir(path), dumpDirPerm); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}

	db, err := bolt.Open(path, dumpFilePerm, &bolt.Options{Timeout: dumpOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening dump db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range confstore.AllNamespaces() {
			if _, err := tx.CreateBucketIfNotExists(namespaceBucket(ns)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing dump db: %w", err)
	}

	return &Store{db: db, masterKey: masterKey}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put seals and persists a dump, replacing any previous dump for the same
// (namespace, owner) pair.
func (s *Store) Put(d Dump) error {
	if !d.Namespace.Valid() {
		return fmt.Errorf("unknown namespace %q", d.Namespace)
	}

	sealed, err := s.seal(d.Namespace, d.Data)
	if err != nil {
		return err
	}

	env := envelope{
		Namespace:   string(d.Namespace),
		Owner:       d.Owner,
		Sealed:      sealed,
		CreatedAtMs: d.CreatedAtMs,
	}

	data, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding dump envelope: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(namespaceBucket(d.Namespace)).Put([]byte(d.Owner), data)
	})
}

// Get returns the persisted dump for the pair, or nil when none exists.
func (s *Store) Get(ns confstore.Namespace, owner string) (*Dump, error) {
	if !ns.Valid() {
		return nil, fmt.Errorf("unknown namespace %q", ns)
	}

	var raw []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(namespaceBucket(ns)).Get([]byte(owner)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading dump: %w", err)
	}

	if raw == nil {
		return nil, nil
	}

	return s.decode(raw)
}

// All returns every persisted dump across all namespaces.
func (s *Store) All() ([]Dump, error) {
	var raws [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, ns := range confstore.AllNamespaces() {
			err := tx.Bucket(namespaceBucket(ns)).ForEach(func(_, v []byte) error {
				raw := make([]byte, len(v))
				copy(raw, v)
				raws = append(raws, raw)

				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing dumps: %w", err)
	}

	out := make([]Dump, 0, len(raws))

	for _, raw := range raws {
		d, err := s.decode(raw)
		if err != nil {
			return nil, err
		}

		out = append(out, *d)
	}

	return out, nil
}

// Delete removes the dump for the pair if one exists.
func (s *Store) Delete(ns confstore.Namespace, owner string) error {
	if !ns.Valid() {
		return fmt.Errorf("unknown namespace %q", ns)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(namespaceBucket(ns)).Delete([]byte(owner))
	})
}

func (s *Store) decode(raw []byte) (*Dump, error) {
	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding dump envelope: %w", err)
	}

	ns := confstore.Namespace(env.Namespace)

	data, err := s.unseal(ns, env.Sealed)
	if err != nil {
		return nil, err
	}

	return &Dump{
		Namespace:   ns,
		Owner:       env.Owner,
		Data:        data,
		CreatedAtMs: env.CreatedAtMs,
	}, nil
}

// sealingKey derives the per-namespace sealing key from the master key.
func (s *Store) sealingKey(ns confstore.Namespace) ([]byte, error) {
	key := make([]byte, sealKeyLen)

	r := hkdf.New(sha256.New, s.masterKey, nil, []byte("confsync dump "+string(ns)))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving sealing key: %w", err)
	}

	return key, nil
}

// seal encrypts plaintext with the namespace key. The random nonce is
// prepended to the ciphertext.
func (s *Store) seal(ns confstore.Namespace, plaintext []byte) ([]byte, error) {
	key, err := s.sealingKey(ns)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating dump cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// unseal decrypts a sealed payload produced by seal.
func (s *Store) unseal(ns confstore.Namespace, sealed []byte) ([]byte, error) {
	key, err := s.sealingKey(ns)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating dump cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed dump too short (%d bytes)", len(sealed))
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unsealing dump: %w", err)
	}

	return plaintext, nil
}
