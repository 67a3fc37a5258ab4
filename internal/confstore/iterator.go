package confstore

import (
	"fmt"

	"github.com/automerge/automerge-go"

	"github.com/alexjbarnes/confsync/internal/errors"
)

// ContactIterator walks every contact record in a contacts handle. It is a
// lazy, finite sequence and must be closed on every exit path, including
// early return and failure. A record that fails to decode is skipped, not
// surfaced; Skipped reports how many were dropped.
type ContactIterator struct {
	m       *automerge.Map
	keys    []string
	i       int
	cur     ContactRecord
	skipped int
	closed  bool
}

// IterateContacts returns an iterator over every contact record in the
// handle. The caller must Close it on every exit path.
func (h *Handle) IterateContacts() (*ContactIterator, error) {
	if h.ns != NamespaceContacts {
		return nil, fmt.Errorf("iterating contacts on %s handle", h.ns)
	}

	v, err := h.doc.Path(rootContacts).Get()
	if err != nil {
		return nil, fmt.Errorf("reading contacts root: %w", err)
	}

	if v.Kind() != automerge.KindMap {
		// Nothing written yet: an empty iterator.
		return &ContactIterator{}, nil
	}

	m := v.Map()

	keys, err := m.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing contact ids: %w", err)
	}

	return &ContactIterator{m: m, keys: keys}, nil
}

// Next advances to the next decodable record. It returns false once the
// sequence is exhausted or the iterator has been closed.
func (it *ContactIterator) Next() bool {
	if it.closed {
		return false
	}

	for it.i < len(it.keys) {
		id := it.keys[it.i]
		it.i++

		v, err := it.m.Get(id)
		if err != nil || v.Kind() != automerge.KindMap {
			it.skipped++
			continue
		}

		rec, err := decodeContact(v.Map(), id)
		if err != nil {
			it.skipped++
			continue
		}

		it.cur = rec

		return true
	}

	return false
}

// Record returns the record Next positioned on.
func (it *ContactIterator) Record() ContactRecord { return it.cur }

// Skipped returns the number of records dropped due to decode failures.
func (it *ContactIterator) Skipped() int { return it.skipped }

// Close releases the iterator. Closing twice is a caller bug and returns
// ErrIteratorClosed; the first Close always succeeds.
func (it *ContactIterator) Close() error {
	if it.closed {
		return errors.ErrIteratorClosed
	}

	it.closed = true
	it.m = nil
	it.keys = nil

	return nil
}
