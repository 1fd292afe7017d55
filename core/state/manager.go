package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"workchain/storage"
)

var (
	errTxnDone   = errors.New("state: transaction already finished")
	errNilTarget = errors.New("state: decode target required")
)

// Manager mediates all access to the durable key-value store. Mutating calls
// run inside an overlay transaction: writes are staged in memory and flushed
// to the backend in a single batch when the call commits, or dropped when it
// aborts. A nested Begin stacks a child transaction on top of the active one
// so a re-entrant call observes the parent's uncommitted writes, which is what
// lets the reentrancy flag reject it before any business logic runs.
type Manager struct {
	db storage.Database

	mu     sync.Mutex
	active *Txn
}

// NewManager wraps the provided database backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transaction layered over the currently active one, if any.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn := &Txn{
		mgr:     m,
		parent:  m.active,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
	m.active = txn
	return txn
}

func (m *Manager) collectCommitted(prefix []byte) ([]string, map[string][]byte, error) {
	keys := make([]string, 0)
	values := make(map[string][]byte)
	err := m.db.IteratePrefix(prefix, func(key, value []byte) bool {
		keys = append(keys, string(key))
		values[string(key)] = value
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

func (m *Manager) pop(txn *Txn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == txn {
		m.active = txn.parent
	}
}

// ScanOptions bounds a prefix scan. StartAfter is an exclusive key bound:
// ascending scans visit keys strictly greater, descending scans keys strictly
// smaller, which yields stable pagination for most-recent-first listings.
type ScanOptions struct {
	Reverse    bool
	StartAfter []byte
}

// Txn is an overlay transaction. It is not safe for concurrent use; the host
// serializes mutating calls.
type Txn struct {
	mgr     *Manager
	parent  *Txn
	writes  map[string][]byte
	deletes map[string]struct{}
	done    bool
}

// Get resolves a key through the overlay chain down to the backend.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	if t.done {
		return nil, false, errTxnDone
	}
	for cur := t; cur != nil; cur = cur.parent {
		if _, ok := cur.deletes[string(key)]; ok {
			return nil, false, nil
		}
		if v, ok := cur.writes[string(key)]; ok {
			return append([]byte(nil), v...), true, nil
		}
	}
	raw, err := t.mgr.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}

// Put stages a raw write.
func (t *Txn) Put(key, value []byte) error {
	if t.done {
		return errTxnDone
	}
	delete(t.deletes, string(key))
	t.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete stages a removal.
func (t *Txn) Delete(key []byte) error {
	if t.done {
		return errTxnDone
	}
	delete(t.writes, string(key))
	t.deletes[string(key)] = struct{}{}
	return nil
}

// KVGet decodes the JSON value stored under key into out.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok, err := t.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, errNilTarget
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stores value as JSON under key.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return t.Put(key, raw)
}

// ScanPrefix iterates the merged view of the overlay chain and the backend.
func (t *Txn) ScanPrefix(prefix []byte, opts ScanOptions, fn func(key, value []byte) bool) error {
	if t.done {
		return errTxnDone
	}
	keys, values, err := t.mgr.collectCommitted(prefix)
	if err != nil {
		return err
	}
	merged := values
	present := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		present[k] = struct{}{}
	}
	// Apply overlays oldest-first so the innermost transaction wins.
	chain := make([]*Txn, 0, 2)
	for cur := t; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		layer := chain[i]
		for k := range layer.deletes {
			if strings.HasPrefix(k, string(prefix)) {
				delete(merged, k)
				delete(present, k)
			}
		}
		for k, v := range layer.writes {
			if strings.HasPrefix(k, string(prefix)) {
				merged[k] = v
				present[k] = struct{}{}
			}
		}
	}
	ordered := make([]string, 0, len(present))
	for k := range present {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	return walk(ordered, merged, opts, fn)
}

// Commit merges the overlay into its parent, or flushes it to the backend in
// one atomic batch when this is the outermost transaction.
func (t *Txn) Commit() error {
	if t.done {
		return errTxnDone
	}
	t.done = true
	t.mgr.pop(t)
	if t.parent != nil {
		for k := range t.deletes {
			delete(t.parent.writes, k)
			t.parent.deletes[k] = struct{}{}
		}
		for k, v := range t.writes {
			delete(t.parent.deletes, k)
			t.parent.writes[k] = v
		}
		return nil
	}
	return t.mgr.db.WriteBatch(t.writes, t.deletes)
}

// Abort discards every staged write.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.mgr.pop(t)
}

func walk(sortedKeys []string, values map[string][]byte, opts ScanOptions, fn func(key, value []byte) bool) error {
	if opts.Reverse {
		for i := len(sortedKeys) - 1; i >= 0; i-- {
			k := sortedKeys[i]
			if len(opts.StartAfter) > 0 && k >= string(opts.StartAfter) {
				continue
			}
			if !fn([]byte(k), values[k]) {
				return nil
			}
		}
		return nil
	}
	for _, k := range sortedKeys {
		if len(opts.StartAfter) > 0 && k <= string(opts.StartAfter) {
			continue
		}
		if !fn([]byte(k), values[k]) {
			return nil
		}
	}
	return nil
}
