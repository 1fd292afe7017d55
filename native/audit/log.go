package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"workchain/core/state"
	"workchain/core/types"
)

const (
	// MaxListLimit caps a single page of log entries.
	MaxListLimit = 100
	// DefaultListLimit applies when the caller does not request a page size.
	DefaultListLimit = 50
)

var (
	logPrefix = []byte("audit/log/")
	seqKey    = []byte("audit/seq")

	errNilStore = errors.New("audit: storage not configured")
)

// storage is the subset of state functionality the audit ledger needs.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	ScanPrefix(prefix []byte, opts state.ScanOptions, fn func(key, value []byte) bool) error
}

// Entry is one immutable audit record. Entries are keyed by timestamp plus a
// persisted sequence number so lexicographic key order is chronological order
// and pagination can use an exclusive start bound.
type Entry struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Actor     types.Address     `json:"actor"`
	Subject   *types.SubjectRef `json:"subject,omitempty"`
	Reference string            `json:"reference,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
}

// Ledger appends and lists audit entries on a single state view. It is bound
// per call: mutating calls record into the call's transaction so the entry
// commits atomically with the rest of the call.
type Ledger struct {
	store storage
}

// NewLedger binds the ledger to a state view.
func NewLedger(store storage) *Ledger {
	return &Ledger{store: store}
}

func entryKey(id string) []byte {
	return append(append([]byte(nil), logPrefix...), id...)
}

// Record appends an entry. A persistence failure propagates to the caller so
// the enclosing operation cannot silently succeed without its audit trail.
func (l *Ledger) Record(action string, actor types.Address, subject *types.SubjectRef, reference string, now int64, success bool, errText string) (*Entry, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, errors.New("audit: action required")
	}
	var seq uint64
	if _, err := l.store.KVGet(seqKey, &seq); err != nil {
		return nil, err
	}
	seq++
	if err := l.store.KVPut(seqKey, seq); err != nil {
		return nil, err
	}
	entry := &Entry{
		ID:        fmt.Sprintf("%020d%012d", now, seq),
		Action:    action,
		Actor:     actor,
		Subject:   subject,
		Reference: reference,
		Timestamp: now,
		Success:   success,
		Error:     errText,
	}
	if err := l.store.KVPut(entryKey(entry.ID), entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries most-recent-first. startAfter is the exclusive ID of
// the last entry from the previous page; actionFilter, when set, keeps only
// entries with a matching action.
func (l *Ledger) List(startAfter string, limit int, actionFilter string) ([]*Entry, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	opts := state.ScanOptions{Reverse: true}
	if strings.TrimSpace(startAfter) != "" {
		opts.StartAfter = entryKey(strings.TrimSpace(startAfter))
	}
	filter := strings.TrimSpace(actionFilter)
	entries := make([]*Entry, 0, limit)
	var scanErr error
	err := l.store.ScanPrefix(logPrefix, opts, func(_, value []byte) bool {
		entry := new(Entry)
		if err := jsonUnmarshal(value, entry); err != nil {
			scanErr = err
			return false
		}
		if filter != "" && entry.Action != filter {
			return true
		}
		entries = append(entries, entry)
		return len(entries) < limit
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	return entries, nil
}

func jsonUnmarshal(raw []byte, out *Entry) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("audit: decode entry: %w", err)
	}
	return nil
}
