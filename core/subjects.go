package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"workchain/core/types"
)

// FileSubjectStore is a SubjectOracle backed by a JSON file. It stands in for
// the marketplace service in single-process deployments and tooling; the
// custody layer itself never creates subjects.
type FileSubjectStore struct {
	mu       sync.Mutex
	path     string
	subjects map[string]subjectRecord
}

type subjectRecord struct {
	Kind     types.SubjectKind   `json:"kind"`
	ID       uint64              `json:"id"`
	Owner    types.Address       `json:"owner"`
	Assignee types.Address       `json:"assignee"`
	Status   types.SubjectStatus `json:"status"`
}

func subjectStoreKey(ref types.SubjectRef) string {
	return fmt.Sprintf("%s/%d", ref.Kind, ref.ID)
}

// NewFileSubjectStore loads the store at path, creating an empty one when the
// file does not exist yet.
func NewFileSubjectStore(path string) (*FileSubjectStore, error) {
	store := &FileSubjectStore{path: path, subjects: make(map[string]subjectRecord)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("core: read subject store: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &store.subjects); err != nil {
			return nil, fmt.Errorf("core: decode subject store: %w", err)
		}
	}
	return store, nil
}

func (s *FileSubjectStore) persistLocked() error {
	raw, err := json.MarshalIndent(s.subjects, "", "  ")
	if err != nil {
		return fmt.Errorf("core: encode subject store: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("core: write subject store: %w", err)
	}
	return nil
}

// Upsert creates or replaces a subject record.
func (s *FileSubjectStore) Upsert(ref types.SubjectRef, owner, assignee types.Address, status types.SubjectStatus) error {
	if !ref.Valid() {
		return fmt.Errorf("core: invalid subject reference")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subjectStoreKey(ref)] = subjectRecord{
		Kind:     ref.Kind,
		ID:       ref.ID,
		Owner:    owner,
		Assignee: assignee,
		Status:   status,
	}
	return s.persistLocked()
}

func (s *FileSubjectStore) SubjectInfo(ref types.SubjectRef) (types.SubjectInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.subjects[subjectStoreKey(ref)]
	if !ok {
		return types.SubjectInfo{}, false, nil
	}
	return types.SubjectInfo{Owner: rec.Owner, Assignee: rec.Assignee, Status: rec.Status}, true, nil
}

func (s *FileSubjectStore) SetSubjectStatus(ref types.SubjectRef, status types.SubjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subjectStoreKey(ref)
	rec, ok := s.subjects[key]
	if !ok {
		return fmt.Errorf("core: unknown subject %s", key)
	}
	rec.Status = status
	s.subjects[key] = rec
	return s.persistLocked()
}
