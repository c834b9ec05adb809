package store

import (
	"context"
	"sort"
	"sync"

	"fieldsync/internal/models"
)

// MemoryStore is an in-process KV and NoteStore. It backs tests and serves
// as the failover fallback when the primary store is unreachable.
type MemoryStore struct {
	kv    sync.Map
	mu    sync.RWMutex
	notes map[string]models.FieldNote
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notes: make(map[string]models.FieldNote)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok := s.kv.Load(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val.([]byte)...), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.kv.Store(key, append([]byte(nil), value...))
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.kv.Delete(key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) UpsertNote(ctx context.Context, note *models.FieldNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.ID] = note.Clone()
	return nil
}

func (s *MemoryStore) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	return nil
}

func (s *MemoryStore) NoteByID(ctx context.Context, id string) (*models.FieldNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.notes[id]
	if !ok {
		return nil, nil
	}
	cp := note.Clone()
	return &cp, nil
}

func (s *MemoryStore) NotesByParcel(ctx context.Context, parcelKey string) ([]models.FieldNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var notes []models.FieldNote
	for _, note := range s.notes {
		if note.ParcelKey == parcelKey {
			notes = append(notes, note.Clone())
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.Before(notes[j].CreatedAt) })
	return notes, nil
}

func (s *MemoryStore) ReplaceParcelNotes(ctx context.Context, parcelKey string, notes []models.FieldNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, note := range s.notes {
		if note.ParcelKey == parcelKey {
			delete(s.notes, id)
		}
	}
	for i := range notes {
		note := notes[i].Clone()
		note.ParcelKey = parcelKey
		s.notes[note.ID] = note
	}
	return nil
}
