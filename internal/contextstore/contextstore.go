// Package contextstore keeps the shared working memory agents read and
// write while a lead moves through the pipeline. Entries are keyed by
// an arbitrary string, in practice "lead_<id>".
package contextstore

import (
	"sync"
	"time"

	"github.com/caselane/caselane/pkg/models"
)

type entry struct {
	data      map[string]any
	updatedAt time.Time
}

// Store is a concurrency-safe keyed context map. Set merges shallowly:
// top-level keys overwrite, nested values are replaced wholesale. That
// keeps writes predictable; agents that need accumulation use Append.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Set shallow-merges data into the entry at key, creating it if absent.
func (s *Store) Set(key string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{data: make(map[string]any, len(data))}
		s.entries[key] = e
	}
	for k, v := range data {
		e.data[k] = v
	}
	e.updatedAt = s.now()
}

// Get returns a copy of the entry at key, nested maps included.
// Mutating the returned map does not affect the store.
func (s *Store) Get(key string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return copyData(e.data), true
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyData(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Delete removes the entry at key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// AppendConversation adds one conversation turn to the entry's history
// list, creating the entry if absent.
func (s *Store) AppendConversation(key string, turn models.ConversationEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{data: make(map[string]any)}
		s.entries[key] = e
	}
	history, _ := e.data["conversation"].([]models.ConversationEntry)
	e.data["conversation"] = append(history, turn)
	e.updatedAt = s.now()
}

// AppendDecision adds one decision record to the entry's decision log,
// creating the entry if absent.
func (s *Store) AppendDecision(key string, rec models.DecisionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{data: make(map[string]any)}
		s.entries[key] = e
	}
	decisions, _ := e.data["decisions"].([]models.DecisionRecord)
	e.data["decisions"] = append(decisions, rec)
	e.updatedAt = s.now()
}

// Sweep removes entries not updated since cutoff and reports how many
// were dropped.
func (s *Store) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
