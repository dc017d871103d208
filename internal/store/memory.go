package store

import (
	"sync"

	"github.com/matt-riley/flagkit/internal/core"
)

// MemoryStore is a mutable in-process definition table, mostly useful for
// tests and for hosts that build definitions in code.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]core.Definition
}

func NewMemoryStore(defs ...core.Definition) *MemoryStore {
	s := &MemoryStore{definitions: make(map[string]core.Definition, len(defs))}
	s.Put(defs...)
	return s
}

// Put inserts or replaces definitions by key. Definitions with a blank key,
// such as the zero Definition, are skipped.
func (s *MemoryStore) Put(defs ...core.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range defs {
		if isBlank(def.Key()) {
			continue
		}
		s.definitions[def.Key()] = def
	}
}

func (s *MemoryStore) Remove(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.definitions, key)
	}
}

func (s *MemoryStore) Find(key string) (core.Definition, bool) {
	if isBlank(key) {
		return core.Definition{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[key]
	return def, ok
}

func (s *MemoryStore) FindAll() map[string]core.Definition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyDefinitions(s.definitions)
}
