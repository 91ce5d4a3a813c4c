package checkpoint

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. States are stored in
// encoded form so callers cannot mutate a saved checkpoint.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  map[string]int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string][]byte),
		saves:  make(map[string]int),
	}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, name string) (State, error) {
	if err := validateName(name); err != nil {
		return State{}, err
	}
	s.mu.Lock()
	data, ok := s.states[name]
	s.mu.Unlock()
	if !ok {
		return State{}, nil
	}
	var state State
	err := json.Unmarshal(data, &state)
	return state, err
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, name string, state State) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[name] = data
	s.saves[name]++
	s.mu.Unlock()
	savesTotal.WithLabelValues("memory").Inc()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.states, name)
	s.mu.Unlock()
	return nil
}

// Saves returns how often name was saved.
func (s *MemoryStore) Saves(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[name]
}

// Has reports whether a checkpoint exists for name.
func (s *MemoryStore) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[name]
	return ok
}
