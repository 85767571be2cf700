package prefs

import (
	"context"
	"fmt"
	"sync"
)

// Compile-time check to verify that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps preferences in process memory.
// Observers are invoked after the internal lock is released, so they may call
// back into the store.
type MemoryStore struct {
	mu        sync.Mutex
	user      map[string]any
	defaults  map[string]any
	observers map[string]map[ObserverID]ObserverFunc
	nextID    ObserverID
}

// NewMemoryStore creates an empty in-memory preference store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		user:      make(map[string]any),
		defaults:  make(map[string]any),
		observers: make(map[string]map[ObserverID]ObserverFunc),
	}
}

// Get returns the value of name on branch.
func (s *MemoryStore) Get(_ context.Context, name string, branch Branch) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch branch {
	case BranchUser:
		return s.effectiveLocked(name), nil
	case BranchDefault:
		return s.defaults[name], nil
	default:
		return nil, fmt.Errorf("unknown preference branch %q", branch)
	}
}

// Set writes value to name on branch and notifies observers when the
// effective value changed.
func (s *MemoryStore) Set(_ context.Context, name string, value any, branch Branch) error {
	if err := validateValue(value); err != nil {
		return fmt.Errorf("failed to set %q: %w", name, err)
	}

	s.mu.Lock()

	before := s.effectiveLocked(name)

	var target map[string]any
	switch branch {
	case BranchUser:
		target = s.user
	case BranchDefault:
		target = s.defaults
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown preference branch %q", branch)
	}

	if value == nil {
		delete(target, name)
	} else {
		target[name] = Normalize(value)
	}

	after := s.effectiveLocked(name)

	var toNotify []ObserverFunc
	if !Equal(before, after) {
		for _, fn := range s.observers[name] {
			toNotify = append(toNotify, fn)
		}
	}

	s.mu.Unlock()

	for _, fn := range toNotify {
		fn(name)
	}

	return nil
}

// HasUserValue reports whether name has a user override.
func (s *MemoryStore) HasUserValue(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.user[name]
	return ok, nil
}

// AddObserver registers fn for changes to name.
func (s *MemoryStore) AddObserver(name string, fn ObserverFunc) ObserverID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if s.observers[name] == nil {
		s.observers[name] = make(map[ObserverID]ObserverFunc)
	}
	s.observers[name][s.nextID] = fn

	return s.nextID
}

// RemoveObserver unregisters the observer id for name.
func (s *MemoryStore) RemoveObserver(name string, id ObserverID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observers[name], id)
	if len(s.observers[name]) == 0 {
		delete(s.observers, name)
	}
}

// ObserverCount returns the number of observers registered for name.
func (s *MemoryStore) ObserverCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.observers[name])
}

func (s *MemoryStore) effectiveLocked(name string) any {
	if v, ok := s.user[name]; ok {
		return v
	}
	return s.defaults[name]
}
