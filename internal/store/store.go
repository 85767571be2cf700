package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rafaeljc/nornir/internal/observability"
)

// ErrNotFound is returned when no enrollment exists for a slug.
var ErrNotFound = errors.New("enrollment not found")

// Store is the in-memory source of truth for enrollments during a session.
// Reads return copies, so callers can never mutate stored state.
//
// Writes update memory first and then the database. A database error is
// returned to the caller for logging but never undoes the in-memory change.
type Store struct {
	mu          sync.RWMutex
	enrollments map[string]*Enrollment
	db          Database
}

// New creates a Store backed by db. A nil db keeps enrollments in memory only.
func New(db Database) *Store {
	if db == nil {
		db = NopDatabase{}
	}
	return &Store{
		enrollments: make(map[string]*Enrollment),
		db:          db,
	}
}

// Load replaces the in-memory state with the persisted enrollments.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.db.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enrollments: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.enrollments = make(map[string]*Enrollment, len(loaded))
	for _, e := range loaded {
		e.normalize()
		s.enrollments[e.Slug] = e
	}
	s.updateGaugesLocked()

	return nil
}

// Get returns the enrollment for slug, or nil.
func (s *Store) Get(slug string) *Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.enrollments[slug].Clone()
}

// GetAll returns every enrollment, active or not, ordered by slug.
func (s *Store) GetAll() []*Enrollment {
	return s.filter(func(*Enrollment) bool { return true })
}

// GetAllActiveExperiments returns the active experiments ordered by slug.
func (s *Store) GetAllActiveExperiments() []*Enrollment {
	return s.filter(func(e *Enrollment) bool { return e.Active && !e.IsRollout })
}

// GetAllActiveRollouts returns the active rollouts ordered by slug.
func (s *Store) GetAllActiveRollouts() []*Enrollment {
	return s.filter(func(e *Enrollment) bool { return e.Active && e.IsRollout })
}

// GetExperimentForFeature returns the active experiment configuring featureID, or nil.
func (s *Store) GetExperimentForFeature(featureID string) *Enrollment {
	return s.first(func(e *Enrollment) bool {
		return e.Active && !e.IsRollout && e.HasFeature(featureID)
	})
}

// GetRolloutForFeature returns the active rollout configuring featureID, or nil.
func (s *Store) GetRolloutForFeature(featureID string) *Enrollment {
	return s.first(func(e *Enrollment) bool {
		return e.Active && e.IsRollout && e.HasFeature(featureID)
	})
}

// AddEnrollment stores e, replacing any previous enrollment with the same slug.
func (s *Store) AddEnrollment(ctx context.Context, e *Enrollment) error {
	stored := e.Clone()

	s.mu.Lock()
	s.enrollments[stored.Slug] = stored
	s.updateGaugesLocked()
	s.mu.Unlock()

	if err := s.db.Upsert(ctx, stored.Clone()); err != nil {
		return fmt.Errorf("failed to persist enrollment %q: %w", stored.Slug, err)
	}
	return nil
}

// UpdateEnrollment applies patch to the enrollment for slug.
// An active to inactive transition is persisted with Database.Deactivate.
func (s *Store) UpdateEnrollment(ctx context.Context, slug string, patch func(*Enrollment)) error {
	s.mu.Lock()
	current, ok := s.enrollments[slug]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, slug)
	}

	wasActive := current.Active
	updated := current.Clone()
	patch(updated)
	updated.Slug = slug
	s.enrollments[slug] = updated
	s.updateGaugesLocked()
	s.mu.Unlock()

	var err error
	if wasActive && !updated.Active {
		err = s.db.Deactivate(ctx, updated.Clone())
	} else {
		err = s.db.Upsert(ctx, updated.Clone())
	}
	if err != nil {
		return fmt.Errorf("failed to persist enrollment %q: %w", slug, err)
	}
	return nil
}

func (s *Store) filter(keep func(*Enrollment) bool) []*Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Enrollment, 0, len(s.enrollments))
	for _, e := range s.enrollments {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })

	return out
}

// first returns the match with the smallest slug so lookups are deterministic.
func (s *Store) first(match func(*Enrollment) bool) *Enrollment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Enrollment
	for _, e := range s.enrollments {
		if match(e) && (found == nil || e.Slug < found.Slug) {
			found = e
		}
	}
	return found.Clone()
}

func (s *Store) updateGaugesLocked() {
	var experiments, rollouts int
	for _, e := range s.enrollments {
		if !e.Active {
			continue
		}
		if e.IsRollout {
			rollouts++
		} else {
			experiments++
		}
	}
	observability.ActiveEnrollments.WithLabelValues(KindExperiment).Set(float64(experiments))
	observability.ActiveEnrollments.WithLabelValues(KindRollout).Set(float64(rollouts))
}
