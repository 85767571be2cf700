// Package store holds the enrollment records of the running engine and
// forwards every change to a pluggable database (PostgreSQL, Badger or none).
package store

import (
	"maps"
	"time"

	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/recipe"
)

// Kinds used as metric labels.
const (
	KindExperiment = "experiment"
	KindRollout    = "rollout"
)

// PrefRecord is a preference an enrollment controls.
// OriginalValue is the value the preference had right before the enrollment
// first set it; it is captured once and restored on unenrollment.
type PrefRecord struct {
	Name          string       `json:"name"`
	Branch        prefs.Branch `json:"branch"`
	FeatureID     string       `json:"featureId"`
	Variable      string       `json:"variable"`
	OriginalValue any          `json:"originalValue"`
}

// Enrollment is the record of a client taking part in a recipe.
// Enrollments are never deleted; unenrolling flips Active to false.
type Enrollment struct {
	Slug               string        `json:"slug"`
	UserFacingName     string        `json:"userFacingName,omitempty"`
	Branch             recipe.Branch `json:"branch"`
	Active             bool          `json:"active"`
	IsRollout          bool          `json:"isRollout"`
	IsFirefoxLabsOptIn bool          `json:"isFirefoxLabsOptIn"`
	Source             string        `json:"source"`
	Prefs              []PrefRecord  `json:"prefs,omitempty"`
	UnenrollReason     string        `json:"unenrollReason,omitempty"`
	LastSeen           time.Time     `json:"lastSeen"`
}

// Kind returns KindRollout or KindExperiment.
func (e *Enrollment) Kind() string {
	if e.IsRollout {
		return KindRollout
	}
	return KindExperiment
}

// HasFeature reports whether the enrolled branch configures featureID.
func (e *Enrollment) HasFeature(featureID string) bool {
	_, ok := e.Branch.Feature(featureID)
	return ok
}

// Pref returns the record for the named preference, if the enrollment controls it.
func (e *Enrollment) Pref(name string) (*PrefRecord, bool) {
	for i := range e.Prefs {
		if e.Prefs[i].Name == name {
			return &e.Prefs[i], true
		}
	}
	return nil, false
}

// Clone returns a copy that shares no slices or maps with e.
func (e *Enrollment) Clone() *Enrollment {
	if e == nil {
		return nil
	}

	c := *e
	c.Branch.Features = make([]recipe.FeatureConfig, len(e.Branch.Features))
	for i, f := range e.Branch.Features {
		c.Branch.Features[i] = recipe.FeatureConfig{
			FeatureID: f.FeatureID,
			Value:     maps.Clone(f.Value),
		}
	}
	if e.Prefs != nil {
		c.Prefs = make([]PrefRecord, len(e.Prefs))
		copy(c.Prefs, e.Prefs)
	}
	return &c
}

// normalize folds decoded JSON numbers back into the types the engine writes.
func (e *Enrollment) normalize() {
	for i := range e.Prefs {
		e.Prefs[i].OriginalValue = prefs.Normalize(e.Prefs[i].OriginalValue)
	}
}
