package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/store"
)

// Init loads the persisted enrollments and re-applies the prefs of the
// active ones. An enrollment that no longer matches the feature manifest is
// unenrolled; only a failure to read the database is returned.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.baseCtx = context.WithoutCancel(ctx)

	if err := e.store.Load(ctx); err != nil {
		return err
	}

	// Experiments first, so restored rollouts see which prefs they lose.
	active := append(e.store.GetAllActiveExperiments(), e.store.GetAllActiveRollouts()...)

	for _, enr := range active {
		if err := e.validateRestore(enr); err != nil {
			e.logger.Warn("unenrolling invalid persisted enrollment",
				slog.String("slug", enr.Slug),
				slog.String("error", err.Error()),
			)
			e.unenroll(ctx, enr, Cause{Reason: restoreReason(err)}, unenrollOptions{})
			continue
		}
		e.restoreEnrollment(ctx, enr)
	}

	e.logger.Info("enrollments restored", slog.Int("active", len(e.store.GetAllActiveExperiments())+len(e.store.GetAllActiveRollouts())))
	return nil
}

// Teardown removes every pref observer and forgets pref ownership.
// The engine must not be used afterwards.
func (e *Engine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, name := range e.ledger.Names() {
		for _, slug := range e.ledger.SlugsFor(name) {
			e.untrack(name, slug)
		}
	}
	for name, id := range e.observers {
		e.prefs.RemoveObserver(name, id)
		delete(e.observers, name)
	}
}

// validateRestore checks a persisted enrollment against the current manifest.
func (e *Engine) validateRestore(enr *store.Enrollment) error {
	for _, fc := range enr.Branch.Features {
		if !e.features.Has(fc.FeatureID) {
			return fmt.Errorf("%w: %s", ErrInvalidFeature, fc.FeatureID)
		}
		if fc.FeatureID == features.PrefFlipsFeatureID {
			if _, err := parsePrefFlips(&fc); err != nil {
				return err
			}
		}
	}

	for _, rec := range enr.Prefs {
		if rec.FeatureID == features.PrefFlipsFeatureID {
			continue
		}

		feature, err := e.features.Get(rec.FeatureID)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidFeature, rec.FeatureID)
		}

		def, ok := feature.Variables[rec.Variable]
		if !ok || def.SetPref == nil {
			return fmt.Errorf("%w: %s.%s", ErrPrefVariableMissing, rec.FeatureID, rec.Variable)
		}
		if def.SetPref.Pref != rec.Name || def.SetPref.Branch != rec.Branch {
			return fmt.Errorf("%w: %s.%s now sets %s", ErrPrefVariableChanged, rec.FeatureID, rec.Variable, def.SetPref.Pref)
		}
	}

	return nil
}

// restoreEnrollment re-applies the prefs of a valid persisted enrollment and
// tracks them again.
func (e *Engine) restoreEnrollment(ctx context.Context, enr *store.Enrollment) {
	for i := range enr.Prefs {
		rec := &enr.Prefs[i]

		if rec.FeatureID == features.PrefFlipsFeatureID {
			if flip, ok := desiredFlip(enr, rec.Name); ok {
				e.writePref(ctx, rec.Name, flip.Value, flip.Branch)
			}
		} else if !enr.IsRollout || !e.experimentOwns(rec) {
			if value, ok := e.desiredValue(enr, rec); ok {
				e.writePref(ctx, rec.Name, value, rec.Branch)
			}
		}

		e.track(rec.Name, enr.Slug)
	}
}

// experimentOwns reports whether an active experiment controls rec's pref.
func (e *Engine) experimentOwns(rec *store.PrefRecord) bool {
	exp := e.store.GetExperimentForFeature(rec.FeatureID)
	if exp == nil {
		return false
	}
	_, ok := exp.Pref(rec.Name)
	return ok
}

func restoreReason(err error) Reason {
	switch {
	case errors.Is(err, ErrPrefVariableMissing):
		return ReasonPrefVariableMissing
	case errors.Is(err, ErrPrefVariableChanged):
		return ReasonPrefVariableChanged
	case errors.Is(err, ErrInvalidFeature):
		return ReasonInvalidFeature
	default:
		return ReasonUnknown
	}
}
