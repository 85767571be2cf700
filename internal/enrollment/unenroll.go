package enrollment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/store"
)

// unenrollOptions tunes the internal unenroll transition.
type unenrollOptions struct {
	// skipRestore names prefs another enrollment is taking over; they keep
	// their current value.
	skipRestore map[string]struct{}
}

func (o unenrollOptions) skips(name string) bool {
	_, ok := o.skipRestore[name]
	return ok
}

// Unenroll ends the active enrollment for slug.
func (e *Engine) Unenroll(ctx context.Context, slug string, cause Cause) (*store.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enr := e.store.Get(slug)
	if enr == nil {
		e.recorder.RecordUnenrollmentFailure(slug, FailureDoesNotExist)
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, slug)
	}
	if !enr.Active {
		e.recorder.RecordUnenrollmentFailure(slug, FailureAlreadyUnenrolled)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyUnenrolled, slug)
	}

	e.unenroll(ctx, enr, cause, unenrollOptions{})
	return e.store.Get(slug), nil
}

// unenroll deactivates enr and restores the prefs it controlled.
// The in-memory state flips before anything else; persistence failures are
// only logged.
func (e *Engine) unenroll(ctx context.Context, enr *store.Enrollment, cause Cause, opts unenrollOptions) {
	if !enr.Active {
		return
	}

	err := e.store.UpdateEnrollment(ctx, enr.Slug, func(s *store.Enrollment) {
		s.Active = false
		s.UnenrollReason = string(cause.Reason)
	})
	if err != nil {
		e.logger.Warn("failed to persist unenrollment", slog.String("slug", enr.Slug), slog.String("error", err.Error()))
	}
	enr.Active = false
	enr.UnenrollReason = string(cause.Reason)

	e.recorder.RecordUnenrollment(enr, cause)

	for i := range enr.Prefs {
		e.untrack(enr.Prefs[i].Name, enr.Slug)
	}

	for i := range enr.Prefs {
		rec := &enr.Prefs[i]
		if cause.skips(rec.Name) || opts.skips(rec.Name) {
			continue
		}
		if rec.FeatureID == features.PrefFlipsFeatureID {
			e.flips.restore(ctx, rec)
			continue
		}
		e.restorePref(ctx, enr, rec)
	}

	e.logger.Info("unenrolled",
		slog.String("slug", enr.Slug),
		slog.String("kind", enr.Kind()),
		slog.String("reason", string(cause.Reason)),
	)
}

// restorePref writes back the value rec's pref should have once enr is gone.
// An experiment hands the pref back to a rollout still configuring it; a
// rollout never touches a pref an active experiment controls.
func (e *Engine) restorePref(ctx context.Context, enr *store.Enrollment, rec *store.PrefRecord) {
	var other *store.Enrollment
	if enr.IsRollout {
		other = e.store.GetExperimentForFeature(rec.FeatureID)
	} else {
		other = e.store.GetRolloutForFeature(rec.FeatureID)
	}

	if other != nil {
		if otherRec, ok := other.Pref(rec.Name); ok {
			if enr.IsRollout {
				return
			}
			if value, ok := e.desiredValue(other, otherRec); ok {
				e.writePref(ctx, rec.Name, value, otherRec.Branch)
				return
			}
		}
	}

	e.writePref(ctx, rec.Name, rec.OriginalValue, rec.Branch)
}

// onPrefChanged is the pref observer. An external change to a controlled
// pref unenrolls its owners, rollouts first.
func (e *Engine) onPrefChanged(name string) {
	if e.ledger.IsChanging(name) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var rollouts, others []*store.Enrollment
	for _, slug := range e.ledger.SlugsFor(name) {
		enr := e.store.Get(slug)
		if enr == nil || !enr.Active {
			continue
		}
		if enr.IsRollout {
			rollouts = append(rollouts, enr)
		} else {
			others = append(others, enr)
		}
	}

	for _, enr := range append(rollouts, others...) {
		branch := prefs.BranchDefault
		if rec, ok := enr.Pref(name); ok {
			branch = rec.Branch
		}
		e.unenroll(e.baseCtx, enr, Cause{
			Reason:      ReasonChangedPref,
			ChangedPref: &ChangedPref{Name: name, Branch: branch},
		}, unenrollOptions{})
	}
}
