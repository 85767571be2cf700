package enrollment

import (
	"context"
	"log/slog"

	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/store"
)

// UpdateEnrollment re-evaluates an existing enrollment against the latest
// version of its recipe and reports whether it is still active.
func (e *Engine) UpdateEnrollment(ctx context.Context, enr *store.Enrollment, r *recipe.Recipe, source string, result CheckResult) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.updateEnrollment(ctx, enr, r, source, result)
}

func (e *Engine) updateEnrollment(ctx context.Context, enr *store.Enrollment, r *recipe.Recipe, source string, result CheckResult) (bool, error) {
	if enr.Active {
		if cause, ok := unenrollCause(enr, r, result); ok {
			e.unenroll(ctx, enr, cause, unenrollOptions{})
			e.recordDisqualified(enr, cause)
			return false, nil
		}

		err := e.store.UpdateEnrollment(ctx, enr.Slug, func(s *store.Enrollment) {
			s.LastSeen = e.now()
		})
		if err != nil {
			e.logger.Warn("failed to persist last seen", slog.String("slug", enr.Slug), slog.String("error", err.Error()))
		}

		if result.Matched() {
			e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
				Slug:   enr.Slug,
				Branch: enr.Branch.Slug,
				Status: StatusEnrolled,
				Reason: StatusReasonQualified,
			})
		}
		return true, nil
	}

	if r != nil && enr.IsRollout && !enr.IsFirefoxLabsOptIn &&
		result.Matched() && enr.UnenrollReason != string(ReasonIndividualOptOut) {
		reenrolled, err := e.enroll(ctx, r, source, EnrollOptions{Reenroll: true})
		return reenrolled != nil, err
	}

	e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
		Slug:   enr.Slug,
		Branch: enr.Branch.Slug,
		Status: StatusWasEnrolled,
	})
	return false, nil
}

// unenrollCause decides whether an active enrollment must end. Experiments
// keep their bucketing for life; rollouts are re-bucketed on every update.
func unenrollCause(enr *store.Enrollment, r *recipe.Recipe, result CheckResult) (Cause, bool) {
	if !result.Ok && result.invalidates(enr) {
		reason := result.Reason
		if reason == "" {
			reason = ReasonInvalidRecipe
		}
		return Cause{Reason: reason}, true
	}

	if result.Status == MatchNotSeen || r == nil {
		return Cause{Reason: ReasonRecipeNotSeen}, true
	}

	if _, ok := r.Branch(enr.Branch.Slug); !ok {
		return Cause{Reason: ReasonBranchRemoved}, true
	}

	if result.Status == MatchNoMatch {
		return Cause{Reason: ReasonTargetingMismatch}, true
	}

	if enr.IsRollout && result.Status == MatchTargetingOnly {
		return Cause{Reason: ReasonBucketing}, true
	}

	return Cause{}, false
}

// recordDisqualified reports an enrollment ended by the latest evaluation of
// its recipe. Recipes that vanished or lost the branch report nothing.
func (e *Engine) recordDisqualified(enr *store.Enrollment, cause Cause) {
	status := EnrollmentStatus{
		Slug:   enr.Slug,
		Branch: enr.Branch.Slug,
		Status: StatusDisqualified,
	}
	switch cause.Reason {
	case ReasonTargetingMismatch:
		status.Reason = StatusReasonNotTargeted
	case ReasonBucketing:
		status.Reason = StatusReasonNotSelected
	case ReasonInvalidRecipe, ReasonInvalidBranch, ReasonInvalidFeature:
		status.Reason = StatusReasonError
		status.Error = string(cause.Reason)
	default:
		return
	}
	e.recorder.RecordEnrollmentStatus(status)
}
