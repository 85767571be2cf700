// Package telemetry reports enrollment events as Prometheus metrics and
// structured log records.
package telemetry

import (
	"log/slog"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/observability"
	"github.com/rafaeljc/nornir/internal/store"
)

var _ enrollment.Recorder = (*Recorder)(nil)

// Recorder implements enrollment.Recorder. It is safe for concurrent use.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder creates a Recorder. A nil logger falls back to slog.Default.
func NewRecorder(l *slog.Logger) *Recorder {
	return &Recorder{logger: logger.Component(l, "telemetry")}
}

// RecordEnrollment reports a new enrollment.
func (r *Recorder) RecordEnrollment(e *store.Enrollment) {
	observability.EnrollmentsTotal.WithLabelValues(e.Kind()).Inc()

	r.logger.Info("enrollment",
		slog.String("slug", e.Slug),
		slog.String("branch", e.Branch.Slug),
		slog.String("kind", e.Kind()),
		slog.String("source", e.Source),
		slog.Int("prefs", len(e.Prefs)),
	)
}

// RecordUnenrollment reports the end of an enrollment.
func (r *Recorder) RecordUnenrollment(e *store.Enrollment, cause enrollment.Cause) {
	observability.UnenrollmentsTotal.WithLabelValues(e.Kind(), string(cause.Reason)).Inc()

	attrs := []any{
		slog.String("slug", e.Slug),
		slog.String("branch", e.Branch.Slug),
		slog.String("kind", e.Kind()),
		slog.String("reason", string(cause.Reason)),
	}
	if cause.ChangedPref != nil {
		attrs = append(attrs,
			slog.String("changed_pref", cause.ChangedPref.Name),
			slog.String("changed_pref_branch", string(cause.ChangedPref.Branch)),
		)
	}
	if cause.ConflictingSlug != "" {
		attrs = append(attrs, slog.String("conflicting_slug", cause.ConflictingSlug))
	}

	r.logger.Info("unenrollment", attrs...)
}

// RecordEnrollmentStatus reports the per-recipe status of a sync.
func (r *Recorder) RecordEnrollmentStatus(s enrollment.EnrollmentStatus) {
	observability.EnrollmentStatusTotal.WithLabelValues(s.Status, s.Reason).Inc()

	attrs := []any{
		slog.String("slug", s.Slug),
		slog.String("status", s.Status),
	}
	if s.Reason != "" {
		attrs = append(attrs, slog.String("reason", s.Reason))
	}
	if s.Branch != "" {
		attrs = append(attrs, slog.String("branch", s.Branch))
	}
	if s.ConflictSlug != "" {
		attrs = append(attrs, slog.String("conflict_slug", s.ConflictSlug))
	}
	if s.Error != "" {
		attrs = append(attrs, slog.String("error", s.Error))
	}

	r.logger.Debug("enrollment status", attrs...)
}

// RecordEnrollmentFailure reports a recipe that could not be enrolled.
func (r *Recorder) RecordEnrollmentFailure(slug, reason string) {
	observability.EnrollmentFailuresTotal.WithLabelValues(reason).Inc()
	r.logger.Warn("enrollment failed", slog.String("slug", slug), slog.String("reason", reason))
}

// RecordUnenrollmentFailure reports a rejected unenroll request.
func (r *Recorder) RecordUnenrollmentFailure(slug, reason string) {
	observability.UnenrollmentFailuresTotal.WithLabelValues(reason).Inc()
	r.logger.Warn("unenrollment failed", slog.String("slug", slug), slog.String("reason", reason))
}
