package enrollment

import "github.com/rafaeljc/nornir/internal/store"

// Enrollment statuses reported through RecordEnrollmentStatus.
const (
	StatusEnrolled     = "Enrolled"
	StatusNotEnrolled  = "NotEnrolled"
	StatusDisqualified = "Disqualified"
	StatusWasEnrolled  = "WasEnrolled"
)

// Enrollment status reasons.
const (
	StatusReasonQualified         = "Qualified"
	StatusReasonOptIn             = "OptIn"
	StatusReasonNotSelected       = "NotSelected"
	StatusReasonNotTargeted       = "NotTargeted"
	StatusReasonEnrollmentsPaused = "EnrollmentsPaused"
	StatusReasonFeatureConflict   = "FeatureConflict"
	StatusReasonNameConflict      = "NameConflict"
	StatusReasonError             = "Error"
)

// Failure reasons passed to RecordEnrollmentFailure and RecordUnenrollmentFailure.
const (
	FailureNameConflict      = "name-conflict"
	FailureFeatureConflict   = "feature-conflict"
	FailureInvalidBranch     = "invalid-branch"
	FailureInvalidFeature    = "invalid-feature"
	FailureInvalidRatios     = "invalid-ratios"
	FailurePrefStore         = "pref-store"
	FailureDoesNotExist      = "does-not-exist"
	FailureAlreadyUnenrolled = "already-unenrolled"
)

// EnrollmentStatus is one enrollment status event.
type EnrollmentStatus struct {
	Slug         string
	Branch       string
	Status       string
	Reason       string
	ConflictSlug string
	Error        string
}

// Recorder receives the engine's telemetry. Calls happen while the engine
// lock is held, so implementations must not call back into the Engine.
type Recorder interface {
	RecordEnrollment(e *store.Enrollment)
	RecordUnenrollment(e *store.Enrollment, cause Cause)
	RecordEnrollmentStatus(s EnrollmentStatus)
	RecordEnrollmentFailure(slug, reason string)
	RecordUnenrollmentFailure(slug, reason string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordEnrollment(*store.Enrollment) {}

func (NopRecorder) RecordUnenrollment(*store.Enrollment, Cause) {}

func (NopRecorder) RecordEnrollmentStatus(EnrollmentStatus) {}

func (NopRecorder) RecordEnrollmentFailure(string, string) {}

func (NopRecorder) RecordUnenrollmentFailure(string, string) {}
