package enrollment

import "errors"

// Enrollment errors. Enroll-time failures are reported to the Recorder and
// returned wrapped; the caller moves on to the next recipe.
var (
	// ErrNameConflict means an enrollment with the same slug blocks a new one.
	ErrNameConflict = errors.New("enrollment name conflict")

	// ErrFeatureConflict means another enrollment of the same kind already
	// configures a feature that does not allow co-enrollment.
	ErrFeatureConflict = errors.New("feature conflict")

	// ErrInvalidBranch means an opt-in branch slug matched no branch.
	ErrInvalidBranch = errors.New("invalid branch")

	// ErrDoesNotExist is returned by Unenroll and OptIn for an unknown slug.
	ErrDoesNotExist = errors.New("enrollment does not exist")

	// ErrAlreadyUnenrolled is returned by Unenroll for an inactive enrollment.
	ErrAlreadyUnenrolled = errors.New("already unenrolled")

	// ErrStudiesDisabled is returned when enrolling while studies are turned off.
	ErrStudiesDisabled = errors.New("studies are disabled")
)

// Restore errors. They only occur while restoring persisted enrollments and
// always lead to unenrollment, never to a failed Init.
var (
	ErrInvalidFeature      = errors.New("invalid feature")
	ErrPrefVariableMissing = errors.New("pref variable missing")
	ErrPrefVariableChanged = errors.New("pref variable changed")
)
