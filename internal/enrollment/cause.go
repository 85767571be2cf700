package enrollment

import (
	"slices"

	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/store"
)

// Reason explains why an enrollment ended.
type Reason string

const (
	ReasonRecipeNotSeen       Reason = "recipe-not-seen"
	ReasonInvalidRecipe       Reason = "invalid-recipe"
	ReasonInvalidBranch       Reason = "invalid-branch"
	ReasonInvalidFeature      Reason = "invalid-feature"
	ReasonBranchRemoved       Reason = "branch-removed"
	ReasonTargetingMismatch   Reason = "targeting-mismatch"
	ReasonBucketing           Reason = "bucketing"
	ReasonChangedPref         Reason = "changed-pref"
	ReasonIndividualOptOut    Reason = "individual-opt-out"
	ReasonLabsOptOut          Reason = "labs-opt-out"
	ReasonStudiesOptOut       Reason = "studies-opt-out"
	ReasonPrefFlipsConflict   Reason = "prefFlips-conflict"
	ReasonPrefVariableMissing Reason = "pref-variable-missing"
	ReasonPrefVariableChanged Reason = "pref-variable-changed"
	ReasonUnknown             Reason = "unknown"
)

// ChangedPref names the preference whose external change ended an enrollment.
type ChangedPref struct {
	Name   string       `json:"name"`
	Branch prefs.Branch `json:"branch"`
}

// Cause describes an unenrollment.
type Cause struct {
	Reason Reason `json:"reason"`

	// ChangedPref is set for ReasonChangedPref. That pref is never restored.
	ChangedPref *ChangedPref `json:"changedPref,omitempty"`

	// ConflictingSlug is the enrollment that caused a prefFlips conflict.
	ConflictingSlug string `json:"conflictingSlug,omitempty"`
}

// skips reports whether restoring the named pref must be skipped because the
// user changed it deliberately.
func (c Cause) skips(name string) bool {
	return c.Reason == ReasonChangedPref && c.ChangedPref != nil && c.ChangedPref.Name == name
}

// MatchStatus is the outcome of targeting and bucketing for one recipe.
type MatchStatus string

const (
	MatchNotSeen               MatchStatus = "not-seen"
	MatchNoMatch               MatchStatus = "no-match"
	MatchTargetingOnly         MatchStatus = "targeting-only"
	MatchTargetingAndBucketing MatchStatus = "targeting-and-bucketing"
	MatchEnrollmentPaused      MatchStatus = "enrollment-paused"
)

// CheckResult is what the recipe source learned about a recipe before
// handing it to the engine.
type CheckResult struct {
	// Ok is false when the recipe failed validation.
	Ok     bool        `json:"ok"`
	Status MatchStatus `json:"status"`

	// Reason is one of ReasonInvalidRecipe, ReasonInvalidBranch or
	// ReasonInvalidFeature when Ok is false.
	Reason Reason `json:"reason,omitempty"`

	InvalidBranchSlugs []string `json:"invalidBranchSlugs,omitempty"`
	InvalidFeatureIDs  []string `json:"invalidFeatureIds,omitempty"`
}

// Matched reports a valid recipe whose targeting and bucketing both pass.
func (r CheckResult) Matched() bool {
	return r.Ok && r.Status == MatchTargetingAndBucketing
}

// Targeted reports a valid recipe whose targeting passes.
func (r CheckResult) Targeted() bool {
	return r.Ok && (r.Status == MatchTargetingOnly || r.Status == MatchTargetingAndBucketing)
}

// invalidates reports whether a validation failure concerns enr. A broken
// branch or feature only ends enrollments that use it.
func (r CheckResult) invalidates(enr *store.Enrollment) bool {
	switch r.Reason {
	case ReasonInvalidBranch:
		return len(r.InvalidBranchSlugs) == 0 || slices.Contains(r.InvalidBranchSlugs, enr.Branch.Slug)
	case ReasonInvalidFeature:
		if len(r.InvalidFeatureIDs) == 0 {
			return true
		}
		for _, id := range r.InvalidFeatureIDs {
			if enr.HasFeature(id) {
				return true
			}
		}
		return false
	default:
		return true
	}
}
