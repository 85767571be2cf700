package syncer

import (
	"log/slog"
	"slices"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/sampling"
	"github.com/rafaeljc/nornir/internal/targeting"
	"github.com/rafaeljc/nornir/internal/validation"
)

// Checker computes the CheckResult of a recipe for the current client:
// validation, then pause, then targeting, then bucketing.
type Checker struct {
	features  *features.Registry
	targeting *targeting.Engine
}

// NewChecker creates a Checker.
func NewChecker(logger *slog.Logger, registry *features.Registry) *Checker {
	validation.AssertNotNil(registry, "syncer: features registry")
	return &Checker{
		features:  registry,
		targeting: targeting.New(logger),
	}
}

// Check evaluates r against the client described by tc. Enrollment pauses
// only stop new enrollments; a client already enrolled is still evaluated.
func (c *Checker) Check(r *recipe.Recipe, tc targeting.Context) enrollment.CheckResult {
	if err := r.Validate(); err != nil {
		return enrollment.CheckResult{Ok: false, Reason: enrollment.ReasonInvalidRecipe}
	}

	if result, ok := c.checkFeatures(r); !ok {
		return result
	}

	if r.IsEnrollmentPaused && !tc.IsActive(r.Slug) {
		return enrollment.CheckResult{Ok: true, Status: enrollment.MatchEnrollmentPaused}
	}

	if !c.targeting.Evaluate(r.Targeting, targeting.EvaluationInput{Client: tc, Slug: r.Slug}) {
		return enrollment.CheckResult{Ok: true, Status: enrollment.MatchNoMatch}
	}

	id := tc.UserID
	if r.BucketConfig.RandomizationUnit == recipe.UnitGroupID {
		id = tc.GroupID
	}
	if id == "" {
		return enrollment.CheckResult{Ok: true, Status: enrollment.MatchTargetingOnly}
	}

	in, err := sampling.IsInBucket(id, r.BucketConfig.Sampling())
	if err != nil {
		return enrollment.CheckResult{Ok: false, Reason: enrollment.ReasonInvalidRecipe}
	}
	if !in {
		return enrollment.CheckResult{Ok: true, Status: enrollment.MatchTargetingOnly}
	}
	return enrollment.CheckResult{Ok: true, Status: enrollment.MatchTargetingAndBucketing}
}

// checkFeatures rejects unknown features and branch values for undeclared
// variables. Unknown features take precedence over broken branches.
func (c *Checker) checkFeatures(r *recipe.Recipe) (enrollment.CheckResult, bool) {
	var badFeatures, badBranches []string

	for _, b := range r.Branches {
		for _, fc := range b.Features {
			feature, err := c.features.Get(fc.FeatureID)
			if err != nil {
				if !slices.Contains(badFeatures, fc.FeatureID) {
					badFeatures = append(badFeatures, fc.FeatureID)
				}
				continue
			}
			if fc.FeatureID == features.PrefFlipsFeatureID {
				continue
			}
			for variable := range fc.Value {
				if _, ok := feature.Variables[variable]; !ok && !slices.Contains(badBranches, b.Slug) {
					badBranches = append(badBranches, b.Slug)
				}
			}
		}
	}

	switch {
	case len(badFeatures) > 0:
		return enrollment.CheckResult{Ok: false, Reason: enrollment.ReasonInvalidFeature, InvalidFeatureIDs: badFeatures}, false
	case len(badBranches) > 0:
		return enrollment.CheckResult{Ok: false, Reason: enrollment.ReasonInvalidBranch, InvalidBranchSlugs: badBranches}, false
	}
	return enrollment.CheckResult{}, true
}
