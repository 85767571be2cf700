// Package recipe defines the experiment and rollout descriptions the engine
// enrolls clients into, and loads them from JSON or YAML files.
package recipe

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/rafaeljc/nornir/internal/sampling"
	"github.com/rafaeljc/nornir/internal/targeting"
)

// Randomization units.
const (
	UnitNormandyID = "normandy_id"
	UnitGroupID    = "group_id"
)

// ErrInvalidRecipe wraps every recipe validation failure.
var ErrInvalidRecipe = errors.New("invalid recipe")

var validate = validator.New(validator.WithRequiredStructEnabled())

// FeatureConfig is the value a branch assigns to one feature.
type FeatureConfig struct {
	FeatureID string         `json:"featureId" yaml:"featureId" validate:"required"`
	Value     map[string]any `json:"value" yaml:"value"`
}

// Branch is one arm of a recipe.
type Branch struct {
	Slug     string          `json:"slug" yaml:"slug" validate:"required"`
	Ratio    int             `json:"ratio" yaml:"ratio" validate:"gt=0"`
	Features []FeatureConfig `json:"features" yaml:"features" validate:"dive"`
}

// FeatureIDs returns the feature ids configured by the branch, in order.
func (b *Branch) FeatureIDs() []string {
	ids := make([]string, 0, len(b.Features))
	for _, f := range b.Features {
		ids = append(ids, f.FeatureID)
	}
	return ids
}

// Feature returns the configuration of featureID, if any.
func (b *Branch) Feature(featureID string) (*FeatureConfig, bool) {
	for i := range b.Features {
		if b.Features[i].FeatureID == featureID {
			return &b.Features[i], true
		}
	}
	return nil, false
}

// BucketConfig selects which slice of the population a recipe samples.
type BucketConfig struct {
	RandomizationUnit string `json:"randomizationUnit" yaml:"randomizationUnit" validate:"oneof=normandy_id group_id"`
	Namespace         string `json:"namespace" yaml:"namespace" validate:"required"`
	Start             int    `json:"start" yaml:"start"`
	Count             int    `json:"count" yaml:"count"`
	Total             int    `json:"total" yaml:"total"`
}

// Sampling converts the config into the sampler's form.
func (c BucketConfig) Sampling() sampling.BucketConfig {
	return sampling.BucketConfig{
		Namespace: c.Namespace,
		Start:     c.Start,
		Count:     c.Count,
		Total:     c.Total,
	}
}

// Recipe describes an experiment or rollout. The engine never mutates a
// Recipe it has been handed.
type Recipe struct {
	Slug               string           `json:"slug" yaml:"slug" validate:"required"`
	UserFacingName     string           `json:"userFacingName,omitempty" yaml:"userFacingName,omitempty"`
	Branches           []Branch         `json:"branches" yaml:"branches" validate:"min=1,dive"`
	BucketConfig       BucketConfig     `json:"bucketConfig" yaml:"bucketConfig"`
	IsRollout          bool             `json:"isRollout" yaml:"isRollout"`
	IsFirefoxLabsOptIn bool             `json:"isFirefoxLabsOptIn" yaml:"isFirefoxLabsOptIn"`
	RequiresRestart    bool             `json:"requiresRestart" yaml:"requiresRestart"`
	IsEnrollmentPaused bool             `json:"isEnrollmentPaused" yaml:"isEnrollmentPaused"`
	Targeting          []targeting.Rule `json:"targeting,omitempty" yaml:"targeting,omitempty"`
	FeatureIDs         []string         `json:"featureIds,omitempty" yaml:"featureIds,omitempty"`
}

// Branch returns the branch with the given slug.
func (r *Recipe) Branch(slug string) (*Branch, bool) {
	for i := range r.Branches {
		if r.Branches[i].Slug == slug {
			return &r.Branches[i], true
		}
	}
	return nil, false
}

// Ratios returns the branch ratios in branch order.
func (r *Recipe) Ratios() []int {
	ratios := make([]int, len(r.Branches))
	for i, b := range r.Branches {
		ratios[i] = b.Ratio
	}
	return ratios
}

// Kind returns "rollout" or "experiment".
func (r *Recipe) Kind() string {
	if r.IsRollout {
		return "rollout"
	}
	return "experiment"
}

// Validate checks the recipe structure, the bucket invariant, branch slug
// uniqueness, and compiles the targeting rules.
func (r *Recipe) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidRecipe, r.Slug, err)
	}

	if err := r.BucketConfig.Sampling().Validate(); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRecipe, r.Slug, err)
	}

	seen := make(map[string]struct{}, len(r.Branches))
	for _, b := range r.Branches {
		if _, dup := seen[b.Slug]; dup {
			return fmt.Errorf("%w %q: duplicate branch slug %q", ErrInvalidRecipe, r.Slug, b.Slug)
		}
		seen[b.Slug] = struct{}{}
	}

	if r.IsRollout && len(r.Branches) != 1 {
		return fmt.Errorf("%w %q: rollouts must have exactly one branch", ErrInvalidRecipe, r.Slug)
	}

	if err := targeting.CompileRules(r.Targeting); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidRecipe, r.Slug, err)
	}

	return nil
}
