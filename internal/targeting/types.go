// Package targeting decides whether a recipe applies to the current client.
// Rules are compiled once into Matchers and evaluated against a Context
// snapshot of the client and its enrollments.
package targeting

import "slices"

// Rule types understood by the Engine.
const (
	RuleTypeUserIDList    = "USER_ID_LIST"
	RuleTypeAttributeIn   = "ATTRIBUTE_IN"
	RuleTypePercentage    = "PERCENTAGE"
	RuleTypeEnrolledIn    = "ENROLLED_IN"
	RuleTypeNotEnrolledIn = "NOT_ENROLLED_IN"
)

// Context is a snapshot of the client and its enrollment history.
// It is built once per targeting decision; evaluators never call back
// into the enrollment store.
type Context struct {
	// UserID is the client identifier (the normandy_id randomization unit).
	UserID string `json:"userId"`

	// GroupID is the profile group identifier (the group_id randomization unit).
	GroupID string `json:"groupId,omitempty"`

	// Attributes holds arbitrary client attributes (e.g., "channel", "locale").
	Attributes map[string]string `json:"attributes,omitempty"`

	// Slugs of active and previous (inactive) enrollments, sorted.
	ActiveExperiments   []string `json:"activeExperiments"`
	ActiveRollouts      []string `json:"activeRollouts"`
	PreviousExperiments []string `json:"previousExperiments"`
	PreviousRollouts    []string `json:"previousRollouts"`

	// Enrollments maps every known slug (active or not) to its branch slug.
	Enrollments map[string]string `json:"enrollments"`
}

// IsActive reports whether slug is an active experiment or rollout.
func (c Context) IsActive(slug string) bool {
	return slices.Contains(c.ActiveExperiments, slug) || slices.Contains(c.ActiveRollouts, slug)
}

// WasEnrolled reports whether slug is a previous experiment or rollout.
func (c Context) WasEnrolled(slug string) bool {
	return slices.Contains(c.PreviousExperiments, slug) || slices.Contains(c.PreviousRollouts, slug)
}

// EvaluationInput is what a Matcher sees.
type EvaluationInput struct {
	Client Context

	// Slug is the recipe being targeted. PERCENTAGE salts its hash with it.
	Slug string
}

// Rule represents a single targeting rule of a recipe.
type Rule struct {
	// ID identifies the rule inside its recipe (used in logs and errors).
	ID string `json:"id" yaml:"id"`

	// Type is one of the RuleType constants. Other types are ignored.
	Type string `json:"type" yaml:"type"`

	// Value contains the strategy parameters. Its shape depends on Type:
	// - USER_ID_LIST:    {"user_ids": ["a", "b"]}
	// - ATTRIBUTE_IN:    {"attribute": "channel", "values": ["beta"]}
	// - PERCENTAGE:      {"percentage": 10, "attribute": "user_id"}
	// - ENROLLED_IN:     {"slugs": ["exp-a"], "branch": "treatment"}
	// - NOT_ENROLLED_IN: {"slugs": ["exp-a"], "include_previous": true}
	Value map[string]any `json:"value" yaml:"value"`

	// Matcher is set by CompileRules.
	Matcher Matcher `json:"-" yaml:"-"`
}
