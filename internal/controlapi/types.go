package controlapi

import (
	"regexp"
	"strings"
	"time"

	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/store"
)

// slugRegex accepts recipe slugs and branch slugs. We compile it once at
// package initialization.
var slugRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Enrollment is the enrollment resource.
type Enrollment struct {
	Slug               string       `json:"slug"`
	UserFacingName     string       `json:"user_facing_name,omitempty"`
	Branch             string       `json:"branch"`
	Kind               string       `json:"kind"`
	Active             bool         `json:"active"`
	IsFirefoxLabsOptIn bool         `json:"is_firefox_labs_opt_in"`
	Source             string       `json:"source"`
	Features           []string     `json:"features"`
	Prefs              []PrefRecord `json:"prefs"`
	UnenrollReason     string       `json:"unenroll_reason,omitempty"`
	LastSeen           time.Time    `json:"last_seen"`
}

// PrefRecord describes one preference an enrollment controls.
type PrefRecord struct {
	Name          string       `json:"name"`
	Branch        prefs.Branch `json:"branch"`
	FeatureID     string       `json:"feature_id"`
	Variable      string       `json:"variable"`
	OriginalValue any          `json:"original_value"`
}

// OptInRecipe is a staged opt-in recipe the user can enroll in.
type OptInRecipe struct {
	Slug           string   `json:"slug"`
	UserFacingName string   `json:"user_facing_name,omitempty"`
	Branches       []string `json:"branches"`
}

// OptInRequest selects the branch of an opt-in recipe.
type OptInRequest struct {
	Branch string `json:"branch"`
}

// Sanitize trims whitespace.
func (r *OptInRequest) Sanitize() {
	r.Branch = strings.TrimSpace(r.Branch)
}

// Validate checks the branch slug format.
func (r *OptInRequest) Validate() *ErrorResponse {
	if errResp := validateSlug(r.Branch, "branch"); errResp != nil {
		return errResp
	}
	return nil
}

// StudiesRequest toggles studies. Enabled is a pointer so a missing field
// is rejected instead of read as false.
type StudiesRequest struct {
	Enabled *bool `json:"enabled"`
}

// Validate checks that the field is present.
func (r *StudiesRequest) Validate() *ErrorResponse {
	if r.Enabled == nil {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Enabled is required",
			Details: []ErrorDetail{{Field: "enabled", Issue: "missing"}},
		}
	}
	return nil
}

// StudiesResponse reports the studies switch.
type StudiesResponse struct {
	Enabled bool `json:"enabled"`
}

// ListResponse wraps list endpoints.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// validateSlug enforces the format and length rules for slugs.
func validateSlug(slug, field string) *ErrorResponse {
	if slug == "" {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " is required",
		}
	}
	if len(slug) > 255 || !slugRegex.MatchString(slug) {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: field + " must be at most 255 letters, digits, dots, underscores or hyphens",
		}
	}
	return nil
}

func mapEnrollment(e *store.Enrollment) Enrollment {
	recs := make([]PrefRecord, len(e.Prefs))
	for i, p := range e.Prefs {
		recs[i] = PrefRecord{
			Name:          p.Name,
			Branch:        p.Branch,
			FeatureID:     p.FeatureID,
			Variable:      p.Variable,
			OriginalValue: p.OriginalValue,
		}
	}

	return Enrollment{
		Slug:               e.Slug,
		UserFacingName:     e.UserFacingName,
		Branch:             e.Branch.Slug,
		Kind:               e.Kind(),
		Active:             e.Active,
		IsFirefoxLabsOptIn: e.IsFirefoxLabsOptIn,
		Source:             e.Source,
		Features:           e.Branch.FeatureIDs(),
		Prefs:              recs,
		UnenrollReason:     e.UnenrollReason,
		LastSeen:           e.LastSeen,
	}
}

func mapOptInRecipe(r *recipe.Recipe) OptInRecipe {
	branches := make([]string, len(r.Branches))
	for i, b := range r.Branches {
		branches[i] = b.Slug
	}
	return OptInRecipe{
		Slug:           r.Slug,
		UserFacingName: r.UserFacingName,
		Branches:       branches,
	}
}
