package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/store"
)

// PrefWrite is a preference assignment queued by an enrollment.
type PrefWrite struct {
	Name   string
	Value  any
	Branch prefs.Branch
}

// Effects are the preference side effects of enrolling in a branch.
type Effects struct {
	// Prefs lists every pref the enrollment controls, including the ones
	// it loses to a higher priority enrollment.
	Prefs []store.PrefRecord

	// PrefsToSet lists the writes to perform now.
	PrefsToSet []PrefWrite
}

func (fx *Effects) names() []string {
	names := make([]string, 0, len(fx.PrefsToSet))
	for _, w := range fx.PrefsToSet {
		names = append(names, w.Name)
	}
	return names
}

// adopt replaces original values with the ones handed back by unenrolled
// pref-flip owners.
func (fx *Effects) adopt(originals map[string]any) {
	for i := range fx.Prefs {
		if v, ok := originals[fx.Prefs[i].Name]; ok {
			fx.Prefs[i].OriginalValue = v
		}
	}
}

// computeEffects resolves the pref-setting variables of branch.
// A rollout never writes a pref an active experiment already controls.
func (e *Engine) computeEffects(ctx context.Context, branch *recipe.Branch, isRollout bool) (*Effects, error) {
	fx := &Effects{}

	// Opposite-kind enrollment per feature, looked up once per call.
	conflicts := make(map[string]*store.Enrollment)
	conflictFor := func(featureID string) *store.Enrollment {
		if c, ok := conflicts[featureID]; ok {
			return c
		}
		var c *store.Enrollment
		if isRollout {
			c = e.store.GetExperimentForFeature(featureID)
		} else {
			c = e.store.GetRolloutForFeature(featureID)
		}
		conflicts[featureID] = c
		return c
	}

	for _, fc := range branch.Features {
		if fc.FeatureID == features.PrefFlipsFeatureID {
			continue
		}

		feature, err := e.features.Get(fc.FeatureID)
		if err != nil {
			continue
		}

		variables := make([]string, 0, len(fc.Value))
		for name := range fc.Value {
			variables = append(variables, name)
		}
		slices.Sort(variables)

		for _, variable := range variables {
			def, ok := feature.Variables[variable]
			if !ok || def.SetPref == nil {
				continue
			}
			name, prefBranch := def.SetPref.Pref, def.SetPref.Branch

			var conflicting *store.PrefRecord
			if c := conflictFor(fc.FeatureID); c != nil {
				if rec, ok := c.Pref(name); ok {
					conflicting = rec
				}
			}

			original, err := e.originalValue(ctx, name, prefBranch, conflicting)
			if err != nil {
				return nil, err
			}

			fx.Prefs = append(fx.Prefs, store.PrefRecord{
				Name:          name,
				Branch:        prefBranch,
				FeatureID:     fc.FeatureID,
				Variable:      variable,
				OriginalValue: original,
			})

			if isRollout && conflicting != nil {
				continue
			}

			value, err := prefValue(def, fc.Value[variable])
			if err != nil {
				return nil, fmt.Errorf("feature %s variable %s: %w", fc.FeatureID, variable, err)
			}
			fx.PrefsToSet = append(fx.PrefsToSet, PrefWrite{Name: name, Value: value, Branch: prefBranch})
		}
	}

	return fx, nil
}

// originalValue finds the value to restore once the enrollment ends. The
// live store is read last because it may already hold another enrollment's
// override.
func (e *Engine) originalValue(ctx context.Context, name string, branch prefs.Branch, conflicting *store.PrefRecord) (any, error) {
	if conflicting != nil {
		return conflicting.OriginalValue, nil
	}

	if branch == prefs.BranchUser {
		has, err := e.prefs.HasUserValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		if !has {
			return nil, nil
		}
	}

	if v, ok := e.flips.originalValue(name, branch); ok {
		return v, nil
	}

	v, err := e.prefs.Get(ctx, name, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return prefs.Normalize(v), nil
}

// desiredValue is the value enr wants for rec's pref, derived from its branch.
func (e *Engine) desiredValue(enr *store.Enrollment, rec *store.PrefRecord) (any, bool) {
	fc, ok := enr.Branch.Feature(rec.FeatureID)
	if !ok {
		return nil, false
	}
	raw, ok := fc.Value[rec.Variable]
	if !ok {
		return nil, false
	}
	feature, err := e.features.Get(rec.FeatureID)
	if err != nil {
		return nil, false
	}
	value, err := prefValue(feature.Variables[rec.Variable], raw)
	if err != nil {
		return nil, false
	}
	return value, true
}

// prefValue converts a feature variable value into a preference value.
// JSON variables are stored as their serialized string.
func prefValue(def features.Variable, raw any) (any, error) {
	if def.Type == features.TypeJSON {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize json variable: %w", err)
		}
		return string(data), nil
	}
	return prefs.Normalize(raw), nil
}
