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

// prefFlipsVariable is the variable of the prefFlips feature holding the prefs.
const prefFlipsVariable = "prefs"

// prefFlip is one preference set directly by a prefFlips branch.
type prefFlip struct {
	Branch prefs.Branch `json:"branch"`
	Value  any          `json:"value"`
}

// parsePrefFlips decodes {"prefs": {"<name>": {"branch": ..., "value": ...}}}.
func parsePrefFlips(fc *recipe.FeatureConfig) (map[string]prefFlip, error) {
	raw, ok := fc.Value[prefFlipsVariable]
	if !ok {
		return nil, fmt.Errorf("%w: prefFlips config has no %q", ErrInvalidFeature, prefFlipsVariable)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFeature, err)
	}

	var flips map[string]prefFlip
	if err := json.Unmarshal(data, &flips); err != nil {
		return nil, fmt.Errorf("%w: malformed prefFlips config: %w", ErrInvalidFeature, err)
	}

	for name, flip := range flips {
		if !flip.Branch.Valid() {
			return nil, fmt.Errorf("%w: pref %s has unknown branch %q", ErrInvalidFeature, name, flip.Branch)
		}
		switch v := prefs.Normalize(flip.Value).(type) {
		case nil, bool, int, float64, string:
			flip.Value = v
			flips[name] = flip
		default:
			return nil, fmt.Errorf("%w: pref %s has unsupported value type %T", ErrInvalidFeature, name, flip.Value)
		}
	}

	return flips, nil
}

// prefFlips coordinates enrollments that set raw prefs with the feature
// enrollments that set prefs through setPref variables. Whichever kind is
// being enrolled wins; the owners it displaces are unenrolled and hand over
// their original values. All methods run under the engine lock.
type prefFlips struct {
	engine *Engine
}

// owners returns the active prefFlips enrollments that set name.
func (p *prefFlips) owners(name string) []*store.Enrollment {
	var out []*store.Enrollment
	for _, slug := range p.engine.ledger.SlugsFor(name) {
		enr := p.engine.store.Get(slug)
		if enr == nil || !enr.Active {
			continue
		}
		if rec, ok := enr.Pref(name); ok && rec.FeatureID == features.PrefFlipsFeatureID {
			out = append(out, enr)
		}
	}
	return out
}

// originalValue returns the original value recorded by a prefFlips
// enrollment that owns name on branch.
func (p *prefFlips) originalValue(name string, branch prefs.Branch) (any, bool) {
	for _, enr := range p.owners(name) {
		if rec, _ := enr.Pref(name); rec.Branch == branch {
			return rec.OriginalValue, true
		}
	}
	return nil, false
}

// handleSetPrefConflict unenrolls the prefFlips enrollments owning any of
// names before a feature enrollment (slug) writes them, and returns their
// original values.
func (p *prefFlips) handleSetPrefConflict(ctx context.Context, slug string, names []string) map[string]any {
	originals := make(map[string]any)
	skip := make(map[string]struct{}, len(names))
	var conflicting []*store.Enrollment

	for _, name := range names {
		skip[name] = struct{}{}
		for _, enr := range p.owners(name) {
			rec, _ := enr.Pref(name)
			if _, ok := originals[name]; !ok {
				originals[name] = rec.OriginalValue
			}
			if !containsSlug(conflicting, enr.Slug) {
				conflicting = append(conflicting, enr)
			}
		}
	}

	for _, enr := range conflicting {
		p.engine.unenroll(ctx, enr, Cause{
			Reason:          ReasonPrefFlipsConflict,
			ConflictingSlug: slug,
		}, unenrollOptions{skipRestore: skip})
	}

	return originals
}

// enroll prepares the prefFlips enrollment slug. Feature enrollments and
// disagreeing prefFlips enrollments owning one of the prefs are unenrolled;
// agreeing prefFlips enrollments keep running and share their original value.
func (p *prefFlips) enroll(ctx context.Context, slug string, flips map[string]prefFlip) ([]store.PrefRecord, []PrefWrite, error) {
	e := p.engine

	names := make([]string, 0, len(flips))
	for name := range flips {
		names = append(names, name)
	}
	slices.Sort(names)

	skip := make(map[string]struct{}, len(names))
	originals := make(map[string]any)
	var displaced []*store.Enrollment

	for _, name := range names {
		skip[name] = struct{}{}
		flip := flips[name]

		for _, owner := range e.ledger.SlugsFor(name) {
			enr := e.store.Get(owner)
			if enr == nil || !enr.Active || enr.Slug == slug {
				continue
			}
			rec, ok := enr.Pref(name)
			if !ok {
				continue
			}

			if _, ok := originals[name]; !ok {
				originals[name] = rec.OriginalValue
			}

			if rec.FeatureID == features.PrefFlipsFeatureID && p.agrees(enr, name, flip) {
				continue
			}
			if !containsSlug(displaced, enr.Slug) {
				displaced = append(displaced, enr)
			}
		}
	}

	for _, enr := range displaced {
		e.unenroll(ctx, enr, Cause{
			Reason:          ReasonPrefFlipsConflict,
			ConflictingSlug: slug,
		}, unenrollOptions{skipRestore: skip})
	}

	records := make([]store.PrefRecord, 0, len(names))
	writes := make([]PrefWrite, 0, len(names))

	for _, name := range names {
		flip := flips[name]

		original, ok := originals[name]
		if !ok {
			var err error
			original, err = e.originalValue(ctx, name, flip.Branch, nil)
			if err != nil {
				return nil, nil, err
			}
		}

		records = append(records, store.PrefRecord{
			Name:          name,
			Branch:        flip.Branch,
			FeatureID:     features.PrefFlipsFeatureID,
			Variable:      prefFlipsVariable,
			OriginalValue: original,
		})
		writes = append(writes, PrefWrite{Name: name, Value: flip.Value, Branch: flip.Branch})
	}

	return records, writes, nil
}

// agrees reports whether enr sets name to the same value on the same branch.
func (p *prefFlips) agrees(enr *store.Enrollment, name string, flip prefFlip) bool {
	theirs, ok := desiredFlip(enr, name)
	if !ok {
		return false
	}
	return theirs.Branch == flip.Branch && prefs.Equal(theirs.Value, flip.Value)
}

// restore writes back the original value of a prefFlips record once no
// other enrollment sets the pref.
func (p *prefFlips) restore(ctx context.Context, rec *store.PrefRecord) {
	if p.engine.ledger.Has(rec.Name) {
		return
	}
	p.engine.writePref(ctx, rec.Name, rec.OriginalValue, rec.Branch)
}

// desiredFlip returns the flip enr's branch configures for name.
func desiredFlip(enr *store.Enrollment, name string) (prefFlip, bool) {
	fc, ok := enr.Branch.Feature(features.PrefFlipsFeatureID)
	if !ok {
		return prefFlip{}, false
	}
	flips, err := parsePrefFlips(fc)
	if err != nil {
		return prefFlip{}, false
	}
	flip, ok := flips[name]
	return flip, ok
}

func containsSlug(list []*store.Enrollment, slug string) bool {
	for _, enr := range list {
		if enr.Slug == slug {
			return true
		}
	}
	return false
}
