// Package features holds the feature manifest registry: which features exist,
// which of their variables are backed by preferences, and whether several
// enrollments may configure the same feature at once.
package features

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rafaeljc/nornir/internal/prefs"
)

// PrefFlipsFeatureID is the reserved feature whose configuration sets raw
// preferences directly.
const PrefFlipsFeatureID = "prefFlips"

// Variable types.
const (
	TypeBoolean = "boolean"
	TypeInt     = "int"
	TypeString  = "string"
	TypeJSON    = "json"
)

// featureIDPattern matches manifest keys such as "newtab" or "prefFlips".
var featureIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("featureid", func(fl validator.FieldLevel) bool {
		return featureIDPattern.MatchString(fl.Field().String())
	})
	return v
}

var (
	// ErrUnknownFeature is returned by Get for an unregistered feature.
	ErrUnknownFeature = errors.New("unknown feature")

	// ErrInvalidManifest is returned when a manifest entry is malformed.
	ErrInvalidManifest = errors.New("invalid feature manifest")
)

// SetPref maps a feature variable onto a preference.
// In a manifest it is either a bare pref name (default branch) or a mapping
// with "pref" and "branch".
type SetPref struct {
	Pref   string       `yaml:"pref" json:"pref"`
	Branch prefs.Branch `yaml:"branch" json:"branch"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (s *SetPref) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Pref = node.Value
		s.Branch = prefs.BranchDefault
		return nil
	}

	type raw SetPref
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	if r.Branch == "" {
		r.Branch = prefs.BranchDefault
	}
	*s = SetPref(r)
	return nil
}

// Variable describes one configurable value of a feature.
type Variable struct {
	Type        string   `yaml:"type" json:"type"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	SetPref     *SetPref `yaml:"setPref,omitempty" json:"setPref,omitempty"`
}

// Feature is a manifest entry.
type Feature struct {
	ID                string              `yaml:"-" json:"id" validate:"required,max=255,featureid"`
	Description       string              `yaml:"description" json:"description"`
	AllowCoenrollment bool                `yaml:"allowCoenrollment" json:"allowCoenrollment"`
	Variables         map[string]Variable `yaml:"variables" json:"variables"`
}

// Validate checks the id, variable types and pref mappings.
func (f *Feature) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: feature %q: %w", ErrInvalidManifest, f.ID, err)
	}
	for name, v := range f.Variables {
		switch v.Type {
		case TypeBoolean, TypeInt, TypeString, TypeJSON:
		default:
			return fmt.Errorf("%w: %s.%s has unknown type %q", ErrInvalidManifest, f.ID, name, v.Type)
		}
		if v.SetPref == nil {
			continue
		}
		if v.SetPref.Pref == "" {
			return fmt.Errorf("%w: %s.%s has an empty setPref", ErrInvalidManifest, f.ID, name)
		}
		if !v.SetPref.Branch.Valid() {
			return fmt.Errorf("%w: %s.%s has unknown pref branch %q", ErrInvalidManifest, f.ID, name, v.SetPref.Branch)
		}
	}
	return nil
}

// Registry is the set of known features. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// NewRegistry returns a registry holding only the reserved prefFlips feature.
func NewRegistry() *Registry {
	r := &Registry{features: make(map[string]*Feature)}
	r.features[PrefFlipsFeatureID] = &Feature{
		ID:                PrefFlipsFeatureID,
		Description:       "Set arbitrary preferences",
		AllowCoenrollment: true,
		Variables: map[string]Variable{
			"prefs": {Type: TypeJSON},
		},
	}
	return r
}

// Register adds or replaces f.
func (r *Registry) Register(f *Feature) error {
	if f == nil || f.ID == "" {
		return fmt.Errorf("%w: feature id is required", ErrInvalidManifest)
	}
	if f.ID == PrefFlipsFeatureID {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidManifest, PrefFlipsFeatureID)
	}
	if err := f.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.features[f.ID] = f
	return nil
}

// Get returns the feature with the given id.
func (r *Registry) Get(id string) (*Feature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.features[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, id)
	}
	return f, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.features[id]
	return ok
}

// IDs returns every registered feature id, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.features))
	for id := range r.features {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load registers every feature of a YAML manifest:
//
//	myFeature:
//	  allowCoenrollment: false
//	  variables:
//	    enabled:
//	      type: boolean
//	      setPref:
//	        pref: browser.my-feature.enabled
//	        branch: user
func (r *Registry) Load(in io.Reader) error {
	manifest := make(map[string]*Feature)
	if err := yaml.NewDecoder(in).Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode feature manifest: %w", err)
	}

	for id, f := range manifest {
		if f == nil {
			return fmt.Errorf("%w: feature %q has no body", ErrInvalidManifest, id)
		}
		f.ID = id
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers every feature of the manifest at path.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open feature manifest: %w", err)
	}
	defer f.Close()

	return r.Load(f)
}
