package syncer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/store"
)

// staticSource serves a fixed batch that tests can swap between runs.
type staticSource struct {
	mu      sync.Mutex
	name    string
	recipes []*recipe.Recipe
	err     error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Fetch(context.Context) ([]*recipe.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	// Fresh copies: validation compiles targeting rules in place.
	out := make([]*recipe.Recipe, len(s.recipes))
	for i, r := range s.recipes {
		c := *r
		c.Targeting = append(c.Targeting[:0:0], r.Targeting...)
		out[i] = &c
	}
	return out, nil
}

func (s *staticSource) set(recipes []*recipe.Recipe, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipes = recipes
	s.err = err
}

func testRegistry(t *testing.T) *features.Registry {
	t.Helper()

	r := features.NewRegistry()
	require.NoError(t, r.Register(&features.Feature{
		ID: "f1",
		Variables: map[string]features.Variable{
			"enabled": {Type: features.TypeBoolean, SetPref: &features.SetPref{Pref: "test.enabled", Branch: prefs.BranchUser}},
		},
	}))
	require.NoError(t, r.Register(&features.Feature{
		ID:                "coenroll",
		AllowCoenrollment: true,
		Variables: map[string]features.Variable{
			"enabled": {Type: features.TypeBoolean},
		},
	}))
	return r
}

func newEngine(t *testing.T, registry *features.Registry, p *prefs.MemoryStore) *enrollment.Engine {
	t.Helper()

	e := enrollment.New(enrollment.Options{
		ID:             "nornir",
		Client:         enrollment.Client{UserID: "user-1", Attributes: map[string]string{"channel": "beta"}},
		Store:          store.New(nil),
		Prefs:          p,
		Features:       registry,
		Logger:         logger.NewNop(),
		StudiesEnabled: true,
	})
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(e.Teardown)
	return e
}

func bucket(start, count int) recipe.BucketConfig {
	return recipe.BucketConfig{
		RandomizationUnit: recipe.UnitNormandyID,
		Namespace:         "ns",
		Start:             start,
		Count:             count,
		Total:             1000,
	}
}

func newRecipe(slug string, fcs ...recipe.FeatureConfig) *recipe.Recipe {
	return &recipe.Recipe{
		Slug:         slug,
		Branches:     []recipe.Branch{{Slug: "treatment", Ratio: 1, Features: fcs}},
		BucketConfig: bucket(0, 1000),
	}
}
