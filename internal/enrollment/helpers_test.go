package enrollment_test

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

const testSource = "rs-loader"

var matched = enrollment.CheckResult{Ok: true, Status: enrollment.MatchTargetingAndBucketing}

// recordingRecorder keeps every telemetry call for assertions.
type recordingRecorder struct {
	mu               sync.Mutex
	enrolled         []string
	unenrolled       map[string]enrollment.Cause
	statuses         []enrollment.EnrollmentStatus
	failures         map[string]string
	unenrollFailures map[string]string
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		unenrolled:       make(map[string]enrollment.Cause),
		failures:         make(map[string]string),
		unenrollFailures: make(map[string]string),
	}
}

func (r *recordingRecorder) RecordEnrollment(e *store.Enrollment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enrolled = append(r.enrolled, e.Slug)
}

func (r *recordingRecorder) RecordUnenrollment(e *store.Enrollment, cause enrollment.Cause) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unenrolled[e.Slug] = cause
}

func (r *recordingRecorder) RecordEnrollmentStatus(s enrollment.EnrollmentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recordingRecorder) RecordEnrollmentFailure(slug, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[slug] = reason
}

func (r *recordingRecorder) RecordUnenrollmentFailure(slug, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unenrollFailures[slug] = reason
}

func (r *recordingRecorder) cause(slug string) enrollment.Cause {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unenrolled[slug]
}

func (r *recordingRecorder) lastStatus(slug string) (enrollment.EnrollmentStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.statuses) - 1; i >= 0; i-- {
		if r.statuses[i].Slug == slug {
			return r.statuses[i], true
		}
	}
	return enrollment.EnrollmentStatus{}, false
}

// memoryDB is a Database that survives engine restarts within a test.
type memoryDB struct {
	mu   sync.Mutex
	rows map[string]*store.Enrollment
}

func newMemoryDB() *memoryDB {
	return &memoryDB{rows: make(map[string]*store.Enrollment)}
}

func (d *memoryDB) Upsert(_ context.Context, e *store.Enrollment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[e.Slug] = e.Clone()
	return nil
}

func (d *memoryDB) Deactivate(ctx context.Context, e *store.Enrollment) error {
	return d.Upsert(ctx, e)
}

func (d *memoryDB) LoadAll(context.Context) ([]*store.Enrollment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*store.Enrollment, 0, len(d.rows))
	for _, e := range d.rows {
		out = append(out, e.Clone())
	}
	return out, nil
}

// testRegistry returns the manifest used across the engine tests.
func testRegistry(t *testing.T) *features.Registry {
	t.Helper()

	r := features.NewRegistry()
	for _, f := range []*features.Feature{
		{
			ID: "f1",
			Variables: map[string]features.Variable{
				"enabled": {Type: features.TypeBoolean, SetPref: &features.SetPref{Pref: "test.enabled", Branch: prefs.BranchUser}},
			},
		},
		{
			ID: "f2",
			Variables: map[string]features.Variable{
				"count": {Type: features.TypeInt, SetPref: &features.SetPref{Pref: "test.count", Branch: prefs.BranchDefault}},
				"label": {Type: features.TypeString},
			},
		},
		{
			ID: "shared",
			Variables: map[string]features.Variable{
				"value": {Type: features.TypeInt, SetPref: &features.SetPref{Pref: "shared.value", Branch: prefs.BranchUser}},
			},
		},
		{
			ID: "fjson",
			Variables: map[string]features.Variable{
				"config": {Type: features.TypeJSON, SetPref: &features.SetPref{Pref: "test.json", Branch: prefs.BranchUser}},
			},
		},
		{
			ID:                "coenroll",
			AllowCoenrollment: true,
			Variables: map[string]features.Variable{
				"enabled": {Type: features.TypeBoolean},
			},
		},
	} {
		require.NoError(t, r.Register(f))
	}
	return r
}

type harness struct {
	engine   *enrollment.Engine
	prefs    *prefs.MemoryStore
	store    *store.Store
	recorder *recordingRecorder
}

type harnessOption func(*enrollment.Options)

func withDB(db store.Database) harnessOption {
	return func(o *enrollment.Options) { o.Store = store.New(db) }
}

func withPrefs(p *prefs.MemoryStore) harnessOption {
	return func(o *enrollment.Options) { o.Prefs = p }
}

func withRegistry(r *features.Registry) harnessOption {
	return func(o *enrollment.Options) { o.Features = r }
}

func withUser(id string) harnessOption {
	return func(o *enrollment.Options) { o.Client.UserID = id }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	rec := newRecordingRecorder()
	o := enrollment.Options{
		ID:             "nornir",
		Client:         enrollment.Client{UserID: "user-1", Attributes: map[string]string{"channel": "beta"}},
		Store:          store.New(nil),
		Prefs:          prefs.NewMemoryStore(),
		Features:       testRegistry(t),
		Recorder:       rec,
		Logger:         logger.NewNop(),
		StudiesEnabled: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := enrollment.New(o)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(e.Teardown)

	return &harness{
		engine:   e,
		prefs:    o.Prefs.(*prefs.MemoryStore),
		store:    o.Store,
		recorder: rec,
	}
}

// userPref returns the effective value of name and whether it has a user value.
func (h *harness) userPref(t *testing.T, name string) (any, bool) {
	t.Helper()
	ctx := context.Background()

	v, err := h.prefs.Get(ctx, name, prefs.BranchUser)
	require.NoError(t, err)
	has, err := h.prefs.HasUserValue(ctx, name)
	require.NoError(t, err)
	return v, has
}

func (h *harness) defaultPref(t *testing.T, name string) any {
	t.Helper()
	v, err := h.prefs.Get(context.Background(), name, prefs.BranchDefault)
	require.NoError(t, err)
	return v
}

func (h *harness) setPref(t *testing.T, name string, value any, branch prefs.Branch) {
	t.Helper()
	require.NoError(t, h.prefs.Set(context.Background(), name, value, branch))
}

func fullBucket() recipe.BucketConfig {
	return recipe.BucketConfig{
		RandomizationUnit: recipe.UnitNormandyID,
		Namespace:         "ns",
		Start:             0,
		Count:             1000,
		Total:             1000,
	}
}

func featureConfig(id string, value map[string]any) recipe.FeatureConfig {
	return recipe.FeatureConfig{FeatureID: id, Value: value}
}

// singleBranch builds a recipe whose only branch is "treatment".
func singleBranch(slug string, rollout bool, fcs ...recipe.FeatureConfig) *recipe.Recipe {
	return &recipe.Recipe{
		Slug:         slug,
		Branches:     []recipe.Branch{{Slug: "treatment", Ratio: 1, Features: fcs}},
		BucketConfig: fullBucket(),
		IsRollout:    rollout,
	}
}

// prefFlipsConfig builds a prefFlips feature config from name -> {branch, value}.
func prefFlipsConfig(flips map[string][2]any) recipe.FeatureConfig {
	entries := make(map[string]any, len(flips))
	for name, f := range flips {
		entries[name] = map[string]any{"branch": f[0], "value": f[1]}
	}
	return featureConfig(features.PrefFlipsFeatureID, map[string]any{"prefs": entries})
}
