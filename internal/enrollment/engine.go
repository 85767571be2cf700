// Package enrollment implements the enrollment engine: it decides which
// recipes the client takes part in, applies the preference overrides of the
// chosen branches, and reverses them on unenrollment.
//
// Every public transition runs under a single mutex, so the engine behaves as
// one cooperative control thread. Preference observers re-enter the engine
// through onPrefChanged; notifications for a preference the engine is
// writing itself are suppressed by the ledger guard.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rafaeljc/nornir/internal/features"
	"github.com/rafaeljc/nornir/internal/ledger"
	"github.com/rafaeljc/nornir/internal/logger"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/recipe"
	"github.com/rafaeljc/nornir/internal/sampling"
	"github.com/rafaeljc/nornir/internal/store"
	"github.com/rafaeljc/nornir/internal/targeting"
	"github.com/rafaeljc/nornir/internal/validation"
)

// Client identifies the client being enrolled.
type Client struct {
	// UserID is the normandy_id randomization unit.
	UserID string

	// GroupID is the group_id randomization unit.
	GroupID string

	Attributes map[string]string
}

// Options configures an Engine.
type Options struct {
	// ID is mixed into branch selection.
	ID     string
	Client Client

	Store    *store.Store
	Prefs    prefs.Store
	Features *features.Registry

	// Recorder defaults to NopRecorder.
	Recorder Recorder

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	StudiesEnabled bool
}

// EnrollOptions tunes a single enrollment.
type EnrollOptions struct {
	// Reenroll allows replacing an inactive enrollment with the same slug.
	Reenroll bool

	// BranchSlug selects the branch of an opt-in recipe.
	BranchSlug string
}

// stagedRecipe is an opt-in recipe waiting for the user.
type stagedRecipe struct {
	recipe *recipe.Recipe
	source string
}

// Engine is the enrollment state machine. Construct one per process.
type Engine struct {
	mu sync.Mutex

	id       string
	client   Client
	store    *store.Store
	prefs    prefs.Store
	features *features.Registry
	ledger   *ledger.Ledger
	recorder Recorder
	logger   *slog.Logger
	flips    *prefFlips

	// observers holds the pref observer installed per tracked pref name.
	observers map[string]prefs.ObserverID

	optIns         []stagedRecipe
	studiesEnabled bool

	// baseCtx is used for work triggered by pref observers.
	baseCtx context.Context
	now     func() time.Time
}

// New creates an Engine. Store, Prefs and Features are mandatory.
func New(opts Options) *Engine {
	validation.AssertNotNil(opts.Store, "enrollment: store")
	validation.AssertNotNil(opts.Features, "enrollment: features registry")
	validation.Require(opts.Prefs != nil, "enrollment: pref store cannot be nil")

	recorder := opts.Recorder
	if recorder == nil {
		recorder = NopRecorder{}
	}

	e := &Engine{
		id:             opts.ID,
		client:         opts.Client,
		store:          opts.Store,
		prefs:          opts.Prefs,
		features:       opts.Features,
		ledger:         ledger.New(),
		recorder:       recorder,
		logger:         logger.Component(opts.Logger, "engine"),
		observers:      make(map[string]prefs.ObserverID),
		studiesEnabled: opts.StudiesEnabled,
		baseCtx:        context.Background(),
		now:            time.Now,
	}
	e.flips = &prefFlips{engine: e}
	return e
}

// ID returns the engine identifier used for branch selection.
func (e *Engine) ID() string {
	return e.id
}

// Client returns the client the engine enrolls.
func (e *Engine) Client() Client {
	c := e.client
	c.Attributes = maps.Clone(e.client.Attributes)
	return c
}

// Get returns the enrollment for slug, or nil.
func (e *Engine) Get(slug string) *store.Enrollment {
	return e.store.Get(slug)
}

// Enrollments returns every enrollment ordered by slug.
func (e *Engine) Enrollments() []*store.Enrollment {
	return e.store.GetAll()
}

// StudiesEnabled reports whether the engine currently enrolls.
func (e *Engine) StudiesEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.studiesEnabled
}

// OnRecipe processes one recipe delivered by a recipe source.
// Errors are local to the recipe: callers log them and continue.
func (e *Engine) OnRecipe(ctx context.Context, r *recipe.Recipe, source string, result CheckResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.studiesEnabled {
		e.logger.Debug("studies disabled, ignoring recipe", slog.String("slug", r.Slug))
		return nil
	}

	existing := e.store.Get(r.Slug)

	if r.IsFirefoxLabsOptIn && (existing == nil || !existing.Active) {
		if result.Targeted() {
			e.stageOptIn(r, source)
		} else {
			e.unstageOptIn(r.Slug)
		}
		return nil
	}

	if existing != nil {
		_, err := e.updateEnrollment(ctx, existing, r, source, result)
		return err
	}

	if !result.Ok {
		e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
			Slug:   r.Slug,
			Status: StatusNotEnrolled,
			Reason: StatusReasonError,
			Error:  string(result.Reason),
		})
		return nil
	}

	switch result.Status {
	case MatchTargetingAndBucketing:
		_, err := e.enroll(ctx, r, source, EnrollOptions{})
		return err
	case MatchNoMatch:
		e.recordNotEnrolled(r.Slug, StatusReasonNotTargeted)
	case MatchTargetingOnly:
		e.recordNotEnrolled(r.Slug, StatusReasonNotSelected)
	case MatchEnrollmentPaused:
		e.recordNotEnrolled(r.Slug, StatusReasonEnrollmentsPaused)
	}
	return nil
}

// Enroll enrolls the client in r. It returns the new enrollment, or an error
// wrapping ErrNameConflict, ErrFeatureConflict, ErrInvalidBranch,
// features.ErrUnknownFeature or sampling.ErrInvalidRatios.
func (e *Engine) Enroll(ctx context.Context, r *recipe.Recipe, source string, opts EnrollOptions) (*store.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.studiesEnabled {
		return nil, ErrStudiesDisabled
	}
	return e.enroll(ctx, r, source, opts)
}

func (e *Engine) enroll(ctx context.Context, r *recipe.Recipe, source string, opts EnrollOptions) (*store.Enrollment, error) {
	if existing := e.store.Get(r.Slug); existing != nil {
		if existing.Active ||
			(!existing.IsRollout && !opts.Reenroll) ||
			(!r.IsFirefoxLabsOptIn && existing.IsRollout && !opts.Reenroll) {
			e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
				Slug:         r.Slug,
				Status:       StatusNotEnrolled,
				Reason:       StatusReasonNameConflict,
				ConflictSlug: existing.Slug,
			})
			e.recorder.RecordEnrollmentFailure(r.Slug, FailureNameConflict)
			return nil, fmt.Errorf("%w: %s", ErrNameConflict, r.Slug)
		}
	}

	branch, err := e.selectBranch(r, opts.BranchSlug)
	if err != nil {
		reason := FailureInvalidBranch
		if errors.Is(err, sampling.ErrInvalidRatios) {
			reason = FailureInvalidRatios
		}
		e.recorder.RecordEnrollmentFailure(r.Slug, reason)
		return nil, err
	}

	for _, fc := range branch.Features {
		feature, err := e.features.Get(fc.FeatureID)
		if err != nil {
			e.recorder.RecordEnrollmentFailure(r.Slug, FailureInvalidFeature)
			return nil, err
		}
		if feature.AllowCoenrollment {
			continue
		}

		var conflict *store.Enrollment
		if r.IsRollout {
			conflict = e.store.GetRolloutForFeature(fc.FeatureID)
		} else {
			conflict = e.store.GetExperimentForFeature(fc.FeatureID)
		}
		if conflict != nil {
			e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
				Slug:         r.Slug,
				Status:       StatusNotEnrolled,
				Reason:       StatusReasonFeatureConflict,
				ConflictSlug: conflict.Slug,
			})
			e.recorder.RecordEnrollmentFailure(r.Slug, FailureFeatureConflict)
			return nil, fmt.Errorf("%w: feature %s is already configured by %s", ErrFeatureConflict, fc.FeatureID, conflict.Slug)
		}
	}

	effects, err := e.computeEffects(ctx, branch, r.IsRollout)
	if err != nil {
		e.recorder.RecordEnrollmentFailure(r.Slug, FailurePrefStore)
		return nil, err
	}

	if len(effects.PrefsToSet) > 0 {
		originals := e.flips.handleSetPrefConflict(ctx, r.Slug, effects.names())
		effects.adopt(originals)
	}

	if fc, ok := branch.Feature(features.PrefFlipsFeatureID); ok {
		flips, err := parsePrefFlips(fc)
		if err != nil {
			e.recorder.RecordEnrollmentFailure(r.Slug, FailureInvalidFeature)
			return nil, err
		}

		records, writes, err := e.flips.enroll(ctx, r.Slug, flips)
		if err != nil {
			e.recorder.RecordEnrollmentFailure(r.Slug, FailurePrefStore)
			return nil, err
		}
		effects.Prefs = append(effects.Prefs, records...)
		effects.PrefsToSet = append(effects.PrefsToSet, writes...)
	}

	enr := &store.Enrollment{
		Slug:               r.Slug,
		UserFacingName:     r.UserFacingName,
		Branch:             *branch,
		Active:             true,
		IsRollout:          r.IsRollout,
		IsFirefoxLabsOptIn: r.IsFirefoxLabsOptIn,
		Source:             source,
		Prefs:              effects.Prefs,
		LastSeen:           e.now(),
	}

	if err := e.store.AddEnrollment(ctx, enr); err != nil {
		e.logger.Warn("failed to persist enrollment", slog.String("slug", r.Slug), slog.String("error", err.Error()))
	}

	for _, w := range effects.PrefsToSet {
		e.writePref(ctx, w.Name, w.Value, w.Branch)
	}
	for _, rec := range enr.Prefs {
		e.track(rec.Name, enr.Slug)
	}

	e.recorder.RecordEnrollment(enr)

	reason := StatusReasonQualified
	if r.IsFirefoxLabsOptIn {
		reason = StatusReasonOptIn
	}
	e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
		Slug:   enr.Slug,
		Branch: enr.Branch.Slug,
		Status: StatusEnrolled,
		Reason: reason,
	})

	e.logger.Info("enrolled",
		slog.String("slug", enr.Slug),
		slog.String("branch", enr.Branch.Slug),
		slog.String("kind", enr.Kind()),
	)

	return enr.Clone(), nil
}

// BranchInput is the sampling input that picks the branch of slug for userID.
func BranchInput(engineID, userID, slug string) string {
	return fmt.Sprintf("%s-%s-%s-branch", engineID, userID, slug)
}

func (e *Engine) selectBranch(r *recipe.Recipe, branchSlug string) (*recipe.Branch, error) {
	if r.IsFirefoxLabsOptIn {
		if branchSlug == "" {
			return nil, fmt.Errorf("%w: opt-in recipe %s requires a branch", ErrInvalidBranch, r.Slug)
		}
		b, ok := r.Branch(branchSlug)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no branch %q", ErrInvalidBranch, r.Slug, branchSlug)
		}
		return b, nil
	}

	idx, err := sampling.ChooseBranch(BranchInput(e.id, e.client.UserID, r.Slug), r.Ratios())
	if err != nil {
		return nil, err
	}
	return &r.Branches[idx], nil
}

// Finalize ends a sync run of source: active enrollments from source whose
// recipe was not seen are unenrolled, and unseen opt-in recipes are unstaged.
func (e *Engine) Finalize(ctx context.Context, source string, seen []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seenSet := make(map[string]struct{}, len(seen))
	for _, slug := range seen {
		seenSet[slug] = struct{}{}
	}

	for _, enr := range e.store.GetAll() {
		if !enr.Active || enr.Source != source {
			continue
		}
		if _, ok := seenSet[enr.Slug]; ok {
			continue
		}
		_, _ = e.updateEnrollment(ctx, enr, nil, source, CheckResult{Ok: true, Status: MatchNotSeen})
	}

	kept := e.optIns[:0]
	for _, staged := range e.optIns {
		_, ok := seenSet[staged.recipe.Slug]
		if ok || staged.source != source {
			kept = append(kept, staged)
		}
	}
	e.optIns = kept
}

// OptIn enrolls the client in a staged opt-in recipe on the given branch.
func (e *Engine) OptIn(ctx context.Context, slug, branchSlug string) (*store.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.studiesEnabled {
		return nil, ErrStudiesDisabled
	}

	for _, staged := range e.optIns {
		if staged.recipe.Slug != slug {
			continue
		}
		existing := e.store.Get(slug)
		return e.enroll(ctx, staged.recipe, staged.source, EnrollOptions{
			BranchSlug: branchSlug,
			Reenroll:   existing != nil && !existing.Active,
		})
	}

	return nil, fmt.Errorf("%w: no opt-in recipe %q", ErrDoesNotExist, slug)
}

// OptInRecipes returns the staged opt-in recipes the client is not enrolled in.
func (e *Engine) OptInRecipes() []*recipe.Recipe {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*recipe.Recipe, 0, len(e.optIns))
	for _, staged := range e.optIns {
		if enr := e.store.Get(staged.recipe.Slug); enr != nil && enr.Active {
			continue
		}
		out = append(out, staged.recipe)
	}
	return out
}

func (e *Engine) stageOptIn(r *recipe.Recipe, source string) {
	for i := range e.optIns {
		if e.optIns[i].recipe.Slug == r.Slug {
			e.optIns[i] = stagedRecipe{recipe: r, source: source}
			return
		}
	}
	e.optIns = append(e.optIns, stagedRecipe{recipe: r, source: source})
}

// unstageOptIn drops a staged opt-in recipe the client is no longer
// targeted by.
func (e *Engine) unstageOptIn(slug string) {
	e.optIns = slices.DeleteFunc(e.optIns, func(staged stagedRecipe) bool {
		return staged.recipe.Slug == slug
	})
}

// SetStudiesEnabled toggles enrollment. Turning studies off unenrolls every
// active enrollment and drops the staged opt-in recipes.
func (e *Engine) SetStudiesEnabled(ctx context.Context, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.studiesEnabled = enabled
	if enabled {
		return
	}

	for _, enr := range e.store.GetAll() {
		if enr.Active {
			e.unenroll(ctx, enr, Cause{Reason: ReasonStudiesOptOut}, unenrollOptions{})
		}
	}
	e.optIns = nil
}

// TargetingContext builds the targeting snapshot of the client.
func (e *Engine) TargetingContext() targeting.Context {
	tc := targeting.Context{
		UserID:              e.client.UserID,
		GroupID:             e.client.GroupID,
		Attributes:          maps.Clone(e.client.Attributes),
		ActiveExperiments:   []string{},
		ActiveRollouts:      []string{},
		PreviousExperiments: []string{},
		PreviousRollouts:    []string{},
		Enrollments:         make(map[string]string),
	}

	for _, enr := range e.store.GetAll() {
		tc.Enrollments[enr.Slug] = enr.Branch.Slug
		switch {
		case enr.Active && enr.IsRollout:
			tc.ActiveRollouts = append(tc.ActiveRollouts, enr.Slug)
		case enr.Active:
			tc.ActiveExperiments = append(tc.ActiveExperiments, enr.Slug)
		case enr.IsRollout:
			tc.PreviousRollouts = append(tc.PreviousRollouts, enr.Slug)
		default:
			tc.PreviousExperiments = append(tc.PreviousExperiments, enr.Slug)
		}
	}

	return tc
}

// FeatureValue is the configuration a feature receives from its enrollment.
type FeatureValue struct {
	FeatureID string         `json:"featureId"`
	Slug      string         `json:"slug"`
	Branch    string         `json:"branch"`
	IsRollout bool           `json:"isRollout"`
	Value     map[string]any `json:"value"`
}

// FeatureValue returns the value of featureID. An active experiment wins
// over an active rollout.
func (e *Engine) FeatureValue(featureID string) (*FeatureValue, bool) {
	enr := e.store.GetExperimentForFeature(featureID)
	if enr == nil {
		enr = e.store.GetRolloutForFeature(featureID)
	}
	if enr == nil {
		return nil, false
	}

	fc, _ := enr.Branch.Feature(featureID)
	return &FeatureValue{
		FeatureID: featureID,
		Slug:      enr.Slug,
		Branch:    enr.Branch.Slug,
		IsRollout: enr.IsRollout,
		Value:     maps.Clone(fc.Value),
	}, true
}

func (e *Engine) recordNotEnrolled(slug, reason string) {
	e.recorder.RecordEnrollmentStatus(EnrollmentStatus{
		Slug:   slug,
		Status: StatusNotEnrolled,
		Reason: reason,
	})
}

// writePref writes a preference with its guard raised, so the engine's own
// write does not look like an external change.
func (e *Engine) writePref(ctx context.Context, name string, value any, branch prefs.Branch) {
	err := e.ledger.Guard(name, func() error {
		return e.prefs.Set(ctx, name, value, branch)
	})
	if err != nil {
		e.logger.Error("failed to write pref",
			slog.String("pref", name),
			slog.String("branch", string(branch)),
			slog.String("error", err.Error()),
		)
	}
}

// track records slug as an owner of name and installs the pref observer on
// the first owner.
func (e *Engine) track(name, slug string) {
	if e.ledger.Track(name, slug) {
		e.observers[name] = e.prefs.AddObserver(name, e.onPrefChanged)
	}
}

// untrack removes slug from the owners of name and removes the observer
// with the last owner.
func (e *Engine) untrack(name, slug string) {
	if e.ledger.Untrack(name, slug) {
		return
	}
	if id, ok := e.observers[name]; ok {
		e.prefs.RemoveObserver(name, id)
		delete(e.observers, name)
	}
}
