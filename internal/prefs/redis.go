package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/nornir/internal/cache"
	"github.com/rafaeljc/nornir/internal/observability"
	"github.com/rafaeljc/nornir/internal/validation"
)

// Compile-time check to verify that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// cachedValue is the L1 entry for one branch of one preference.
// present distinguishes "no value" from a cached nil.
type cachedValue struct {
	value   any
	present bool
}

// changeEvent is the Pub/Sub payload announcing a preference write.
type changeEvent struct {
	Origin string `json:"origin"`
	Name   string `json:"name"`
}

// RedisStore keeps preferences in Redis so several processes share them.
// Reads go through an L1 memory cache; writes are announced on Pub/Sub and
// events published by other processes invalidate the L1 entry and fire the
// local observers.
type RedisStore struct {
	logger *slog.Logger
	redis  cache.Service
	l1     *cache.MemoryCache[cachedValue]
	origin string

	mu        sync.Mutex
	observers map[string]map[ObserverID]ObserverFunc
	nextID    ObserverID
}

// NewRedisStore creates a Redis-backed preference store.
// Call Run to start receiving changes made by other processes.
func NewRedisStore(logger *slog.Logger, svc cache.Service, l1 *cache.MemoryCache[cachedValue]) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	validation.Require(svc != nil, "prefs: redis cache service cannot be nil")
	validation.Require(l1 != nil, "prefs: l1 cache cannot be nil")

	return &RedisStore{
		logger:    logger,
		redis:     svc,
		l1:        l1,
		origin:    uuid.NewString(),
		observers: make(map[string]map[ObserverID]ObserverFunc),
	}
}

// NewL1Cache builds the memory cache RedisStore expects.
func NewL1Cache(capacity int, ttl time.Duration) (*cache.MemoryCache[cachedValue], error) {
	return cache.NewMemoryCache[cachedValue](capacity, ttl)
}

// Get returns the value of name on branch.
func (s *RedisStore) Get(ctx context.Context, name string, branch Branch) (any, error) {
	switch branch {
	case BranchUser:
		return s.effective(ctx, name)
	case BranchDefault:
		v, err := s.read(ctx, name, BranchDefault)
		return v.value, err
	default:
		return nil, fmt.Errorf("unknown preference branch %q", branch)
	}
}

// Set writes value to name on branch, announces the change and notifies
// local observers when the effective value changed.
func (s *RedisStore) Set(ctx context.Context, name string, value any, branch Branch) error {
	if !branch.Valid() {
		return fmt.Errorf("unknown preference branch %q", branch)
	}
	if err := validateValue(value); err != nil {
		return fmt.Errorf("failed to set %q: %w", name, err)
	}

	before, err := s.effective(ctx, name)
	if err != nil {
		return err
	}

	if value == nil {
		err = s.redis.DeletePref(ctx, string(branch), name)
	} else {
		var encoded []byte
		encoded, err = json.Marshal(Normalize(value))
		if err == nil {
			err = s.redis.SetPref(ctx, string(branch), name, string(encoded))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to write pref %q: %w", name, err)
	}

	s.l1.Set(cacheKey(name, branch), cachedValue{value: Normalize(value), present: value != nil})

	payload, _ := json.Marshal(changeEvent{Origin: s.origin, Name: name})
	if err := s.redis.PublishChange(ctx, string(payload)); err != nil {
		// Other processes fall back to the L1 TTL; the write itself succeeded.
		s.logger.Warn("failed to publish pref change", slog.String("pref", name), slog.String("error", err.Error()))
	}

	after, err := s.effective(ctx, name)
	if err != nil {
		return err
	}

	if !Equal(before, after) {
		s.notify(name)
	}

	return nil
}

// HasUserValue reports whether name has a user override.
func (s *RedisStore) HasUserValue(ctx context.Context, name string) (bool, error) {
	v, err := s.read(ctx, name, BranchUser)
	return v.present, err
}

// AddObserver registers fn for changes to name.
func (s *RedisStore) AddObserver(name string, fn ObserverFunc) ObserverID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if s.observers[name] == nil {
		s.observers[name] = make(map[ObserverID]ObserverFunc)
	}
	s.observers[name][s.nextID] = fn

	return s.nextID
}

// RemoveObserver unregisters the observer id for name.
func (s *RedisStore) RemoveObserver(name string, id ObserverID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.observers[name], id)
	if len(s.observers[name]) == 0 {
		delete(s.observers, name)
	}
}

// Run consumes change events published by other processes until ctx is
// cancelled. It blocks.
func (s *RedisStore) Run(ctx context.Context) error {
	events, err := s.redis.SubscribeChanges(ctx)
	if err != nil {
		return err
	}

	s.logger.Info("listening for pref changes", slog.String("origin", s.origin))

	for payload := range events {
		s.handleEvent(payload)
	}

	s.logger.Info("pref change listener stopped")
	return nil
}

// handleEvent invalidates the L1 entries of a remotely changed preference and
// notifies the local observers.
func (s *RedisStore) handleEvent(payload string) {
	var evt changeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		s.logger.Warn("discarding malformed pref change event", slog.String("error", err.Error()))
		return
	}

	// Local writes already notified synchronously.
	if evt.Origin == s.origin || evt.Name == "" {
		return
	}

	s.l1.Del(cacheKey(evt.Name, BranchUser))
	s.l1.Del(cacheKey(evt.Name, BranchDefault))
	observability.PrefInvalidations.Inc()
	s.notify(evt.Name)
}

func (s *RedisStore) notify(name string) {
	s.mu.Lock()
	fns := make([]ObserverFunc, 0, len(s.observers[name]))
	for _, fn := range s.observers[name] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(name)
	}
}

func (s *RedisStore) effective(ctx context.Context, name string) (any, error) {
	user, err := s.read(ctx, name, BranchUser)
	if err != nil {
		return nil, err
	}
	if user.present {
		return user.value, nil
	}

	def, err := s.read(ctx, name, BranchDefault)
	return def.value, err
}

// read returns the raw value of one branch, going through the L1 cache.
func (s *RedisStore) read(ctx context.Context, name string, branch Branch) (cachedValue, error) {
	key := cacheKey(name, branch)
	if v, ok := s.l1.Get(key); ok {
		return v, nil
	}

	raw, ok, err := s.redis.GetPref(ctx, string(branch), name)
	if err != nil {
		return cachedValue{}, err
	}

	v := cachedValue{present: ok}
	if ok {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return cachedValue{}, fmt.Errorf("corrupted value for pref %q: %w", name, err)
		}
		v.value = Normalize(decoded)
	}

	s.l1.Set(key, v)
	return v, nil
}

func cacheKey(name string, branch Branch) string {
	return string(branch) + ":" + name
}
