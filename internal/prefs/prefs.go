// Package prefs defines the preference store the enrollment engine writes
// its overrides to, together with an in-memory and a Redis-backed implementation.
//
// Preferences live on two branches. The default branch holds the shipped
// value; the user branch holds an override that shadows it. Reading the user
// branch returns the effective value (user value if present, default otherwise).
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Branch identifies the preference branch a value is written to.
type Branch string

const (
	// BranchUser holds user overrides.
	BranchUser Branch = "user"

	// BranchDefault holds shipped defaults.
	BranchDefault Branch = "default"
)

// Valid reports whether b is a known branch.
func (b Branch) Valid() bool {
	return b == BranchUser || b == BranchDefault
}

// ObserverID identifies a registered observer so it can be removed later.
type ObserverID uint64

// ObserverFunc is invoked with the preference name whenever its effective value changes.
// It runs synchronously on the goroutine that performed the write.
type ObserverFunc func(name string)

// Store is the preference storage consumed by the enrollment engine.
type Store interface {
	// Get returns the value of name on branch, or nil when it has none.
	Get(ctx context.Context, name string, branch Branch) (any, error)

	// Set writes value to name on branch. A nil value clears the branch value.
	Set(ctx context.Context, name string, value any, branch Branch) error

	// HasUserValue reports whether name has a user branch override.
	HasUserValue(ctx context.Context, name string) (bool, error)

	// AddObserver registers fn for changes to name.
	AddObserver(name string, fn ObserverFunc) ObserverID

	// RemoveObserver unregisters a previously added observer.
	RemoveObserver(name string, id ObserverID)
}

// Normalize folds the numeric representations produced by JSON and YAML
// decoding into int, so values read back from persistence compare equal to
// live ones. Non-integral numbers stay float64.
func Normalize(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && math.Abs(n) <= math.MaxInt32 {
			return int(n)
		}
		return n
	case float32:
		return Normalize(float64(n))
	case int64:
		return int(n)
	case int32:
		return int(n)
	case uint64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	default:
		return v
	}
}

// Equal compares two preference values after normalization.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// validateValue rejects values a preference cannot hold.
func validateValue(value any) error {
	switch Normalize(value).(type) {
	case nil, bool, int, float64, string:
		return nil
	default:
		return fmt.Errorf("unsupported preference value type %T", value)
	}
}
