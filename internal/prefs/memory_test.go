package prefs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Branches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should shadow the default value with the user value", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, "browser.feature", false, BranchDefault))
		require.NoError(t, s.Set(ctx, "browser.feature", true, BranchUser))

		got, err := s.Get(ctx, "browser.feature", BranchUser)
		require.NoError(t, err)
		assert.Equal(t, true, got)

		got, err = s.Get(ctx, "browser.feature", BranchDefault)
		require.NoError(t, err)
		assert.Equal(t, false, got)

		has, err := s.HasUserValue(ctx, "browser.feature")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("Should clear the user value when setting nil", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, "browser.feature", "default", BranchDefault))
		require.NoError(t, s.Set(ctx, "browser.feature", "user", BranchUser))

		require.NoError(t, s.Set(ctx, "browser.feature", nil, BranchUser))

		has, _ := s.HasUserValue(ctx, "browser.feature")
		assert.False(t, has)
		got, _ := s.Get(ctx, "browser.feature", BranchUser)
		assert.Equal(t, "default", got)
	})

	t.Run("Should return nil for unknown prefs", func(t *testing.T) {
		s := NewMemoryStore()
		got, err := s.Get(ctx, "missing", BranchUser)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Should reject unknown branches and unsupported values", func(t *testing.T) {
		s := NewMemoryStore()
		assert.Error(t, s.Set(ctx, "p", true, Branch("weird")))
		_, err := s.Get(ctx, "p", Branch("weird"))
		assert.Error(t, err)
		assert.Error(t, s.Set(ctx, "p", []string{"a"}, BranchUser))
	})
}

func TestMemoryStore_Observers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Should fire only when the effective value changes", func(t *testing.T) {
		s := NewMemoryStore()
		var calls []string
		s.AddObserver("browser.feature", func(name string) { calls = append(calls, name) })

		require.NoError(t, s.Set(ctx, "browser.feature", 1, BranchUser))
		require.NoError(t, s.Set(ctx, "browser.feature", 1, BranchUser))          // same value
		require.NoError(t, s.Set(ctx, "browser.feature", 5, BranchDefault))       // shadowed
		require.NoError(t, s.Set(ctx, "other.pref", true, BranchUser))            // other pref
		require.NoError(t, s.Set(ctx, "browser.feature", float64(1), BranchUser)) // same after normalization
		require.NoError(t, s.Set(ctx, "browser.feature", nil, BranchUser))        // 1 -> 5

		assert.Equal(t, []string{"browser.feature", "browser.feature"}, calls)
	})

	t.Run("Should stop firing after removal", func(t *testing.T) {
		s := NewMemoryStore()
		calls := 0
		id := s.AddObserver("p", func(string) { calls++ })
		assert.Equal(t, 1, s.ObserverCount("p"))

		s.RemoveObserver("p", id)
		require.NoError(t, s.Set(ctx, "p", true, BranchUser))

		assert.Zero(t, calls)
		assert.Zero(t, s.ObserverCount("p"))
	})

	t.Run("Should allow observers to call back into the store", func(t *testing.T) {
		s := NewMemoryStore()
		var seen any
		s.AddObserver("p", func(name string) {
			seen, _ = s.Get(ctx, name, BranchUser)
		})

		require.NoError(t, s.Set(ctx, "p", "new", BranchUser))
		assert.Equal(t, "new", seen)
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "integral float", in: float64(42), want: 42},
		{name: "fractional float", in: 1.5, want: 1.5},
		{name: "int64", in: int64(7), want: 7},
		{name: "json number", in: json.Number("12"), want: 12},
		{name: "string", in: "x", want: "x"},
		{name: "bool", in: true, want: true},
		{name: "nil", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}

	assert.True(t, Equal(float64(3), 3))
	assert.False(t, Equal("3", 3))
}
