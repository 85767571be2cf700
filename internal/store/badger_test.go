package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/database"
	"github.com/rafaeljc/nornir/internal/prefs"
	"github.com/rafaeljc/nornir/internal/store"
)

func TestBadgerDatabase(t *testing.T) {
	ctx := context.Background()

	db, err := database.OpenBadger(database.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bdb := store.NewBadgerDatabase(db)

	t.Run("Should round-trip enrollments through a store reload", func(t *testing.T) {
		s := store.New(bdb)

		e := newEnrollment("badger-exp", false, "f1")
		e.Prefs = []store.PrefRecord{
			{Name: "test.enabled", Branch: prefs.BranchUser, FeatureID: "f1", Variable: "enabled", OriginalValue: 7},
		}
		require.NoError(t, s.AddEnrollment(ctx, e))
		require.NoError(t, s.AddEnrollment(ctx, newEnrollment("badger-roll", true, "f1")))
		require.NoError(t, s.UpdateEnrollment(ctx, "badger-roll", func(e *store.Enrollment) {
			e.Active = false
			e.UnenrollReason = "bucketing"
		}))

		reloaded := store.New(bdb)
		require.NoError(t, reloaded.Load(ctx))

		exp := reloaded.Get("badger-exp")
		require.NotNil(t, exp)
		assert.True(t, exp.Active)
		assert.Equal(t, "treatment", exp.Branch.Slug)
		rec, ok := exp.Pref("test.enabled")
		require.True(t, ok)
		assert.Equal(t, 7, rec.OriginalValue)
		assert.Equal(t, prefs.BranchUser, rec.Branch)

		roll := reloaded.Get("badger-roll")
		require.NotNil(t, roll)
		assert.False(t, roll.Active)
		assert.Equal(t, "bucketing", roll.UnenrollReason)
	})

	t.Run("Should honor a cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := bdb.Upsert(cancelled, newEnrollment("never", false))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewBadgerDatabase_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { store.NewBadgerDatabase(nil) })
}
