package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/nornir/internal/database"
	"github.com/rafaeljc/nornir/internal/logger"
)

func TestOpenBadger(t *testing.T) {
	tests := []struct {
		name    string
		opts    func(t *testing.T) database.BadgerOptions
		wantErr bool
	}{
		{
			name: "Should open an in-memory database",
			opts: func(*testing.T) database.BadgerOptions {
				return database.BadgerOptions{InMemory: true}
			},
		},
		{
			name: "Should open a persistent database and create its directory",
			opts: func(t *testing.T) database.BadgerOptions {
				return database.BadgerOptions{Path: t.TempDir() + "/nested/enrollments", Logger: logger.NewNop()}
			},
		},
		{
			name: "Should reject a persistent database without a path",
			opts: func(*testing.T) database.BadgerOptions {
				return database.BadgerOptions{}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := database.OpenBadger(tt.opts(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer db.Close()

			err = db.Update(func(txn *badger.Txn) error {
				return txn.Set([]byte("key"), []byte("value"))
			})
			require.NoError(t, err)
		})
	}
}

func TestBadgerHealthChecker(t *testing.T) {
	db, err := database.OpenBadger(database.BadgerOptions{InMemory: true})
	require.NoError(t, err)

	checker := database.NewBadgerHealthChecker(db)
	assert.Equal(t, "badger", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	require.NoError(t, db.Close())
	assert.Error(t, checker.Check(context.Background()))

	assert.Error(t, database.NewBadgerHealthChecker(nil).Check(context.Background()))
}

func TestRunBadgerGC_StopsOnCancel(t *testing.T) {
	db, err := database.OpenBadger(database.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		database.RunBadgerGC(ctx, db, 5*time.Millisecond, 0.5, logger.NewNop())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gc runner did not stop after cancellation")
	}
}
