package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/rafaeljc/nornir/internal/validation"
)

// keyPrefix namespaces enrollment keys inside the Badger database.
const keyPrefix = "enrollment:"

var _ Database = (*BadgerDatabase)(nil)

// BadgerDatabase persists enrollments as JSON values in an embedded Badger database.
type BadgerDatabase struct {
	db *badger.DB
}

// NewBadgerDatabase wraps an open Badger database. The caller owns db.
func NewBadgerDatabase(db *badger.DB) *BadgerDatabase {
	validation.AssertNotNil(db, "store: badger database")
	return &BadgerDatabase{db: db}
}

func enrollmentKey(slug string) []byte {
	return []byte(keyPrefix + slug)
}

// Upsert writes the enrollment under its slug key.
func (b *BadgerDatabase) Upsert(ctx context.Context, e *Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(enrollmentKey(e.Slug), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write enrollment %q: %w", e.Slug, err)
	}
	return nil
}

// Deactivate overwrites the stored record; the record already carries active=false.
func (b *BadgerDatabase) Deactivate(ctx context.Context, e *Enrollment) error {
	return b.Upsert(ctx, e)
}

// LoadAll scans the enrollment prefix in key order.
func (b *BadgerDatabase) LoadAll(ctx context.Context) ([]*Enrollment, error) {
	var out []*Enrollment

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			err := item.Value(func(val []byte) error {
				var e Enrollment
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("failed to decode %s: %w", item.Key(), err)
				}
				out = append(out, &e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	return out, nil
}
