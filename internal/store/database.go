package store

import "context"

// Database persists enrollments. The Store keeps every enrollment in memory
// and forwards each change here; implementations only need to be durable.
type Database interface {
	// Upsert writes the full enrollment, inserting it when absent.
	Upsert(ctx context.Context, e *Enrollment) error

	// Deactivate persists an enrollment that has just been unenrolled.
	Deactivate(ctx context.Context, e *Enrollment) error

	// LoadAll returns every persisted enrollment, active or not.
	LoadAll(ctx context.Context) ([]*Enrollment, error)
}

// NopDatabase keeps nothing. It backs the memory storage driver.
type NopDatabase struct{}

var _ Database = NopDatabase{}

func (NopDatabase) Upsert(context.Context, *Enrollment) error { return nil }

func (NopDatabase) Deactivate(context.Context, *Enrollment) error { return nil }

func (NopDatabase) LoadAll(context.Context) ([]*Enrollment, error) { return nil, nil }
