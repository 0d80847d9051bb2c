// Package ports defines the application layer port interfaces following hexagonal architecture.
// Ports are abstractions that allow the application core to interact with external systems
// (adapters) without knowing their implementation details.
package ports

import (
	"context"
	"time"
)

// EntityRecord is one row of the local entity store.
type EntityRecord struct {
	EntityType string
	ID         string
	Data       []byte // JSON document
	UpdatedAt  time.Time
}

// EntityStorePort defines the local store shared by the application and the
// sync engine. Each call is transactional for a single row.
type EntityStorePort interface {
	// Get returns a row, or errors.ErrEntityNotFound.
	Get(ctx context.Context, entityType, id string) (*EntityRecord, error)

	// Upsert inserts or replaces a row. Reports whether the row was new.
	Upsert(ctx context.Context, rec *EntityRecord) (bool, error)

	// Delete removes a row. Reports whether the row existed.
	Delete(ctx context.Context, entityType, id string) (bool, error)

	// List returns all rows of an entity type ordered by id.
	List(ctx context.Context, entityType string) ([]*EntityRecord, error)

	// Count returns the number of rows of an entity type.
	Count(ctx context.Context, entityType string) (int, error)
}
