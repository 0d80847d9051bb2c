package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// OperationQueuePort defines the durable operations queue.
// Implementations must make each call atomic with respect to concurrent
// calls for the same entity.
type OperationQueuePort interface {
	// Enqueue inserts op, or merges it into the operation already queued for
	// the same entity. Every enqueue assigns a new sequence number. Returns
	// the stored operation, or nil when the merge removed it.
	// Returns a *errors.QueueError when the merge is not allowed.
	Enqueue(ctx context.Context, op *operation.Operation) (*operation.Operation, error)

	// Dequeue returns the pending operations of an entity type in ascending
	// sequence order. Operations are not removed.
	Dequeue(ctx context.Context, entityType string) ([]*operation.Operation, error)

	// Get returns an operation by id, or errors.ErrOperationNotFound.
	Get(ctx context.Context, id string) (*operation.Operation, error)

	// FindByItem returns the operation queued for an entity, or nil.
	FindByItem(ctx context.Context, entityType, itemID string) (*operation.Operation, error)

	// Update writes op back if its row version still matches, then bumps
	// op.Version. Returns errors.ErrQueueRace on mismatch.
	Update(ctx context.Context, op *operation.Operation) error

	// Remove deletes an operation. A non-zero expectedVersion must match the
	// stored row version or errors.ErrQueueRace is returned.
	Remove(ctx context.Context, id string, expectedVersion int64) error

	// List returns every operation of an entity type (all types when empty)
	// in sequence order, regardless of state.
	List(ctx context.Context, entityType string) ([]*operation.Operation, error)

	// Count returns the number of pending or processing operations of an
	// entity type (all types when empty).
	Count(ctx context.Context, entityType string) (int, error)
}

// DeltaTokenPort defines the store of pull watermarks.
type DeltaTokenPort interface {
	// Get returns the watermark of a query, or query.Epoch when none is stored.
	Get(ctx context.Context, queryID string) (time.Time, error)

	// Set stores a watermark. The stored value never decreases.
	Set(ctx context.Context, queryID string, value time.Time) error

	// Reset forgets a watermark so the next pull starts from the epoch.
	Reset(ctx context.Context, queryID string) error

	// List returns all stored watermarks.
	List(ctx context.Context) ([]query.DeltaToken, error)
}
