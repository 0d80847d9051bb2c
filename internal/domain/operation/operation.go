// Package operation defines the queued record of a local mutation that has
// not yet been confirmed by the remote table service.
package operation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

// Kind is the kind of mutation an operation carries to the server.
type Kind string

const (
	KindCreate  Kind = "create"  // POST {endpoint}
	KindReplace Kind = "replace" // PUT {endpoint}/{id}
	KindDelete  Kind = "delete"  // DELETE {endpoint}/{id}
)

// ParseKind converts a stored kind string back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCreate, KindReplace, KindDelete:
		return Kind(s), nil
	default:
		return "", errors.NewError(errors.CodeValidation, fmt.Sprintf("operation kind %q", s), errors.ErrUnknownOperationKind)
	}
}

// State is the processing state of a queued operation.
type State string

const (
	StatePending    State = "pending"    // Waiting for the next push
	StateProcessing State = "processing" // Request in flight
	StateCompleted  State = "completed"  // Confirmed by the server; row is about to be removed
	StateFailed     State = "failed"     // Parked by an operator; skipped by push
)

// ParseState converts a stored state string back into a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
		return State(s), nil
	default:
		return "", errors.NewError(errors.CodeValidation, fmt.Sprintf("operation state %q", s), errors.ErrInvalidQueueTransition)
	}
}

// Operation is one pending local mutation for one entity.
type Operation struct {
	ID            string          // Random unique identifier
	Kind          Kind            // Create, Replace or Delete
	State         State           // Processing state
	EntityType    string          // Registered entity type name
	ItemID        string          // Entity id, unique per entity type
	EntityVersion string          // Expected server version; empty means unconditional
	Item          json.RawMessage // Entity snapshot at enqueue time
	Sequence      int64           // Processing order, assigned at enqueue
	Version       int64           // Row version, bumped on every queue write
	HTTPStatus    int             // Status of the last attempt (0 if never sent)
	LastAttempt   *time.Time      // When the operation was last sent
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// New creates a pending operation with a fresh id. Sequence is assigned by
// the queue store.
func New(entityType, itemID string, kind Kind, item []byte, expectedVersion string) (*Operation, error) {
	if entityType == "" {
		return nil, errors.NewError(errors.CodeValidation, "entity type is required", errors.ErrEntityNotRegistered)
	}
	if itemID == "" {
		return nil, errors.NewError(errors.CodeValidation, "item id is required", errors.ErrMissingEntityID)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Operation{
		ID:            uuid.New().String(),
		Kind:          kind,
		State:         StatePending,
		EntityType:    entityType,
		ItemID:        itemID,
		EntityVersion: expectedVersion,
		Item:          cloneBytes(item),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// IsActive reports whether the operation still counts against the
// one-operation-per-entity rule.
func (o *Operation) IsActive() bool {
	return o.State == StatePending || o.State == StateProcessing
}

// Key returns the lock key for the entity this operation targets.
func (o *Operation) Key() string {
	return EntityKey(o.EntityType, o.ItemID)
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	c := *o
	c.Item = cloneBytes(o.Item)
	if o.LastAttempt != nil {
		t := *o.LastAttempt
		c.LastAttempt = &t
	}
	return &c
}

// EntityKey combines an entity type and id into a single key. Ids are only
// unique per type, so the type is always part of the key.
func EntityKey(entityType, itemID string) string {
	return entityType + "/" + itemID
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
