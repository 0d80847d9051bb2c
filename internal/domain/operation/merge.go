package operation

import (
	"time"

	"github.com/jbctechsolutions/datasync/internal/domain/errors"
)

// MergeAction tells the queue store how to absorb a new mutation.
type MergeAction int

const (
	ActionInsert MergeAction = iota // No queued operation: insert the new one
	ActionUpdate                    // Rewrite the queued operation in place
	ActionRemove                    // Drop the queued operation; nothing is sent
)

func (a MergeAction) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Merge folds a new mutation into the operation already queued for the same
// entity. existing may be nil. The returned operation is the row to insert
// or update; it is nil for ActionRemove. existing is never modified.
//
//	Create  + Delete  -> remove
//	Create  + Replace -> Create with the new item
//	Replace + Delete  -> Delete, keeping the expected version
//	Replace + Replace -> Replace with the new item
//	Delete  + any     -> QueueError
func Merge(existing *Operation, incoming *Operation) (MergeAction, *Operation, error) {
	if existing == nil {
		return ActionInsert, incoming.Clone(), nil
	}

	reject := func() (MergeAction, *Operation, error) {
		return ActionInsert, nil, &errors.QueueError{
			EntityType:  existing.EntityType,
			ItemID:      existing.ItemID,
			OriginalID:  existing.ID,
			Original:    string(existing.Kind),
			Conflicting: string(incoming.Kind),
		}
	}

	merged := existing.Clone()
	merged.UpdatedAt = time.Now().UTC()

	switch existing.Kind {
	case KindCreate:
		switch incoming.Kind {
		case KindDelete:
			return ActionRemove, nil, nil
		case KindReplace:
			merged.Item = cloneBytes(incoming.Item)
			return ActionUpdate, merged, nil
		default:
			return reject()
		}

	case KindReplace:
		switch incoming.Kind {
		case KindDelete:
			merged.Kind = KindDelete
			merged.Item = cloneBytes(incoming.Item)
			return ActionUpdate, merged, nil
		case KindReplace:
			merged.Item = cloneBytes(incoming.Item)
			return ActionUpdate, merged, nil
		default:
			return reject()
		}

	default:
		return reject()
	}
}
