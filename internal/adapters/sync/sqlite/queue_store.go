package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
)

// Ensure QueueStore implements OperationQueuePort.
var _ ports.OperationQueuePort = (*QueueStore)(nil)

const operationColumns = `id, kind, state, entity_type, item_id, entity_version, item,
	sequence, version, http_status, last_attempt, created_at, updated_at`

// QueueStore is the durable operations queue.
type QueueStore struct {
	conn     *Connection
	sequence atomic.Int64
}

// NewQueueStore creates a queue store on an open connection. The sequence
// counter continues from the highest sequence already stored.
func NewQueueStore(ctx context.Context, conn *Connection) (*QueueStore, error) {
	db, err := conn.DB()
	if err != nil {
		return nil, err
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(sequence) FROM operations").Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("could not read queue sequence: %w", err)
	}

	s := &QueueStore{conn: conn}
	s.sequence.Store(maxSeq.Int64)
	return s, nil
}

// Enqueue inserts op or merges it into the operation already queued for the
// same entity, in one transaction.
func (s *QueueStore) Enqueue(ctx context.Context, op *operation.Operation) (*operation.Operation, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanOperation(tx.QueryRowContext(ctx,
		"SELECT "+operationColumns+" FROM operations WHERE entity_type = ? AND item_id = ?",
		op.EntityType, op.ItemID))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("could not read queued operation: %w", err)
	}

	action, merged, err := operation.Merge(existing, op)
	if err != nil {
		return nil, err
	}

	switch action {
	case operation.ActionInsert:
		merged.Sequence = s.sequence.Add(1)
		merged.Version = 1
		if err := insertOperation(ctx, tx, merged); err != nil {
			return nil, err
		}
	case operation.ActionUpdate:
		merged.Sequence = s.sequence.Add(1)
		if err := updateOperation(ctx, tx, merged); err != nil {
			return nil, err
		}
	case operation.ActionRemove:
		if _, err := tx.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", existing.ID); err != nil {
			return nil, fmt.Errorf("could not remove operation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit enqueue: %w", err)
	}
	return merged, nil
}

// Dequeue returns the pending operations of an entity type by sequence.
// Operations left in processing by an interrupted push are returned too.
func (s *QueueStore) Dequeue(ctx context.Context, entityType string) ([]*operation.Operation, error) {
	return s.query(ctx,
		"SELECT "+operationColumns+" FROM operations WHERE entity_type = ? AND state IN (?, ?) ORDER BY sequence",
		entityType, string(operation.StatePending), string(operation.StateProcessing))
}

// Get returns an operation by id.
func (s *QueueStore) Get(ctx context.Context, id string) (*operation.Operation, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}
	op, err := scanOperation(db.QueryRowContext(ctx,
		"SELECT "+operationColumns+" FROM operations WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeNotFound, "operation "+id, errors.ErrOperationNotFound), "operation_id", id)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read operation: %w", err)
	}
	return op, nil
}

// FindByItem returns the operation queued for an entity, or nil.
func (s *QueueStore) FindByItem(ctx context.Context, entityType, itemID string) (*operation.Operation, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}
	op, err := scanOperation(db.QueryRowContext(ctx,
		"SELECT "+operationColumns+" FROM operations WHERE entity_type = ? AND item_id = ?", entityType, itemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read operation: %w", err)
	}
	return op, nil
}

// Update writes op back if its row version still matches.
func (s *QueueStore) Update(ctx context.Context, op *operation.Operation) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}
	op.UpdatedAt = time.Now().UTC()
	return updateOperation(ctx, db, op)
}

// Remove deletes an operation, checking the row version when one is given.
func (s *QueueStore) Remove(ctx context.Context, id string, expectedVersion int64) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}

	var res sql.Result
	if expectedVersion > 0 {
		res, err = db.ExecContext(ctx, "DELETE FROM operations WHERE id = ? AND version = ?", id, expectedVersion)
	} else {
		res, err = db.ExecContext(ctx, "DELETE FROM operations WHERE id = ?", id)
	}
	if err != nil {
		return fmt.Errorf("could not remove operation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if expectedVersion > 0 {
			return errors.WithContext(
				errors.NewError(errors.CodeQueue, "operation "+id+" changed before removal", errors.ErrQueueRace), "operation_id", id)
		}
		return errors.NewError(errors.CodeNotFound, "operation "+id, errors.ErrOperationNotFound)
	}
	return nil
}

// List returns every operation of an entity type, or of all types when
// entityType is empty.
func (s *QueueStore) List(ctx context.Context, entityType string) ([]*operation.Operation, error) {
	if entityType == "" {
		return s.query(ctx, "SELECT "+operationColumns+" FROM operations ORDER BY sequence")
	}
	return s.query(ctx,
		"SELECT "+operationColumns+" FROM operations WHERE entity_type = ? ORDER BY sequence", entityType)
}

// Count returns the number of pending or processing operations.
func (s *QueueStore) Count(ctx context.Context, entityType string) (int, error) {
	db, err := s.conn.DB()
	if err != nil {
		return 0, err
	}

	q := "SELECT COUNT(*) FROM operations WHERE state IN (?, ?)"
	args := []any{string(operation.StatePending), string(operation.StateProcessing)}
	if entityType != "" {
		q += " AND entity_type = ?"
		args = append(args, entityType)
	}

	var n int
	if err := db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count operations: %w", err)
	}
	return n, nil
}

func (s *QueueStore) query(ctx context.Context, q string, args ...any) ([]*operation.Operation, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query operations: %w", err)
	}
	defer rows.Close()

	var ops []*operation.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func insertOperation(ctx context.Context, tx execer, op *operation.Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, string(op.Kind), string(op.State), op.EntityType, op.ItemID, op.EntityVersion, []byte(op.Item),
		op.Sequence, op.Version, op.HTTPStatus, nullTime(op.LastAttempt), op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewError(errors.CodeQueue, "operation already queued for "+op.Key(), errors.ErrQueueRace)
		}
		return fmt.Errorf("could not insert operation: %w", err)
	}
	return nil
}

// updateOperation rewrites op if the stored version equals op.Version and
// bumps op.Version on success.
func updateOperation(ctx context.Context, tx execer, op *operation.Operation) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE operations SET
			kind = ?, state = ?, entity_version = ?, item = ?, sequence = ?,
			version = version + 1, http_status = ?, last_attempt = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(op.Kind), string(op.State), op.EntityVersion, []byte(op.Item), op.Sequence,
		op.HTTPStatus, nullTime(op.LastAttempt), op.UpdatedAt,
		op.ID, op.Version,
	)
	if err != nil {
		return fmt.Errorf("could not update operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.WithContext(
			errors.NewError(errors.CodeQueue, "operation "+op.ID+" changed concurrently", errors.ErrQueueRace), "operation_id", op.ID)
	}
	op.Version++
	return nil
}

func scanOperation(row rowScanner) (*operation.Operation, error) {
	var (
		op          operation.Operation
		kind, state string
		item        []byte
		lastAttempt sql.NullTime
	)
	err := row.Scan(&op.ID, &kind, &state, &op.EntityType, &op.ItemID, &op.EntityVersion, &item,
		&op.Sequence, &op.Version, &op.HTTPStatus, &lastAttempt, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if op.Kind, err = operation.ParseKind(kind); err != nil {
		return nil, err
	}
	if op.State, err = operation.ParseState(state); err != nil {
		return nil, err
	}
	if len(item) > 0 {
		op.Item = item
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time.UTC()
		op.LastAttempt = &t
	}
	op.CreatedAt = op.CreatedAt.UTC()
	op.UpdatedAt = op.UpdatedAt.UTC()
	return &op, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
