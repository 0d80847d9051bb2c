package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// Ensure EntityStore implements EntityStorePort.
var _ ports.EntityStorePort = (*EntityStore)(nil)

// EntityStore keeps local copies of synchronized entities as JSON documents.
type EntityStore struct {
	conn *Connection
}

// NewEntityStore creates an entity store on an open connection.
func NewEntityStore(conn *Connection) *EntityStore {
	return &EntityStore{conn: conn}
}

// Get returns one row.
func (s *EntityStore) Get(ctx context.Context, entityType, id string) (*ports.EntityRecord, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}

	rec := &ports.EntityRecord{EntityType: entityType, ID: id}
	var ms int64
	err = db.QueryRowContext(ctx,
		"SELECT data, updated_at FROM entities WHERE entity_type = ? AND id = ?", entityType, id,
	).Scan(&rec.Data, &ms)
	if err == sql.ErrNoRows {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeNotFound, entityType+"/"+id, errors.ErrEntityNotFound), "entity_type", entityType)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read entity %s/%s: %w", entityType, id, err)
	}
	rec.UpdatedAt = query.FromMillis(ms)
	return rec, nil
}

// Upsert inserts or replaces a row and reports whether it was new.
func (s *EntityStore) Upsert(ctx context.Context, rec *ports.EntityRecord) (bool, error) {
	db, err := s.conn.DB()
	if err != nil {
		return false, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT 1 FROM entities WHERE entity_type = ? AND id = ?", rec.EntityType, rec.ID).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("could not read entity %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	var ms int64
	if !rec.UpdatedAt.IsZero() {
		ms = query.ToMillis(rec.UpdatedAt)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		rec.EntityType, rec.ID, rec.Data, ms)
	if err != nil {
		return false, fmt.Errorf("could not write entity %s/%s: %w", rec.EntityType, rec.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("could not commit entity %s/%s: %w", rec.EntityType, rec.ID, err)
	}
	return exists == 0, nil
}

// Delete removes a row and reports whether it existed.
func (s *EntityStore) Delete(ctx context.Context, entityType, id string) (bool, error) {
	db, err := s.conn.DB()
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, "DELETE FROM entities WHERE entity_type = ? AND id = ?", entityType, id)
	if err != nil {
		return false, fmt.Errorf("could not delete entity %s/%s: %w", entityType, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns all rows of an entity type ordered by id.
func (s *EntityStore) List(ctx context.Context, entityType string) ([]*ports.EntityRecord, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, data, updated_at FROM entities WHERE entity_type = ? ORDER BY id", entityType)
	if err != nil {
		return nil, fmt.Errorf("could not list entities: %w", err)
	}
	defer rows.Close()

	var records []*ports.EntityRecord
	for rows.Next() {
		rec := &ports.EntityRecord{EntityType: entityType}
		var ms int64
		if err := rows.Scan(&rec.ID, &rec.Data, &ms); err != nil {
			return nil, fmt.Errorf("could not scan entity: %w", err)
		}
		rec.UpdatedAt = query.FromMillis(ms)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of rows of an entity type.
func (s *EntityStore) Count(ctx context.Context, entityType string) (int, error) {
	db, err := s.conn.DB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities WHERE entity_type = ?", entityType).Scan(&n); err != nil {
		return 0, fmt.Errorf("could not count entities: %w", err)
	}
	return n, nil
}
