package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// Ensure DeltaTokenStore implements DeltaTokenPort.
var _ ports.DeltaTokenPort = (*DeltaTokenStore)(nil)

// DeltaTokenStore persists pull watermarks as Unix milliseconds.
type DeltaTokenStore struct {
	conn *Connection
}

// NewDeltaTokenStore creates a delta token store on an open connection.
func NewDeltaTokenStore(conn *Connection) *DeltaTokenStore {
	return &DeltaTokenStore{conn: conn}
}

// Get returns the watermark of a query, or the epoch when none is stored.
func (s *DeltaTokenStore) Get(ctx context.Context, queryID string) (time.Time, error) {
	db, err := s.conn.DB()
	if err != nil {
		return time.Time{}, err
	}

	var ms int64
	err = db.QueryRowContext(ctx, "SELECT value FROM delta_tokens WHERE query_id = ?", queryID).Scan(&ms)
	if err == sql.ErrNoRows {
		return query.Epoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("could not read delta token %s: %w", queryID, err)
	}
	return query.FromMillis(ms), nil
}

// Set stores a watermark. An older value never replaces a newer one.
func (s *DeltaTokenStore) Set(ctx context.Context, queryID string, value time.Time) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO delta_tokens (query_id, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(query_id) DO UPDATE SET
			value = MAX(value, excluded.value),
			updated_at = excluded.updated_at`,
		queryID, query.ToMillis(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("could not store delta token %s: %w", queryID, err)
	}
	return nil
}

// Reset deletes a watermark.
func (s *DeltaTokenStore) Reset(ctx context.Context, queryID string) error {
	db, err := s.conn.DB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM delta_tokens WHERE query_id = ?", queryID); err != nil {
		return fmt.Errorf("could not reset delta token %s: %w", queryID, err)
	}
	return nil
}

// List returns every stored watermark ordered by query id.
func (s *DeltaTokenStore) List(ctx context.Context) ([]query.DeltaToken, error) {
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT query_id, value FROM delta_tokens ORDER BY query_id")
	if err != nil {
		return nil, fmt.Errorf("could not list delta tokens: %w", err)
	}
	defer rows.Close()

	var tokens []query.DeltaToken
	for rows.Next() {
		var (
			id string
			ms int64
		)
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		tokens = append(tokens, query.DeltaToken{QueryID: id, Value: query.FromMillis(ms)})
	}
	return tokens, rows.Err()
}
