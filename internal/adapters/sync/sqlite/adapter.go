package sqlite

import (
	"context"
	"fmt"
)

// Adapter bundles the stores that share one SQLite database.
type Adapter struct {
	conn     *Connection
	Queue    *QueueStore
	Tokens   *DeltaTokenStore
	Entities *EntityStore
}

// NewAdapter opens the database at dbPath (the default location when empty)
// and creates the queue, delta token and entity stores on it.
func NewAdapter(ctx context.Context, dbPath string) (*Adapter, error) {
	conn, err := OpenConnection(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueueStore(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not create queue store: %w", err)
	}

	return &Adapter{
		conn:     conn,
		Queue:    queue,
		Tokens:   NewDeltaTokenStore(conn),
		Entities: NewEntityStore(conn),
	}, nil
}

// Close closes the adapter and underlying database connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
