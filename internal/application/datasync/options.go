package datasync

import (
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// Bounds for the number of requests a push or pull keeps in flight.
const (
	MinParallelOperations = 1
	MaxParallelOperations = 8
)

// PushOptions configures one push.
type PushOptions struct {
	ParallelOperations int
}

// DefaultPushOptions returns push options with a single worker.
func DefaultPushOptions() PushOptions {
	return PushOptions{ParallelOperations: 1}
}

// Validate checks the worker count.
func (o PushOptions) Validate() error {
	return validateParallelism("push parallel operations", o.ParallelOperations)
}

// PullOptions configures one pull.
type PullOptions struct {
	ParallelOperations int
	// SaveAfterEveryPage advances the delta token after each applied page.
	// When false the token is advanced once, after the last page of a query,
	// so a failed page makes the next pull start over from the old token.
	SaveAfterEveryPage bool
}

// DefaultPullOptions returns pull options with a single worker that save
// the delta token after every page.
func DefaultPullOptions() PullOptions {
	return PullOptions{ParallelOperations: 1, SaveAfterEveryPage: true}
}

// Validate checks the worker count.
func (o PullOptions) Validate() error {
	return validateParallelism("pull parallel operations", o.ParallelOperations)
}

func validateParallelism(name string, n int) error {
	if n < MinParallelOperations || n > MaxParallelOperations {
		return errors.OutOfRange(name, n, MinParallelOperations, MaxParallelOperations)
	}
	return nil
}

// PullRequest is one query to pull. Endpoint overrides the registered
// endpoint; QueryID is derived from EntityType and Query when empty.
type PullRequest struct {
	EntityType string
	Endpoint   string
	Query      query.Description
	QueryID    string
}
