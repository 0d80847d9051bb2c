// Package conflict provides conflict resolution for pushes rejected with
// 409 Conflict or 412 Precondition Failed.
package conflict

import (
	"context"
	"fmt"
	"time"
)

// Decision is the resolver's verdict on a conflict.
type Decision int

const (
	Unresolved Decision = iota // Surface the conflict to the caller
	ClientWins                 // Resend the client item unconditionally
	ServerWins                 // Discard the local operation and keep the server item
	Merged                     // Resend the resolver-supplied entity
)

func (d Decision) String() string {
	switch d {
	case ClientWins:
		return "client_wins"
	case ServerWins:
		return "server_wins"
	case Merged:
		return "merged"
	default:
		return "unresolved"
	}
}

// Conflict describes one rejected push.
type Conflict struct {
	EntityType      string
	ItemID          string
	Kind            string // create, replace or delete
	StatusCode      int
	ClientItem      []byte
	ServerItem      []byte // nil when the server sent no entity
	ClientUpdatedAt time.Time
	ServerUpdatedAt time.Time
}

// Outcome is the result of resolving a conflict.
type Outcome struct {
	Decision Decision
	Entity   []byte // the merged entity, only for Merged
}

// ResolveClient keeps the client item.
func ResolveClient() Outcome { return Outcome{Decision: ClientWins} }

// ResolveServer keeps the server item.
func ResolveServer() Outcome { return Outcome{Decision: ServerWins} }

// ResolveUnresolved leaves the conflict for the caller.
func ResolveUnresolved() Outcome { return Outcome{Decision: Unresolved} }

// ResolveMerged resends entity in place of the client item.
func ResolveMerged(entity []byte) Outcome { return Outcome{Decision: Merged, Entity: entity} }

// Resolver decides the outcome of a conflict. The push manager calls it for
// one conflict at a time per entity.
type Resolver interface {
	Resolve(ctx context.Context, c *Conflict) (Outcome, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(ctx context.Context, c *Conflict) (Outcome, error)

// Resolve calls f(ctx, c).
func (f ResolverFunc) Resolve(ctx context.Context, c *Conflict) (Outcome, error) {
	return f(ctx, c)
}

// Strategy names a built-in resolver.
type Strategy string

const (
	StrategyUnresolved    Strategy = "unresolved"
	StrategyClientWins    Strategy = "client_wins"
	StrategyServerWins    Strategy = "server_wins"
	StrategyLastWriteWins Strategy = "last_write_wins"
)

// ValidStrategies lists the strategies accepted in configuration.
var ValidStrategies = map[Strategy]bool{
	StrategyUnresolved:    true,
	StrategyClientWins:    true,
	StrategyServerWins:    true,
	StrategyLastWriteWins: true,
}

// NewResolver returns the built-in resolver for a strategy. An empty
// strategy surfaces every conflict to the caller.
func NewResolver(strategy Strategy) (Resolver, error) {
	switch strategy {
	case "", StrategyUnresolved:
		return ResolverFunc(func(context.Context, *Conflict) (Outcome, error) {
			return ResolveUnresolved(), nil
		}), nil
	case StrategyClientWins:
		return ResolverFunc(func(context.Context, *Conflict) (Outcome, error) {
			return ResolveClient(), nil
		}), nil
	case StrategyServerWins:
		return ResolverFunc(func(_ context.Context, c *Conflict) (Outcome, error) {
			if c.ServerItem == nil {
				return ResolveUnresolved(), nil
			}
			return ResolveServer(), nil
		}), nil
	case StrategyLastWriteWins:
		return ResolverFunc(lastWriteWins), nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", strategy)
	}
}

// lastWriteWins keeps whichever side has the newer updatedAt. The client
// wins ties. Without a server item there is nothing to compare.
func lastWriteWins(_ context.Context, c *Conflict) (Outcome, error) {
	if c.ServerItem == nil {
		return ResolveUnresolved(), nil
	}
	if c.ServerUpdatedAt.After(c.ClientUpdatedAt) {
		return ResolveServer(), nil
	}
	return ResolveClient(), nil
}
