// Package datasync is the offline synchronization engine: it records local
// mutations in the operations queue, pushes them to the remote table service
// and pulls remote changes into the local store.
package datasync

import (
	"fmt"
	"sync"

	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	"github.com/jbctechsolutions/datasync/internal/domain/entity"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

// EntityConfig registers one synchronized entity type.
type EntityConfig struct {
	Name       string            // Entity type name, used as the queue and store key
	Endpoint   string            // Table endpoint, relative to the service base URL or absolute
	Descriptor entity.Descriptor // Reads and writes the entity's system properties
	Query      query.Description // Default pull query
	QueryID    string            // Explicit pull query id; derived from Query when empty
	Resolver   conflict.Resolver // Overrides the engine resolver for this type
}

// Validate checks that the configuration is complete.
func (c *EntityConfig) Validate() error {
	if c.Name == "" {
		return errors.NewError(errors.CodeConfiguration, "entity name cannot be empty", nil)
	}
	if c.Endpoint == "" {
		return errors.WithContext(
			errors.NewError(errors.CodeConfiguration, "entity "+c.Name+" has no endpoint", errors.ErrEndpointRequired),
			"entity_type", c.Name)
	}
	if c.Descriptor == nil {
		return errors.NewError(errors.CodeConfiguration, "entity "+c.Name+" has no descriptor", nil)
	}
	if v, ok := c.Descriptor.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("entity %s: %w", c.Name, err)
		}
	}
	if c.QueryID != "" {
		if err := query.ValidateID(c.QueryID); err != nil {
			return fmt.Errorf("entity %s: %w", c.Name, err)
		}
	}
	return nil
}

// DefaultPullRequest returns the pull request built from the registered
// default query.
func (c *EntityConfig) DefaultPullRequest() PullRequest {
	return PullRequest{
		EntityType: c.Name,
		Query:      c.Query,
		QueryID:    c.QueryID,
	}
}

// Registry manages the registration and lookup of synchronized entity types.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityConfig
	order    []string // maintains registration order
}

// NewRegistry creates a new empty entity registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityConfig),
		order:    make([]string, 0),
	}
}

// Register validates cfg and adds it to the registry.
// If an entity with the same name already exists, it will be replaced.
func (r *Registry) Register(cfg EntityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check if already registered
	if _, exists := r.entities[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}

	r.entities[cfg.Name] = &cfg
	return nil
}

// Get retrieves an entity configuration by name.
// Returns nil if the entity is not registered.
func (r *Registry) Get(name string) *EntityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// GetRequired retrieves an entity configuration by name, returning an error if not found.
func (r *Registry) GetRequired(name string) (*EntityConfig, error) {
	cfg := r.Get(name)
	if cfg == nil {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeNotFound, "entity type "+name, errors.ErrEntityNotRegistered),
			"entity_type", name)
	}
	return cfg, nil
}

// List returns all registered entity names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Entities returns all registered configurations in registration order.
func (r *Registry) Entities() []*EntityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*EntityConfig, 0, len(r.order))
	for _, name := range r.order {
		if c, ok := r.entities[name]; ok {
			result = append(result, c)
		}
	}
	return result
}

// Remove removes an entity type from the registry.
// Returns true if the entity was found and removed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[name]; !exists {
		return false
	}

	delete(r.entities, name)

	// Remove from order slice
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	return true
}

// Count returns the number of registered entity types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Clear removes all entity types from the registry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*EntityConfig)
	r.order = make([]string, 0)
}
