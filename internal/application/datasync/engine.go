package datasync

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/lock"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/tracing"
)

// ChangeSource tells commit handlers who changed the local store.
type ChangeSource string

const (
	SourceLocal ChangeSource = "local" // Insert, Replace or Delete called by the application
	SourcePush  ChangeSource = "push"  // Server response applied after a push
	SourcePull  ChangeSource = "pull"  // Row applied by a pull
)

// ChangeKind is the kind of change committed to the local store.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeReplaced ChangeKind = "replaced"
	ChangeDeleted  ChangeKind = "deleted"
)

// CommitEvent describes one committed local-store change.
type CommitEvent struct {
	EntityType string
	ItemID     string
	Source     ChangeSource
	Change     ChangeKind
	Data       []byte // nil for deletions
}

// CommitHandler is called synchronously after a local-store commit, outside
// the entity lock.
type CommitHandler func(ctx context.Context, ev CommitEvent)

// Engine coordinates the operations queue, the delta token store, the local
// entity store and the remote service.
type Engine struct {
	registry *Registry
	queue    ports.OperationQueuePort
	tokens   ports.DeltaTokenPort
	store    ports.EntityStorePort
	remote   ports.RemotePort
	locks    *lock.Dictionary
	resolver conflict.Resolver
	logger   *logging.Logger
	tracer   *tracing.Tracer

	mu       sync.RWMutex
	handlers []CommitHandler
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the conflict resolver used for entity types that do not
// register their own.
func WithResolver(r conflict.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLocks shares a lock dictionary with other components.
func WithLocks(d *lock.Dictionary) Option {
	return func(e *Engine) {
		e.locks = d
	}
}

// WithCommitHandler registers a post-commit handler.
func WithCommitHandler(h CommitHandler) Option {
	return func(e *Engine) {
		e.handlers = append(e.handlers, h)
	}
}

// New creates an engine. Without WithResolver every conflict is reported
// as a failed request.
func New(
	registry *Registry,
	queue ports.OperationQueuePort,
	tokens ports.DeltaTokenPort,
	store ports.EntityStorePort,
	remote ports.RemotePort,
	opts ...Option,
) *Engine {
	e := &Engine{
		registry: registry,
		queue:    queue,
		tokens:   tokens,
		store:    store,
		remote:   remote,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.locks == nil {
		e.locks = lock.NewDictionary()
	}
	if e.resolver == nil {
		e.resolver, _ = conflict.NewResolver(conflict.StrategyUnresolved)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	if e.tracer == nil {
		e.tracer = tracing.Default()
	}
	return e
}

// Registry returns the entity registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// OnCommit adds a post-commit handler.
func (e *Engine) OnCommit(h CommitHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

func (e *Engine) notify(ctx context.Context, ev CommitEvent) {
	e.mu.RLock()
	handlers := make([]CommitHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// --- Mutation handler ---

// Insert stores a new entity locally and queues its creation. An entity
// without an id is given a random one. Returns the stored document.
func (e *Engine) Insert(ctx context.Context, entityType string, doc []byte) ([]byte, error) {
	cfg, err := e.registry.GetRequired(entityType)
	if err != nil {
		return nil, err
	}

	id, err := cfg.Descriptor.ID(doc)
	if errors.Is(err, errors.ErrMissingEntityID) {
		id = uuid.New().String()
		if doc, err = cfg.Descriptor.SetID(doc, id); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	release, err := e.locks.LockContext(ctx, operation.EntityKey(entityType, id))
	if err != nil {
		return nil, err
	}
	defer func() {
		if release != nil {
			release()
		}
	}()

	if _, err := e.store.Get(ctx, entityType, id); err == nil {
		return nil, errors.WithContext(
			errors.NewError(errors.CodeValidation, fmt.Sprintf("entity %s/%s already exists", entityType, id), nil),
			"entity_type", entityType)
	} else if !errors.Is(err, errors.ErrEntityNotFound) {
		return nil, err
	}

	op, err := operation.New(entityType, id, operation.KindCreate, doc, "")
	if err != nil {
		return nil, err
	}
	if err := e.checkMerge(ctx, op); err != nil {
		return nil, err
	}

	updatedAt, _ := cfg.Descriptor.UpdatedAt(doc)
	if _, err := e.store.Upsert(ctx, &ports.EntityRecord{EntityType: entityType, ID: id, Data: doc, UpdatedAt: updatedAt}); err != nil {
		return nil, err
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return nil, err
	}

	release()
	release = nil
	e.notify(ctx, CommitEvent{EntityType: entityType, ItemID: id, Source: SourceLocal, Change: ChangeAdded, Data: doc})
	return doc, nil
}

// Replace overwrites an existing local entity and queues the replacement.
// The version in doc is sent as the expected server version.
func (e *Engine) Replace(ctx context.Context, entityType string, doc []byte) error {
	cfg, err := e.registry.GetRequired(entityType)
	if err != nil {
		return err
	}
	id, err := cfg.Descriptor.ID(doc)
	if err != nil {
		return err
	}

	release, err := e.locks.LockContext(ctx, operation.EntityKey(entityType, id))
	if err != nil {
		return err
	}
	defer func() {
		if release != nil {
			release()
		}
	}()

	if _, err := e.store.Get(ctx, entityType, id); err != nil {
		return err
	}

	op, err := operation.New(entityType, id, operation.KindReplace, doc, cfg.Descriptor.Version(doc))
	if err != nil {
		return err
	}
	if err := e.checkMerge(ctx, op); err != nil {
		return err
	}

	updatedAt, _ := cfg.Descriptor.UpdatedAt(doc)
	if _, err := e.store.Upsert(ctx, &ports.EntityRecord{EntityType: entityType, ID: id, Data: doc, UpdatedAt: updatedAt}); err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return err
	}

	release()
	release = nil
	e.notify(ctx, CommitEvent{EntityType: entityType, ItemID: id, Source: SourceLocal, Change: ChangeReplaced, Data: doc})
	return nil
}

// Delete removes a local entity and queues its deletion. The stored
// version is sent as the expected server version.
func (e *Engine) Delete(ctx context.Context, entityType, id string) error {
	cfg, err := e.registry.GetRequired(entityType)
	if err != nil {
		return err
	}

	release, err := e.locks.LockContext(ctx, operation.EntityKey(entityType, id))
	if err != nil {
		return err
	}
	defer func() {
		if release != nil {
			release()
		}
	}()

	rec, err := e.store.Get(ctx, entityType, id)
	if err != nil {
		return err
	}

	op, err := operation.New(entityType, id, operation.KindDelete, rec.Data, cfg.Descriptor.Version(rec.Data))
	if err != nil {
		return err
	}
	if err := e.checkMerge(ctx, op); err != nil {
		return err
	}

	if _, err := e.store.Delete(ctx, entityType, id); err != nil {
		return err
	}
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return err
	}

	release()
	release = nil
	e.notify(ctx, CommitEvent{EntityType: entityType, ItemID: id, Source: SourceLocal, Change: ChangeDeleted})
	return nil
}

// Get returns a local entity.
func (e *Engine) Get(ctx context.Context, entityType, id string) ([]byte, error) {
	if _, err := e.registry.GetRequired(entityType); err != nil {
		return nil, err
	}
	rec, err := e.store.Get(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// checkMerge rejects a mutation the queue would refuse before the local
// store is touched. The caller holds the entity lock.
func (e *Engine) checkMerge(ctx context.Context, op *operation.Operation) error {
	existing, err := e.queue.FindByItem(ctx, op.EntityType, op.ItemID)
	if err != nil {
		return err
	}
	_, _, err = operation.Merge(existing, op)
	return err
}

// --- Queue administration ---

// Hold parks an operation so pushes skip it.
func (e *Engine) Hold(ctx context.Context, operationID string) error {
	return e.transition(ctx, operationID, func(op *operation.Operation) error {
		if !op.IsActive() {
			return errors.NewError(errors.CodeQueue, "operation "+op.ID+" is "+string(op.State), errors.ErrInvalidQueueTransition)
		}
		op.State = operation.StateFailed
		return nil
	})
}

// Retry returns a parked operation to the queue.
func (e *Engine) Retry(ctx context.Context, operationID string) error {
	return e.transition(ctx, operationID, func(op *operation.Operation) error {
		if op.State != operation.StateFailed {
			return errors.NewError(errors.CodeQueue, "operation "+op.ID+" is not held", errors.ErrInvalidQueueTransition)
		}
		op.State = operation.StatePending
		return nil
	})
}

// Discard drops an operation without sending it. The local entity is left
// as it is.
func (e *Engine) Discard(ctx context.Context, operationID string) error {
	op, err := e.queue.Get(ctx, operationID)
	if err != nil {
		return err
	}
	release, err := e.locks.LockContext(ctx, op.Key())
	if err != nil {
		return err
	}
	defer release()
	return e.queue.Remove(ctx, operationID, 0)
}

func (e *Engine) transition(ctx context.Context, operationID string, apply func(*operation.Operation) error) error {
	op, err := e.queue.Get(ctx, operationID)
	if err != nil {
		return err
	}
	release, err := e.locks.LockContext(ctx, op.Key())
	if err != nil {
		return err
	}
	defer release()

	// Re-read under the lock.
	if op, err = e.queue.Get(ctx, operationID); err != nil {
		return err
	}
	if err := apply(op); err != nil {
		return err
	}
	return e.queue.Update(ctx, op)
}

// endpointURL resolves an entity endpoint against the service base URL.
func (e *Engine) endpointURL(endpoint string) (*url.URL, error) {
	return ResolveEndpoint(e.remote.BaseURL(), endpoint)
}

func (e *Engine) resolverFor(cfg *EntityConfig) conflict.Resolver {
	if cfg.Resolver != nil {
		return cfg.Resolver
	}
	return e.resolver
}
