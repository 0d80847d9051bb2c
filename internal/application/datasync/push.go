package datasync

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/conflict"
	"github.com/jbctechsolutions/datasync/internal/domain/entity"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/tracing"
)

// pushTarget is one entity type resolved for a push.
type pushTarget struct {
	cfg      *EntityConfig
	endpoint *url.URL
}

// Push sends the queued operations of the given entity types (all registered
// types when empty) to the service.
//
// Operations of one entity are sent one at a time in sequence order while
// holding the entity lock. Different entities are pushed concurrently on up
// to opts.ParallelOperations workers. Operations enqueued after the call
// starts are left for the next push. Per-operation failures are collected
// in the result; only invalid options, unknown entity types and queue read
// failures are returned as errors.
func (e *Engine) Push(ctx context.Context, entityTypes []string, opts PushOptions) (*PushResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	targets, names, err := e.pushTargets(entityTypes)
	if err != nil {
		return nil, err
	}

	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	}
	ctx, span := e.tracer.StartPushSpan(ctx, names, opts.ParallelOperations)
	start := time.Now()

	// Snapshot the queue. Rows are grouped per entity, keeping sequence order.
	// The snapshot is read even when ctx is already cancelled so the call
	// still returns a result.
	local := context.WithoutCancel(ctx)
	type batch struct {
		target *pushTarget
		ops    []*operation.Operation
	}
	var batches []*batch
	byKey := make(map[string]*batch)
	pending := 0
	for _, t := range targets {
		ops, err := e.queue.Dequeue(local, t.cfg.Name)
		if err != nil {
			span.EndWithError(err)
			return nil, err
		}
		for _, op := range ops {
			b, ok := byKey[op.Key()]
			if !ok {
				b = &batch{target: t}
				byKey[op.Key()] = b
				batches = append(batches, b)
			}
			b.ops = append(b.ops, op)
			pending++
		}
	}
	logging.LogPushStart(ctx, e.logger, names, pending)

	result := &PushResult{}
	var g errgroup.Group
	g.SetLimit(opts.ParallelOperations)
	for _, b := range batches {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, op := range b.ops {
				if ctx.Err() != nil {
					return nil
				}
				for _, ev := range e.pushOperation(ctx, b.target, op, result) {
					e.notify(ctx, ev)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetCounts(result.Additions(), result.Replacements(), result.Deletions(), result.Failures())
	span.End()
	logging.LogPushComplete(ctx, e.logger, result.Additions(), result.Replacements(), result.Deletions(),
		result.Failures(), time.Since(start))
	return result, nil
}

func (e *Engine) pushTargets(entityTypes []string) ([]*pushTarget, []string, error) {
	if len(entityTypes) == 0 {
		entityTypes = e.registry.List()
	}
	targets := make([]*pushTarget, 0, len(entityTypes))
	for _, name := range entityTypes {
		cfg, err := e.registry.GetRequired(name)
		if err != nil {
			return nil, nil, err
		}
		endpoint, err := e.endpointURL(cfg.Endpoint)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, &pushTarget{cfg: cfg, endpoint: endpoint})
	}
	return targets, entityTypes, nil
}

// pushOperation sends one snapshotted operation under its entity lock and
// returns the local commits to announce once the lock is released.
func (e *Engine) pushOperation(ctx context.Context, t *pushTarget, snap *operation.Operation, result *PushResult) []CommitEvent {
	release, err := e.locks.LockContext(ctx, snap.Key())
	if err != nil {
		return nil
	}
	defer release()

	// Once the lock is held the request goes out and its result is applied
	// even if ctx is cancelled meanwhile.
	work := logging.WithOperationID(logging.WithEntityType(context.WithoutCancel(ctx), snap.EntityType), snap.ID)

	op, err := e.queue.Get(work, snap.ID)
	if errors.Is(err, errors.ErrOperationNotFound) {
		return nil
	}
	if err != nil {
		result.addLocalError(snap.ItemID, err)
		return nil
	}
	if op.State == operation.StateFailed {
		return nil
	}

	now := time.Now().UTC()
	op.State = operation.StateProcessing
	op.LastAttempt = &now
	if err := e.queue.Update(work, op); err != nil {
		result.addLocalError(op.ItemID, err)
		return nil
	}

	work, span := e.tracer.StartOperationSpan(work, op.EntityType, op.ItemID, string(op.Kind))
	events, err := e.sendOperation(work, t, op, span, result)
	if err != nil {
		span.EndWithError(err)
	} else {
		span.End()
	}
	return events
}

// sendOperation executes op, retrying once after a conflict the resolver
// settled on the client side. A failed retry requeues the operation as it
// is stored, so an unconditional resend is never persisted.
func (e *Engine) sendOperation(ctx context.Context, t *pushTarget, op *operation.Operation, span *tracing.RequestSpan, result *PushResult) ([]CommitEvent, error) {
	desc := t.cfg.Descriptor
	var events []CommitEvent
	queued := op

	for attempt := 0; ; attempt++ {
		x, err := NewExecutable(op, t.endpoint, desc)
		if err != nil {
			e.requeue(ctx, queued, 0)
			result.addLocalError(op.ItemID, err)
			return events, err
		}

		sent := time.Now()
		resp, err := x.Execute(ctx, e.remote)
		if err != nil {
			err = errors.WithContext(errors.NewError(errors.CodeTransport, "could not send "+x.URI(), err), "item_id", op.ItemID)
			e.requeue(ctx, queued, 0)
			result.addLocalError(op.ItemID, err)
			logging.LogOperationFailed(ctx, e.logger, op.ItemID, 0, err)
			return events, err
		}
		span.SetStatusCode(resp.StatusCode)
		logging.LogOperationSent(ctx, e.logger, string(op.Kind), op.ItemID, resp.StatusCode, time.Since(sent))

		switch {
		case resp.IsSuccessful() || isGone(op, resp):
			span.SetOutcome("applied")
			return append(events, e.applyPushed(ctx, t.cfg, op, resp, result)...), nil

		case resp.IsConflict() && attempt == 0:
			next, stored, evs := e.resolvePushConflict(ctx, t.cfg, op, x.URI(), resp, span, result)
			events = append(events, evs...)
			if next == nil {
				return events, nil
			}
			if stored {
				queued = next
			}
			op = next

		default:
			span.SetOutcome("failed")
			e.requeue(ctx, queued, resp.StatusCode)
			result.addFailedRequest(x.URI(), resp)
			logging.LogOperationFailed(ctx, e.logger, op.ItemID, resp.StatusCode, nil)
			return events, nil
		}
	}
}

// isGone reports a delete for an entity the service no longer has.
func isGone(op *operation.Operation, resp *ports.ServiceResponse) bool {
	return op.Kind == operation.KindDelete &&
		(resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone)
}

// applyPushed completes a sent operation: the queue row is removed and the
// entity the service returned is written back to the local store.
func (e *Engine) applyPushed(ctx context.Context, cfg *EntityConfig, op *operation.Operation, resp *ports.ServiceResponse, result *PushResult) []CommitEvent {
	desc := cfg.Descriptor

	if op.Kind == operation.KindDelete {
		e.complete(ctx, op, "")
		result.addDeletion()
		return nil
	}

	doc := op.Item
	if resp.HasContent() {
		if !gjson.ValidBytes(resp.Content) {
			e.complete(ctx, op, desc.VersionFromETag(resp.ETag()))
			result.addLocalError(op.ItemID,
				errors.WithContext(errors.NewError(errors.CodeSerialization, "service returned malformed entity", nil), "item_id", op.ItemID))
			return nil
		}
		doc = resp.Content
	}
	doc = e.withResponseHeaders(desc, doc, resp)

	e.complete(ctx, op, desc.Version(doc))
	switch op.Kind {
	case operation.KindCreate:
		result.addAddition()
	case operation.KindReplace:
		result.addReplacement()
	}

	ev, err := e.writeEntity(ctx, cfg, op.ItemID, doc, SourcePush)
	if err != nil {
		result.addLocalError(op.ItemID, err)
		return nil
	}
	return []CommitEvent{ev}
}

// withResponseHeaders copies ETag into the version field and Last-Modified
// into an absent updatedAt field.
func (e *Engine) withResponseHeaders(desc entity.Descriptor, doc []byte, resp *ports.ServiceResponse) []byte {
	if etag := resp.ETag(); etag != "" {
		if out, err := desc.SetVersion(doc, desc.VersionFromETag(etag)); err == nil {
			doc = out
		}
	}
	if lm, ok := resp.LastModified(); ok && desc.SupportsIncremental() {
		if _, has := desc.UpdatedAt(doc); !has {
			if out, err := desc.SetUpdatedAt(doc, lm); err == nil {
				doc = out
			}
		}
	}
	return doc
}

// writeEntity upserts doc as the local row of itemID. A service-assigned id
// that differs from itemID moves the row.
func (e *Engine) writeEntity(ctx context.Context, cfg *EntityConfig, itemID string, doc []byte, source ChangeSource) (CommitEvent, error) {
	desc := cfg.Descriptor
	id, err := desc.ID(doc)
	if errors.Is(err, errors.ErrMissingEntityID) {
		id = itemID
		doc, err = desc.SetID(doc, id)
	}
	if err != nil {
		return CommitEvent{}, err
	}
	if id != itemID {
		if _, err := e.store.Delete(ctx, cfg.Name, itemID); err != nil {
			return CommitEvent{}, err
		}
	}

	updatedAt, _ := desc.UpdatedAt(doc)
	inserted, err := e.store.Upsert(ctx, &ports.EntityRecord{EntityType: cfg.Name, ID: id, Data: doc, UpdatedAt: updatedAt})
	if err != nil {
		return CommitEvent{}, err
	}
	change := ChangeReplaced
	if inserted {
		change = ChangeAdded
	}
	return CommitEvent{EntityType: cfg.Name, ItemID: id, Source: source, Change: change, Data: doc}, nil
}

// resolvePushConflict asks the resolver about a 409/412. It returns the
// operation to resend, or nil when the operation is settled or left queued.
// stored reports whether the resend was also written to the queue.
func (e *Engine) resolvePushConflict(ctx context.Context, cfg *EntityConfig, op *operation.Operation, uri string, resp *ports.ServiceResponse, span *tracing.RequestSpan, result *PushResult) (next *operation.Operation, stored bool, events []CommitEvent) {
	desc := cfg.Descriptor

	var serverItem []byte
	if resp.HasContent() {
		if !gjson.ValidBytes(resp.Content) {
			span.SetOutcome("failed")
			e.requeue(ctx, op, resp.StatusCode)
			result.addLocalError(op.ItemID,
				errors.WithContext(errors.NewError(errors.CodeSerialization, "service returned malformed entity", nil), "item_id", op.ItemID))
			return nil, false, nil
		}
		serverItem = e.withResponseHeaders(desc, resp.Content, resp)
	}

	c := &conflict.Conflict{
		EntityType: op.EntityType,
		ItemID:     op.ItemID,
		Kind:       string(op.Kind),
		StatusCode: resp.StatusCode,
		ClientItem: op.Item,
		ServerItem: serverItem,
	}
	c.ClientUpdatedAt, _ = desc.UpdatedAt(op.Item)
	if serverItem != nil {
		c.ServerUpdatedAt, _ = desc.UpdatedAt(serverItem)
	}

	outcome, err := e.resolverFor(cfg).Resolve(ctx, c)
	if err != nil {
		span.SetOutcome("failed")
		e.requeue(ctx, op, resp.StatusCode)
		result.addLocalError(op.ItemID,
			errors.WithContext(errors.NewError(errors.CodeConflict, "conflict resolver failed", err), "item_id", op.ItemID))
		return nil, false, nil
	}
	if outcome.Decision == conflict.ServerWins && serverItem == nil {
		outcome = conflict.ResolveUnresolved()
	}
	logging.LogConflict(ctx, e.logger, op.ItemID, resp.StatusCode, outcome.Decision.String())

	switch outcome.Decision {
	case conflict.ClientWins:
		span.SetOutcome("client_wins")
		next = op.Clone()
		next.EntityVersion = ""
		if next.Kind == operation.KindCreate {
			next.Kind = operation.KindReplace
		}
		return next, false, nil

	case conflict.Merged:
		span.SetOutcome("merged")
		next = op.Clone()
		next.EntityVersion = ""
		if serverItem != nil {
			next.EntityVersion = desc.Version(serverItem)
		}
		if next.Kind == operation.KindDelete {
			return next, false, nil
		}
		next.Kind = operation.KindReplace
		next.Item = outcome.Entity
		if err := e.queue.Update(ctx, next); err != nil {
			result.addLocalError(op.ItemID, err)
			return nil, false, nil
		}
		ev, err := e.writeEntity(ctx, cfg, op.ItemID, next.Item, SourcePush)
		if err != nil {
			e.requeue(ctx, next, resp.StatusCode)
			result.addLocalError(op.ItemID, err)
			return nil, false, nil
		}
		return next, true, []CommitEvent{ev}

	case conflict.ServerWins:
		span.SetOutcome("server_wins")
		e.complete(ctx, op, desc.Version(serverItem))
		if desc.Deleted(serverItem) {
			existed, err := e.store.Delete(ctx, cfg.Name, op.ItemID)
			if err != nil {
				result.addLocalError(op.ItemID, err)
				return nil, false, nil
			}
			if !existed {
				return nil, false, nil
			}
			return nil, false, []CommitEvent{{EntityType: cfg.Name, ItemID: op.ItemID, Source: SourcePush, Change: ChangeDeleted}}
		}
		ev, err := e.writeEntity(ctx, cfg, op.ItemID, serverItem, SourcePush)
		if err != nil {
			result.addLocalError(op.ItemID, err)
			return nil, false, nil
		}
		return nil, false, []CommitEvent{ev}

	default:
		span.SetOutcome("unresolved")
		e.requeue(ctx, op, resp.StatusCode)
		result.addFailedRequest(uri, resp)
		return nil, false, nil
	}
}

// complete removes a sent operation. When a mutation was merged into the
// row while it was in flight, the row is kept and rebased on the version
// the service now holds.
func (e *Engine) complete(ctx context.Context, op *operation.Operation, serverVersion string) {
	err := e.queue.Remove(ctx, op.ID, op.Version)
	if err == nil || !errors.Is(err, errors.ErrQueueRace) {
		if err != nil {
			e.logger.WarnContext(ctx, "could not remove operation", "item_id", op.ItemID, "error", err.Error())
		}
		return
	}

	cur, err := e.queue.Get(ctx, op.ID)
	if err != nil {
		return
	}
	if cur.Kind == operation.KindCreate {
		cur.Kind = operation.KindReplace
	}
	cur.EntityVersion = serverVersion
	cur.State = operation.StatePending
	if err := e.queue.Update(ctx, cur); err != nil {
		e.logger.WarnContext(ctx, "could not rebase operation", "item_id", op.ItemID, "error", err.Error())
	}
}

// requeue returns an operation to pending after a failed attempt. The
// operation keeps its sequence.
func (e *Engine) requeue(ctx context.Context, op *operation.Operation, status int) {
	op.State = operation.StatePending
	op.HTTPStatus = status
	err := e.queue.Update(ctx, op)
	if errors.Is(err, errors.ErrQueueRace) {
		var cur *operation.Operation
		if cur, err = e.queue.Get(ctx, op.ID); err == nil {
			if cur.State == operation.StateProcessing {
				cur.State = operation.StatePending
			}
			cur.HTTPStatus = status
			err = e.queue.Update(ctx, cur)
		}
	}
	if err != nil && !errors.Is(err, errors.ErrOperationNotFound) {
		e.logger.WarnContext(ctx, "could not requeue operation", "item_id", op.ItemID, "error", err.Error())
	}
}
