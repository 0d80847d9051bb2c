package datasync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
	"github.com/jbctechsolutions/datasync/internal/infrastructure/logging"
)

// pullJob is a PullRequest resolved against the registry.
type pullJob struct {
	cfg      *EntityConfig
	endpoint *url.URL
	query    query.Description
	queryID  string
}

// Pull fetches remote changes into the local store. With no requests every
// registered entity type is pulled with its default query.
//
// Pages of one query id are fetched and applied strictly in order; different
// query ids run concurrently on up to opts.ParallelOperations workers. Rows
// of entities with a queued local mutation are skipped. A failed page stops
// its query and leaves the delta token at the last committed page.
func (e *Engine) Pull(ctx context.Context, requests []PullRequest, opts PullOptions) (*PullResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		for _, cfg := range e.registry.Entities() {
			requests = append(requests, cfg.DefaultPullRequest())
		}
	}

	// Jobs sharing a query id run one after another.
	var groups [][]*pullJob
	byID := make(map[string]int)
	var ids []string
	for _, req := range requests {
		job, err := e.resolvePullRequest(req)
		if err != nil {
			return nil, err
		}
		i, ok := byID[job.queryID]
		if !ok {
			i = len(groups)
			byID[job.queryID] = i
			groups = append(groups, nil)
			ids = append(ids, job.queryID)
		}
		groups[i] = append(groups[i], job)
	}

	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	}
	ctx, span := e.tracer.StartPullSpan(ctx, ids, opts.ParallelOperations)
	start := time.Now()

	result := &PullResult{}
	var g errgroup.Group
	g.SetLimit(opts.ParallelOperations)
	for _, jobs := range groups {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			for _, job := range jobs {
				if ctx.Err() != nil {
					return nil
				}
				e.pullQuery(ctx, job, opts, result)
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetCounts(result.Additions(), result.Replacements(), result.Deletions(), result.Failures())
	span.End()
	logging.LogPullComplete(ctx, e.logger, result.Additions(), result.Replacements(), result.Deletions(),
		result.Failures(), time.Since(start))
	return result, nil
}

// ResetToken forgets the delta token of a query so the next pull starts
// from the epoch.
func (e *Engine) ResetToken(ctx context.Context, queryID string) error {
	if err := query.ValidateID(queryID); err != nil {
		return err
	}
	return e.tokens.Reset(ctx, queryID)
}

// QueryIDFor returns the query id a pull request resolves to.
func (e *Engine) QueryIDFor(req PullRequest) (string, error) {
	job, err := e.resolvePullRequest(req)
	if err != nil {
		return "", err
	}
	return job.queryID, nil
}

func (e *Engine) resolvePullRequest(req PullRequest) (*pullJob, error) {
	cfg, err := e.registry.GetRequired(req.EntityType)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint
	if req.Endpoint != "" {
		endpoint = req.Endpoint
	}
	u, err := e.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	id := req.QueryID
	if id == "" {
		id = query.DeriveID(cfg.Name, req.Query)
	} else if err := query.ValidateID(id); err != nil {
		return nil, err
	}
	return &pullJob{cfg: cfg, endpoint: u, query: req.Query, queryID: id}, nil
}

// pullQuery walks the pages of one query.
func (e *Engine) pullQuery(ctx context.Context, job *pullJob, opts PullOptions, result *PullResult) {
	ctx = logging.WithQueryID(logging.WithEntityType(ctx, job.cfg.Name), job.queryID)
	desc := job.cfg.Descriptor
	incremental := desc.SupportsIncremental()
	local := context.WithoutCancel(ctx)

	since := query.Epoch
	updatedAtField := ""
	if incremental {
		var err error
		if since, err = e.tokens.Get(local, job.queryID); err != nil {
			result.addLocalError(job.queryID, err)
			logging.LogPullFailed(ctx, e.logger, job.queryID, err)
			return
		}
		updatedAtField = desc.UpdatedAtField()
	}
	logging.LogPullStart(ctx, e.logger, job.queryID, since)

	next := *job.endpoint
	next.RawQuery = query.Incremental(job.query, updatedAtField, desc.IDField(), since).Encode()
	uri := &next

	watermark := since
	complete := false
	for page := 1; ; page++ {
		if ctx.Err() != nil {
			break
		}
		// A page that has been requested is applied even if ctx is cancelled.
		p, err := e.pullPage(local, job, uri, page, result)
		if err != nil {
			logging.LogPullFailed(ctx, e.logger, job.queryID, err)
			break
		}

		if p.maxUpdatedAt.After(watermark) {
			watermark = p.maxUpdatedAt
		}
		if incremental && opts.SaveAfterEveryPage && watermark.After(since) {
			if err := e.tokens.Set(local, job.queryID, watermark); err != nil {
				result.addLocalError(job.queryID, err)
				logging.LogPullFailed(ctx, e.logger, job.queryID, err)
				return
			}
		}
		logging.LogPageApplied(ctx, e.logger, page, p.rows, p.skipped, watermark)

		if p.next == nil || p.next.String() == uri.String() {
			complete = true
			break
		}
		uri = p.next
	}

	if incremental && !opts.SaveAfterEveryPage && complete && watermark.After(since) {
		if err := e.tokens.Set(local, job.queryID, watermark); err != nil {
			result.addLocalError(job.queryID, err)
			logging.LogPullFailed(ctx, e.logger, job.queryID, err)
		}
	}
}

// pulledPage summarizes one applied page.
type pulledPage struct {
	rows         int
	skipped      int
	maxUpdatedAt time.Time
	next         *url.URL
}

// pullPage fetches one page and applies its rows. A returned error means
// the page was not fully applied; it has already been recorded in result.
func (e *Engine) pullPage(ctx context.Context, job *pullJob, uri *url.URL, page int, result *PullResult) (*pulledPage, error) {
	ctx, span := e.tracer.StartPageSpan(ctx, job.queryID, page)

	resp, err := e.remote.Send(ctx, &ports.RemoteRequest{
		Method:  http.MethodGet,
		URI:     uri,
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		err = errors.WithContext(errors.NewError(errors.CodeTransport, "could not fetch "+uri.String(), err), "query_id", job.queryID)
		result.addLocalError(job.queryID, err)
		span.EndWithError(err)
		return nil, err
	}
	span.SetStatusCode(resp.StatusCode)
	if !resp.IsSuccessful() {
		result.addFailedRequest(uri.String(), resp)
		err := fmt.Errorf("page %d returned %d %s", page, resp.StatusCode, resp.ReasonPhrase)
		span.EndWithError(err)
		return nil, err
	}

	items, nextLink, err := parsePage(resp.Content)
	if err != nil {
		result.addLocalError(job.queryID, err)
		span.EndWithError(err)
		return nil, err
	}
	span.SetRows(len(items))

	p := &pulledPage{rows: len(items)}
	desc := job.cfg.Descriptor
	for i, item := range items {
		row := []byte(item.Raw)
		if t, ok := desc.UpdatedAt(row); ok && t.After(p.maxUpdatedAt) {
			p.maxUpdatedAt = t
		}

		id, err := desc.ID(row)
		if err != nil {
			result.addLocalError(fmt.Sprintf("%s[%d:%d]", job.queryID, page, i), err)
			continue
		}

		skipped, err := e.applyPulled(ctx, job.cfg, id, row, result)
		if err != nil {
			result.addLocalError(id, err)
			span.EndWithError(err)
			return nil, err
		}
		if skipped {
			p.skipped++
		}
	}

	if nextLink != "" {
		if p.next, err = uri.Parse(nextLink); err != nil {
			err = errors.NewError(errors.CodeSerialization, "invalid nextLink "+nextLink, err)
			result.addLocalError(job.queryID, err)
			span.EndWithError(err)
			return nil, err
		}
	}
	span.End()
	return p, nil
}

// applyPulled writes one server row under the entity lock. Rows of entities
// with a queued local mutation are skipped.
func (e *Engine) applyPulled(ctx context.Context, cfg *EntityConfig, id string, row []byte, result *PullResult) (bool, error) {
	release, err := e.locks.LockContext(ctx, operation.EntityKey(cfg.Name, id))
	if err != nil {
		return false, err
	}
	ev, skipped, err := e.applyPulledLocked(ctx, cfg, id, row, result)
	release()
	if ev != nil {
		e.notify(ctx, *ev)
	}
	return skipped, err
}

func (e *Engine) applyPulledLocked(ctx context.Context, cfg *EntityConfig, id string, row []byte, result *PullResult) (*CommitEvent, bool, error) {
	queued, err := e.queue.FindByItem(ctx, cfg.Name, id)
	if err != nil {
		return nil, false, err
	}
	if queued != nil {
		result.addSkipped()
		return nil, true, nil
	}

	if cfg.Descriptor.Deleted(row) {
		existed, err := e.store.Delete(ctx, cfg.Name, id)
		if err != nil || !existed {
			return nil, false, err
		}
		result.addDeletion()
		return &CommitEvent{EntityType: cfg.Name, ItemID: id, Source: SourcePull, Change: ChangeDeleted}, false, nil
	}

	updatedAt, _ := cfg.Descriptor.UpdatedAt(row)
	inserted, err := e.store.Upsert(ctx, &ports.EntityRecord{EntityType: cfg.Name, ID: id, Data: row, UpdatedAt: updatedAt})
	if err != nil {
		return nil, false, err
	}
	change := ChangeReplaced
	if inserted {
		change = ChangeAdded
		result.addAddition()
	} else {
		result.addReplacement()
	}
	return &CommitEvent{EntityType: cfg.Name, ItemID: id, Source: SourcePull, Change: change, Data: row}, false, nil
}

// parsePage reads a page envelope {"items": [...], "count": n, "nextLink": "..."}.
// A bare JSON array is a single page.
func parsePage(content []byte) ([]gjson.Result, string, error) {
	if !gjson.ValidBytes(content) {
		return nil, "", errors.NewError(errors.CodeSerialization, "page is not valid JSON", nil)
	}
	root := gjson.ParseBytes(content)
	if root.IsArray() {
		return root.Array(), "", nil
	}
	items := root.Get("items")
	if !root.IsObject() || !items.IsArray() {
		return nil, "", errors.NewError(errors.CodeSerialization, "page has no items array", nil)
	}
	return items.Array(), root.Get("nextLink").String(), nil
}

// Sync pushes and then pulls the given entity types (all registered types
// when empty).
func (e *Engine) Sync(ctx context.Context, entityTypes []string, pushOpts PushOptions, pullOpts PullOptions) (*PushResult, *PullResult, error) {
	pushed, err := e.Push(ctx, entityTypes, pushOpts)
	if err != nil {
		return nil, nil, err
	}

	var requests []PullRequest
	for _, name := range entityTypes {
		cfg, err := e.registry.GetRequired(name)
		if err != nil {
			return pushed, nil, err
		}
		requests = append(requests, cfg.DefaultPullRequest())
	}
	pulled, err := e.Pull(ctx, requests, pullOpts)
	if err != nil {
		return pushed, nil, err
	}
	return pushed, pulled, nil
}
