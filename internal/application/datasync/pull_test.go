package datasync_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/jbctechsolutions/datasync/internal/application/datasync"
	"github.com/jbctechsolutions/datasync/internal/domain/entity"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/query"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rowAt(i int) time.Time {
	return baseTime.Add(time.Duration(i) * time.Second)
}

func movieRow(i int) string {
	return fmt.Sprintf(`{"id":"m%03d","title":"T%d","version":"v1","updatedAt":%q,"deleted":false}`,
		i, i, rowAt(i).Format(time.RFC3339Nano))
}

// pageOf renders rows [from, to) as a page envelope.
func pageOf(from, to int, nextLink string) string {
	rows := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		rows = append(rows, movieRow(i))
	}
	body := `{"items":[` + strings.Join(rows, ",") + `],"count":` + fmt.Sprint(len(rows))
	if nextLink != "" {
		body += `,"nextLink":"` + nextLink + `"`
	}
	return body + "}"
}

func (f *fixture) queryID(t *testing.T) string {
	t.Helper()
	id, err := f.engine.QueryIDFor(datasync.PullRequest{EntityType: "movies"})
	require.NoError(t, err)
	return id
}

func (f *fixture) token(t *testing.T) time.Time {
	t.Helper()
	tok, err := f.db.Tokens.Get(context.Background(), f.queryID(t))
	require.NoError(t, err)
	return tok
}

func (f *fixture) entityCount(t *testing.T) int {
	t.Helper()
	n, err := f.db.Entities.Count(context.Background(), "movies")
	require.NoError(t, err)
	return n
}

func TestPull_TwoPages(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/tables/movies", r.URL.Path)
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, pageOf(100, 150, ""))
			return
		}
		writeJSON(w, http.StatusOK, pageOf(0, 100, "/tables/movies?page=2"))
	}))
	ctx := context.Background()

	result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, 150, result.Additions())
	assert.Zero(t, result.Replacements())

	assert.Equal(t, 150, f.entityCount(t))
	assert.True(t, f.token(t).Equal(rowAt(149)), "token = %v", f.token(t))

	reqs := rec.all()
	require.Len(t, reqs, 2)
	first := reqs[0].Query
	assert.Equal(t, "(updatedAt gt cast(1970-01-01T00:00:00.000Z,Edm.DateTimeOffset))", first.Get("$filter"))
	assert.Equal(t, "updatedAt,id", first.Get("$orderby"))
	assert.Equal(t, "true", first.Get(query.IncludeDeletedParam))
}

func TestPull_SecondPullStartsFromToken(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pageOf(0, 3, ""))
	}))
	ctx := context.Background()

	_, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)

	result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Replacements(), "re-applied rows replace")

	reqs := rec.all()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Query.Get("$filter"), query.FormatTime(rowAt(2)))
}

func TestPull_PageFailureResumes(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	resumeFrom := query.FormatTime(rowAt(2))

	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("page") == "2" && failing.Load():
			writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
		case q.Get("page") == "2":
			writeJSON(w, http.StatusOK, pageOf(3, 5, ""))
		case strings.Contains(q.Get("$filter"), resumeFrom):
			writeJSON(w, http.StatusOK, pageOf(3, 5, ""))
		default:
			writeJSON(w, http.StatusOK, pageOf(0, 3, "/tables/movies?page=2"))
		}
	}))
	ctx := context.Background()

	result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.False(t, result.IsSuccessful())
	assert.Equal(t, 3, result.Additions())
	require.Len(t, result.FailedRequests(), 1)
	assert.Contains(t, result.FailedRequests(), f.server.URL+"/tables/movies?page=2")
	assert.True(t, f.token(t).Equal(rowAt(2)), "token must hold page 1's watermark, got %v", f.token(t))

	failing.Store(false)
	result, err = f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, 2, result.Additions())
	assert.Zero(t, result.Replacements(), "no row is applied twice")
	assert.Equal(t, 5, f.entityCount(t))
	assert.True(t, f.token(t).Equal(rowAt(4)))
}

func TestPull_CancelDuringPageAppliesItAndStops(t *testing.T) {
	rec := &recorder{}
	inFlight := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once

	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, pageOf(10, 20, ""))
			return
		}
		once.Do(func() { close(inFlight) })
		<-proceed
		writeJSON(w, http.StatusOK, pageOf(0, 10, "/tables/movies?page=2"))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pulled := make(chan *datasync.PullResult, 1)
	go func() {
		result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
		assert.NoError(t, err)
		pulled <- result
	}()

	<-inFlight
	cancel()
	close(proceed)

	result := <-pulled
	assert.Equal(t, 10, result.Additions())
	assert.Zero(t, result.Failures())
	assert.Equal(t, 10, f.entityCount(t))
	assert.True(t, f.token(t).Equal(rowAt(9)), "token = %v", f.token(t))

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Query.Get("page"))
}

func TestPull_SaveAtEndOfQuery(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			if failing.Load() {
				writeJSON(w, http.StatusServiceUnavailable, `{}`)
				return
			}
			writeJSON(w, http.StatusOK, pageOf(3, 5, ""))
			return
		}
		writeJSON(w, http.StatusOK, pageOf(0, 3, "/tables/movies?page=2"))
	}))
	ctx := context.Background()
	opts := datasync.PullOptions{ParallelOperations: 1, SaveAfterEveryPage: false}

	result, err := f.engine.Pull(ctx, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Additions())
	assert.True(t, f.token(t).Equal(query.Epoch), "token must not move before the last page")

	failing.Store(false)
	result, err = f.engine.Pull(ctx, nil, opts)
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, 3, result.Replacements())
	assert.Equal(t, 2, result.Additions())
	assert.True(t, f.token(t).Equal(rowAt(4)))
}

func TestPull_TokenNeverDecreases(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		// A stale row older than the stored watermark.
		writeJSON(w, http.StatusOK, pageOf(1, 2, ""))
	}))
	ctx := context.Background()
	require.NoError(t, f.db.Tokens.Set(ctx, f.queryID(t), rowAt(10)))

	for i := 0; i < 2; i++ {
		_, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
		require.NoError(t, err)
		assert.True(t, f.token(t).Equal(rowAt(10)))
	}
	assert.Contains(t, rec.all()[0].Query.Get("$filter"), query.FormatTime(rowAt(10)))
}

func TestPull_EmptyPageKeepsToken(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[]}`)
	}))
	ctx := context.Background()
	require.NoError(t, f.db.Tokens.Set(ctx, f.queryID(t), rowAt(5)))

	result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.True(t, f.token(t).Equal(rowAt(5)))
}

func TestPull_SkipsQueuedEntitiesAndAppliesDeletes(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[
			{"id":"m1","title":"Server","updatedAt":"2024-01-01T00:00:01Z"},
			{"id":"m2","deleted":true,"updatedAt":"2024-01-01T00:00:02Z"},
			{"id":"m3","deleted":true,"updatedAt":"2024-01-01T00:00:03Z"},
			{"id":"m4","title":"New","updatedAt":"2024-01-01T00:00:04Z"}
		]}`)
	}))
	ctx := context.Background()

	_, err := f.engine.Insert(ctx, "movies", []byte(`{"id":"m1","title":"Local"}`))
	require.NoError(t, err)
	f.seed(t, `{"id":"m2","title":"Doomed"}`)

	result, err := f.engine.Pull(ctx, nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, 1, result.Skipped())
	assert.Equal(t, 1, result.Deletions(), "only rows that existed locally count as deletions")
	assert.Equal(t, 1, result.Additions())

	assert.Equal(t, "Local", gjson.GetBytes(f.get(t, "m1"), "title").String())
	_, err = f.engine.Get(ctx, "movies", "m2")
	assert.ErrorIs(t, err, errors.ErrEntityNotFound)
	assert.Equal(t, "New", gjson.GetBytes(f.get(t, "m4"), "title").String())
	assert.True(t, f.token(t).Equal(rowAt(4)))
}

func TestPull_RowWithoutIDIsLocalError(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[{"title":"orphan","updatedAt":"2024-01-01T00:00:01Z"},`+movieRow(2)+`]}`)
	}))

	result, err := f.engine.Pull(context.Background(), nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.False(t, result.IsSuccessful())
	assert.Len(t, result.LocalErrors(), 1)
	assert.Equal(t, 1, result.Additions())
}

func TestPull_MalformedPageStopsQuery(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":`)
	}))

	result, err := f.engine.Pull(context.Background(), nil, datasync.DefaultPullOptions())
	require.NoError(t, err)

	localErrors := result.LocalErrors()
	require.Contains(t, localErrors, f.queryID(t))
	assert.Equal(t, errors.CodeSerialization, errors.CodeOf(localErrors[f.queryID(t)]))
	assert.True(t, f.token(t).Equal(query.Epoch))
}

func TestPull_TransportError(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler())
	f.server.Close()

	result, err := f.engine.Pull(context.Background(), nil, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.False(t, result.IsSuccessful())
	assert.Equal(t, errors.CodeTransport, errors.CodeOf(result.LocalErrors()[f.queryID(t)]))
}

func TestPull_ExplicitRequest(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/movies", r.URL.Path)
		writeJSON(w, http.StatusOK, pageOf(0, 2, ""))
	}))
	ctx := context.Background()

	req := datasync.PullRequest{
		EntityType: "movies",
		Endpoint:   "v2/movies",
		Query:      query.Description{Filter: "rating gt 3", Skip: 10, Top: 50},
		QueryID:    "movies-top-rated",
	}
	result, err := f.engine.Pull(ctx, []datasync.PullRequest{req}, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Additions())

	q := rec.all()[0].Query
	assert.Equal(t, "(rating gt 3) and (updatedAt gt cast(1970-01-01T00:00:00.000Z,Edm.DateTimeOffset))", q.Get("$filter"))
	assert.Equal(t, "50", q.Get("$top"))
	assert.Empty(t, q.Get("$skip"))

	tok, err := f.db.Tokens.Get(ctx, "movies-top-rated")
	require.NoError(t, err)
	assert.True(t, tok.Equal(rowAt(1)))

	require.NoError(t, f.engine.ResetToken(ctx, "movies-top-rated"))
	tok, _ = f.db.Tokens.Get(ctx, "movies-top-rated")
	assert.True(t, tok.Equal(query.Epoch))

	req.QueryID = "9-invalid"
	_, err = f.engine.Pull(ctx, []datasync.PullRequest{req}, datasync.DefaultPullOptions())
	assert.ErrorIs(t, err, errors.ErrInvalidQueryID)
}

func TestPull_NonIncrementalEntity(t *testing.T) {
	rec := &recorder{}
	f := newFixture(t, rec.wrap(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"items":[{"id":"g1","name":"Drama"},{"id":"g2","name":"Comedy"}]}`)
	}))
	require.NoError(t, f.engine.Registry().Register(datasync.EntityConfig{
		Name:       "genres",
		Endpoint:   "tables/genres",
		Descriptor: &entity.Fields{IDName: "id", VersionName: "version"},
	}))
	ctx := context.Background()

	result, err := f.engine.Pull(ctx, []datasync.PullRequest{{EntityType: "genres"}}, datasync.DefaultPullOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Additions())

	q := rec.all()[0].Query
	assert.Empty(t, q.Get("$filter"))
	assert.Equal(t, "id", q.Get("$orderby"))

	tokens, err := f.db.Tokens.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestPull_ParallelQueries(t *testing.T) {
	f := newFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/tables/actors") {
			writeJSON(w, http.StatusOK, `{"items":[{"id":"a1","updatedAt":"2024-01-01T00:00:00Z"}]}`)
			return
		}
		writeJSON(w, http.StatusOK, pageOf(0, 10, ""))
	}))
	require.NoError(t, f.engine.Registry().Register(datasync.EntityConfig{
		Name:       "actors",
		Endpoint:   "tables/actors",
		Descriptor: entity.DefaultFields(),
	}))

	result, err := f.engine.Pull(context.Background(), nil, datasync.PullOptions{ParallelOperations: 2, SaveAfterEveryPage: true})
	require.NoError(t, err)
	assert.True(t, result.IsSuccessful())
	assert.Equal(t, 11, result.Additions())
	assert.Zero(t, f.locks.Len())
}

func TestPull_OutOfRangeOptions(t *testing.T) {
	f := newFixture(t, http.NotFoundHandler())

	for _, n := range []int{0, 9} {
		_, err := f.engine.Pull(context.Background(), nil, datasync.PullOptions{ParallelOperations: n})
		assert.ErrorIs(t, err, errors.ErrOutOfRange)
	}
}
