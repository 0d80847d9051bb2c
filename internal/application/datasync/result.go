package datasync

import (
	"sync"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
)

// Result aggregates the outcome of a push or pull. It is safe for
// concurrent use by the workers of one call. The zero value is empty.
type Result struct {
	mu             sync.Mutex
	additions      int
	replacements   int
	deletions      int
	skipped        int
	failedRequests map[string]*ports.ServiceResponse
	localErrors    map[string]error
}

// PushResult is the outcome of a push.
type PushResult struct {
	Result
}

// PullResult is the outcome of a pull.
type PullResult struct {
	Result
}

// Additions is the number of entities created.
func (r *Result) Additions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.additions
}

// Replacements is the number of entities replaced.
func (r *Result) Replacements() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replacements
}

// Deletions is the number of entities deleted.
func (r *Result) Deletions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletions
}

// Skipped is the number of pulled rows dropped because the entity had a
// queued local mutation.
func (r *Result) Skipped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

// FailedRequests maps request URIs to the responses that failed them.
func (r *Result) FailedRequests() map[string]*ports.ServiceResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*ports.ServiceResponse, len(r.failedRequests))
	for k, v := range r.failedRequests {
		out[k] = v
	}
	return out
}

// LocalErrors maps entity ids (or query ids for pull-level failures) to
// errors raised on this side of the wire.
func (r *Result) LocalErrors() map[string]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]error, len(r.localErrors))
	for k, v := range r.localErrors {
		out[k] = v
	}
	return out
}

// Failures is the number of failed requests plus local errors.
func (r *Result) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failedRequests) + len(r.localErrors)
}

// IsSuccessful reports whether nothing failed.
func (r *Result) IsSuccessful() bool {
	return r.Failures() == 0
}

func (r *Result) addAddition() {
	r.mu.Lock()
	r.additions++
	r.mu.Unlock()
}

func (r *Result) addReplacement() {
	r.mu.Lock()
	r.replacements++
	r.mu.Unlock()
}

func (r *Result) addDeletion() {
	r.mu.Lock()
	r.deletions++
	r.mu.Unlock()
}

func (r *Result) addSkipped() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

func (r *Result) addFailedRequest(uri string, resp *ports.ServiceResponse) {
	r.mu.Lock()
	if r.failedRequests == nil {
		r.failedRequests = make(map[string]*ports.ServiceResponse)
	}
	r.failedRequests[uri] = resp
	r.mu.Unlock()
}

func (r *Result) addLocalError(key string, err error) {
	r.mu.Lock()
	if r.localErrors == nil {
		r.localErrors = make(map[string]error)
	}
	r.localErrors[key] = err
	r.mu.Unlock()
}
