package ports

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// RemoteRequest is one outbound request to the table service.
type RemoteRequest struct {
	Method  string
	URI     *url.URL // absolute
	Body    []byte
	Headers map[string]string
}

// ServiceResponse captures what the service answered.
type ServiceResponse struct {
	StatusCode   int
	ReasonPhrase string
	Content      []byte
	Headers      http.Header
}

// IsSuccessful reports a 2xx status.
func (r *ServiceResponse) IsSuccessful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsConflict reports 409 Conflict or 412 Precondition Failed.
func (r *ServiceResponse) IsConflict() bool {
	return r.StatusCode == http.StatusConflict || r.StatusCode == http.StatusPreconditionFailed
}

// HasContent reports whether the response carried a body.
func (r *ServiceResponse) HasContent() bool {
	return len(r.Content) > 0
}

// ETag returns the ETag header.
func (r *ServiceResponse) ETag() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("ETag")
}

// LastModified parses the Last-Modified header.
func (r *ServiceResponse) LastModified() (time.Time, bool) {
	if r.Headers == nil {
		return time.Time{}, false
	}
	v := r.Headers.Get("Last-Modified")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// RemotePort defines the capability to talk to the remote table service.
type RemotePort interface {
	// Send issues a request. HTTP error statuses are returned in the
	// response; only transport failures are returned as errors.
	Send(ctx context.Context, req *RemoteRequest) (*ServiceResponse, error)

	// BaseURL is the address endpoints are resolved against.
	BaseURL() *url.URL
}
