package datasync

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jbctechsolutions/datasync/internal/application/ports"
	"github.com/jbctechsolutions/datasync/internal/domain/entity"
	"github.com/jbctechsolutions/datasync/internal/domain/errors"
	"github.com/jbctechsolutions/datasync/internal/domain/operation"
)

// ExecutableOperation is a queued operation turned into the request that
// carries it to the service.
type ExecutableOperation struct {
	Kind    operation.Kind
	ItemID  string
	request *ports.RemoteRequest
}

// NewExecutable builds the request for op against the table at endpoint.
//
//	create  -> POST   {endpoint}       body = item
//	replace -> PUT    {endpoint}/{id}  body = item, If-Match when versioned
//	delete  -> DELETE {endpoint}/{id}  If-Match when versioned
func NewExecutable(op *operation.Operation, endpoint *url.URL, desc entity.Descriptor) (*ExecutableOperation, error) {
	req := &ports.RemoteRequest{Headers: map[string]string{}}

	switch op.Kind {
	case operation.KindCreate:
		req.Method = http.MethodPost
		req.URI = endpoint
		req.Body = op.Item
	case operation.KindReplace:
		req.Method = http.MethodPut
		req.URI = ItemURI(endpoint, op.ItemID)
		req.Body = op.Item
		setIfMatch(req, desc, op.EntityVersion)
	case operation.KindDelete:
		req.Method = http.MethodDelete
		req.URI = ItemURI(endpoint, op.ItemID)
		setIfMatch(req, desc, op.EntityVersion)
	default:
		return nil, errors.WithContext(
			errors.NewError(errors.CodeValidation, fmt.Sprintf("operation %s has kind %q", op.ID, op.Kind), errors.ErrUnknownOperationKind),
			"operation_id", op.ID)
	}

	return &ExecutableOperation{Kind: op.Kind, ItemID: op.ItemID, request: req}, nil
}

func setIfMatch(req *ports.RemoteRequest, desc entity.Descriptor, version string) {
	if version == "" {
		return
	}
	req.Headers["If-Match"] = desc.IfMatch(version)
}

// Request returns the request the operation sends.
func (x *ExecutableOperation) Request() *ports.RemoteRequest {
	return x.request
}

// URI returns the absolute request URI.
func (x *ExecutableOperation) URI() string {
	return x.request.URI.String()
}

// Execute sends the request. HTTP failures come back in the response; only
// transport failures are returned as errors.
func (x *ExecutableOperation) Execute(ctx context.Context, remote ports.RemotePort) (*ports.ServiceResponse, error) {
	return remote.Send(ctx, x.request)
}

// ResolveEndpoint makes endpoint absolute against base. base is treated as
// a directory so that a relative endpoint is appended to its path.
func ResolveEndpoint(base *url.URL, endpoint string) (*url.URL, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.NewError(errors.CodeConfiguration, "invalid endpoint "+endpoint, err)
	}
	if ref.IsAbs() {
		return ref, nil
	}
	if base == nil {
		return nil, errors.NewError(errors.CodeConfiguration, "relative endpoint "+endpoint+" needs a base URL", errors.ErrEndpointRequired)
	}
	return withTrailingSlash(base).ResolveReference(ref), nil
}

// ItemURI appends an escaped item id to an endpoint. The endpoint path gets
// a trailing slash first so /tables/movies and id become /tables/movies/id.
func ItemURI(endpoint *url.URL, id string) *url.URL {
	u := withTrailingSlash(endpoint)
	u.RawPath = u.EscapedPath() + url.PathEscape(id)
	u.Path = u.Path + id
	u.Fragment = ""
	return u
}

func withTrailingSlash(u *url.URL) *url.URL {
	c := *u
	if !strings.HasSuffix(c.Path, "/") {
		c.RawPath = c.EscapedPath() + "/"
		c.Path += "/"
	}
	return &c
}
