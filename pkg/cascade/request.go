package cascade

import (
	"context"

	"github.com/google/uuid"
)

// Request is the caller's request/trace handle. It is threaded explicitly
// through the delete call chain and handed to every handler untouched.
type Request struct {
	ID       string            `json:"id"`
	Actor    string            `json:"actor,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRequest creates a request handle with a fresh ID.
func NewRequest(actor string) *Request {
	return &Request{ID: uuid.NewString(), Actor: actor}
}

type requestKey struct{}

// WithRequest attaches req to ctx.
func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFrom returns the request attached to ctx, or nil.
func RequestFrom(ctx context.Context) *Request {
	if ctx == nil {
		return nil
	}
	req, _ := ctx.Value(requestKey{}).(*Request)
	return req
}

// requestID is used for log fields.
func (r *Request) requestID() string {
	if r == nil {
		return ""
	}
	return r.ID
}
