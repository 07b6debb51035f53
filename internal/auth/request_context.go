package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// RequestContext is the per-request view the authentication path works on:
// the request, its response writer, the bound principal and an attribute
// mapping. Instances are pooled; Release must run when the request ends.
type RequestContext struct {
	Request *http.Request
	Writer  http.ResponseWriter

	principal  Principal
	authType   string
	attributes map[string]any
}

var requestContextPool = sync.Pool{
	New: func() any {
		return &RequestContext{attributes: make(map[string]any)}
	},
}

// AcquireRequestContext takes a RequestContext from the pool for w and r.
func AcquireRequestContext(w http.ResponseWriter, r *http.Request) *RequestContext {
	rc := requestContextPool.Get().(*RequestContext)
	rc.Request = r
	rc.Writer = w
	return rc
}

// Release clears every binding and returns rc to the pool. rc must not be
// used afterwards.
func (rc *RequestContext) Release() {
	rc.reset()
	requestContextPool.Put(rc)
}

func (rc *RequestContext) reset() {
	rc.Request = nil
	rc.Writer = nil
	rc.principal = nil
	rc.authType = ""
	clear(rc.attributes)
}

// Empty reports whether rc carries no principal and no attributes.
func (rc *RequestContext) Empty() bool {
	return rc.principal == nil && rc.authType == "" && len(rc.attributes) == 0
}

// Context returns the context of the underlying request.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// UpdateContext replaces the underlying request with a shallow copy carrying ctx.
func (rc *RequestContext) UpdateContext(ctx context.Context) {
	rc.Request = rc.Request.WithContext(ctx)
}

// SetPrincipal binds p as the request principal, replacing any previous one.
func (rc *RequestContext) SetPrincipal(p Principal, authType string) {
	rc.principal = p
	rc.authType = authType
}

// Principal returns the bound principal.
func (rc *RequestContext) Principal() (Principal, bool) {
	return rc.principal, rc.principal != nil
}

// AuthType returns the auth-type tag set with the principal.
func (rc *RequestContext) AuthType() string {
	return rc.authType
}

// SetAttribute stores v under key.
func (rc *RequestContext) SetAttribute(key string, v any) {
	rc.attributes[key] = v
}

// Attribute returns the value stored under key.
func (rc *RequestContext) Attribute(key string) (any, bool) {
	v, ok := rc.attributes[key]
	return v, ok
}

// Secure reports whether the request arrived over TLS, directly or through a
// proxy that set X-Forwarded-Proto.
func (rc *RequestContext) Secure() bool {
	return IsSecureRequest(rc.Request)
}

// IsSecureRequest reports whether r arrived over TLS.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
