package authn

import (
	"context"

	"github.com/terraconstructs/authgate/internal/auth"
)

// Binder attaches an authenticated principal to a request.
type Binder struct {
	realm             auth.RealmMetadata
	cancelPropagation bool
}

// NewBinder creates a Binder. With cancelPropagation set the caller's raw
// token is not published to downstream handlers.
func NewBinder(realm auth.RealmMetadata, cancelPropagation bool) *Binder {
	return &Binder{realm: realm, cancelPropagation: cancelPropagation}
}

// Bind sets p as the request principal with auth type OAUTH and, unless
// propagation is cancelled, publishes a SessionContext both as a request
// attribute and on the returned context. rc's request is updated to carry
// the returned context. The attribute is cleared when rc is released.
func (b *Binder) Bind(rc *auth.RequestContext, p auth.Principal) context.Context {
	rc.SetPrincipal(p, auth.AuthTypeOAuth)
	ctx := auth.SetPrincipalContext(rc.Context(), p, auth.AuthTypeOAuth)

	if !b.cancelPropagation {
		sc := &auth.SessionContext{Token: p.Token(), Realm: b.realm}
		rc.SetAttribute(auth.SessionContextAttribute, sc)
		ctx = auth.SetSessionContext(ctx, sc)
	}

	rc.UpdateContext(ctx)
	return ctx
}
