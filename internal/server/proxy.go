package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/terraconstructs/authgate/internal/auth"
)

// Headers set on proxied requests. Inbound copies are always stripped.
const (
	HeaderUser     = "X-Authgate-User"
	HeaderAuthType = "X-Authgate-Auth-Type"
)

// NewUpstreamProxy returns a reverse proxy to target that forwards the
// caller's identity: the published session token as a bearer credential and
// the principal name as X-Authgate-User. Without a session context (for
// example when propagation is cancelled) no Authorization header is sent.
func NewUpstreamProxy(target *url.URL, transport http.RoundTripper, logger *zap.Logger) *httputil.ReverseProxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("proxy")

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host

			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(HeaderUser)
			pr.Out.Header.Del(HeaderAuthType)

			ctx := pr.In.Context()
			if sc, ok := auth.SessionContextFrom(ctx); ok && sc.Token != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+sc.Token)
			}
			if p, ok := auth.PrincipalFromContext(ctx); ok {
				pr.Out.Header.Set(HeaderUser, p.Name())
				pr.Out.Header.Set(HeaderAuthType, auth.AuthTypeFromContext(ctx))
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
}
