package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/terraconstructs/authgate/internal/auth"
	"github.com/terraconstructs/authgate/internal/config"
	"github.com/terraconstructs/authgate/internal/db/bunx"
	"github.com/terraconstructs/authgate/internal/migrations"
	"github.com/terraconstructs/authgate/internal/repository"
	"github.com/terraconstructs/authgate/internal/server"
	"github.com/terraconstructs/authgate/internal/services/authn"
	"github.com/terraconstructs/authgate/internal/services/session"
	"github.com/terraconstructs/authgate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication gateway",
	Long:  `Starts the HTTP server that authenticates requests and proxies them to the upstream resource.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := context.WithCancel(cmd.Context())
		defer stop()

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(sctx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()

		store, err := openSessionStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.close()

		sessions := session.NewManager(store.repo, session.Options{
			Timeout:       cfg.Session.Timeout,
			SecureCookies: cfg.Realm.SSLRequired(),
			Logger:        logger.Named("session"),
		})
		go sessions.RunSweeper(ctx, cfg.Session.SweepInterval)

		decider, err := newDecider(cfg, sessions)
		if err != nil {
			return err
		}

		serverMetrics, err := telemetry.NewServerMetrics()
		if err != nil {
			return fmt.Errorf("failed to create server metrics: %w", err)
		}

		var upstream http.Handler
		if cfg.UpstreamURL != "" {
			target, err := url.Parse(cfg.UpstreamURL)
			if err != nil {
				return fmt.Errorf("%w: invalid upstream url %q: %v", auth.ErrConfiguration, cfg.UpstreamURL, err)
			}
			upstream = server.NewUpstreamProxy(target, nil, logger.Named("proxy"))
		}

		corsOpts := server.CORSOptions(cfg.CORS.AllowedOrigins)
		r := server.NewRouter(server.RouterOptions{
			Decider:     decider,
			Upstream:    upstream,
			Metrics:     serverMetrics,
			Logger:      logger,
			CORSOptions: &corsOpts,
			Ready:       store.ready,
		})

		// h2c lets HTTP/2 clients reach the gateway without TLS termination
		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      h2c.NewHandler(r, &http2.Server{}),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting server",
				zap.String("addr", cfg.ServerAddr),
				zap.String("realm", cfg.Realm.Name),
				zap.String("upstream", cfg.UpstreamURL),
				zap.Bool("ssl_required", cfg.Realm.SSLRequired()))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP sweeps expired sessions immediately
		sweep := make(chan os.Signal, 1)
		signal.Notify(sweep, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				return fmt.Errorf("server error: %w", err)

			case sig := <-sweep:
				sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				removed, err := sessions.Sweep(sctx)
				cancel()
				if err != nil {
					logger.Error("manual session sweep failed", zap.Stringer("signal", sig), zap.Error(err))
				} else {
					logger.Info("manual session sweep complete", zap.Stringer("signal", sig), zap.Int("removed", removed))
				}

			case sig := <-shutdown:
				logger.Info("shutting down gracefully", zap.Stringer("signal", sig))
				stop()

				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(sctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}

				logger.Info("server stopped")
				return nil
			}
		}
	},
}

// sessionStore is the repository backing the session manager together
// with its readiness check and cleanup.
type sessionStore struct {
	repo  repository.SessionRepository
	ready func(ctx context.Context) error
	close func()
}

// openSessionStore keeps sessions in memory unless a database is configured.
// A database store is migrated and then emptied: sessions never outlive the
// process that created them.
func openSessionStore(ctx context.Context, cfg *config.Config) (*sessionStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("using in-memory session store", zap.Int("max_sessions", cfg.Session.MaxSessions))
		return &sessionStore{
			repo:  repository.NewMemorySessionRepository(cfg.Session.MaxSessions, cfg.Session.Timeout),
			close: func() {},
		}, nil
	}

	db, err := bunx.NewDB(cfg.DatabaseURL, bunx.Options{MaxOpenConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := bunx.Close(db); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		closeDB()
		return nil, err
	}

	repo := repository.NewBunSessionRepository(db)
	purged, err := repo.DeleteAll(ctx)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("failed to purge stale sessions: %w", err)
	}
	logger.Info("using database session store",
		zap.String("type", string(bunx.DetectDatabaseType(cfg.DatabaseURL))),
		zap.Int("purged", purged))

	return &sessionStore{
		repo:  repo,
		ready: db.PingContext,
		close: closeDB,
	}, nil
}

// newDecider builds the authentication pipeline for the configured realm.
func newDecider(cfg *config.Config, sessions *session.Manager) (*authn.Decider, error) {
	realm := cfg.Realm.Metadata()

	client, err := auth.NewHTTPClient(cfg.Realm.HTTPClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create realm HTTP client: %w", err)
	}

	verifier, err := auth.NewTokenVerifier(realm, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	rp, err := auth.NewRelyingParty(auth.RelyingPartyConfig{
		ClientID:    cfg.Realm.ClientID,
		Credentials: cfg.Realm.Credentials,
		AuthURL:     cfg.Realm.AuthURL,
		TokenURL:    cfg.Realm.TokenURL,
		Scopes:      cfg.Realm.Scopes,
		HashKey:     []byte(cfg.Realm.StateHashKey),
		BlockKey:    []byte(cfg.Realm.StateBlockKey),
		SSLRequired: cfg.Realm.SSLRequired(),
		HTTPClient:  client,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create relying party: %w", err)
	}

	enforcer, err := auth.NewRoleEnforcer(cfg.Realm.AdminRole)
	if err != nil {
		return nil, fmt.Errorf("failed to create role enforcer: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create auth metrics: %w", err)
	}

	authLogger := logger.Named("authn")
	bearer := authn.NewBearerAuthenticator(verifier, realm)

	return authn.NewDecider(authn.DeciderOptions{
		Bearer:   bearer,
		Sessions: sessions,
		CodeFlow: authn.NewCodeFlow(rp, verifier, realm, authn.CodeFlowOptions{
			SSLRequired:     cfg.Realm.SSLRequired(),
			ExchangeTimeout: cfg.Realm.ExchangeTimeout,
			Logger:          authLogger,
			Metrics:         authMetrics,
		}),
		Binder:          authn.NewBinder(realm, cfg.Realm.CancelPropagation),
		Logout:          authn.NewLogoutHandler(bearer, enforcer, sessions, cfg.Realm.Name, authLogger, authMetrics),
		Unauthenticated: authn.UnauthorizedResponder(cfg.Realm.Name),
		Logger:          authLogger,
		Metrics:         authMetrics,
	}), nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
