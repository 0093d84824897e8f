// ABOUTME: Gateway orchestrator wiring store, safety, quota, and routing
// ABOUTME: Manages the HTTP server lifecycle with graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/havenjournal/haven-gateway/internal/auth"
	"github.com/havenjournal/haven-gateway/internal/config"
	"github.com/havenjournal/haven-gateway/internal/dedupe"
	"github.com/havenjournal/haven-gateway/internal/intervention"
	"github.com/havenjournal/haven-gateway/internal/keycipher"
	"github.com/havenjournal/haven-gateway/internal/modelrouter"
	"github.com/havenjournal/haven-gateway/internal/quota"
	"github.com/havenjournal/haven-gateway/internal/recovery"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// Classifier turns raw text into a crisis assessment. The implementation
// is an external collaborator; the gateway only depends on this surface.
type Classifier interface {
	Classify(ctx context.Context, text string) (intervention.Assessment, error)
}

// Gateway orchestrates the admission pipeline and serves the HTTP API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	limiter    *quota.Limiter
	tracker    *recovery.Tracker
	resolver   *intervention.Resolver
	router     *modelrouter.Router
	catalog    modelrouter.Catalog
	cipher     *keycipher.Cipher
	classifier Classifier
	verifier   auth.TokenVerifier
	replays    *dedupe.Guard
	logger     *slog.Logger

	httpServer *http.Server
}

// Options bundles the collaborators New needs beyond configuration.
type Options struct {
	Store      store.Store
	Classifier Classifier
	Client     modelrouter.Client
	Cipher     *keycipher.Cipher
	Verifier   auth.TokenVerifier
	Logger     *slog.Logger
}

// New creates a Gateway from configuration and collaborators.
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	catalog, err := modelrouter.LoadCatalog(cfg.Routing.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading provider catalog: %w", err)
	}

	tracker := recovery.NewTracker(opts.Store, recovery.Windows{
		Acute:       cfg.Safety.AcuteWindow,
		Stabilizing: cfg.Safety.StabilizingWindow,
	}, opts.Logger)

	resolver := intervention.NewResolver(opts.Store, tracker, intervention.Bands{
		Low:                 cfg.Safety.LowThreshold,
		Elevated:            cfg.Safety.ElevatedThreshold,
		Severe:              cfg.Safety.SevereThreshold,
		RepeatCount:         cfg.Safety.RepeatEscalationCount,
		CooldownWindow:      cfg.Safety.CooldownWindow,
		LimitedModeDuration: cfg.Safety.LimitedModeDuration,
	}, opts.Logger)

	limiter := quota.NewLimiter(opts.Store, quota.Limits{
		Daily:     cfg.Quota.DailyLimit,
		PerMinute: cfg.Quota.PerMinuteLimit,
		PerEntry:  cfg.Quota.PerEntryAnalysisMax,
		PerThread: cfg.Quota.PerThreadMessageMax,
	}, opts.Logger)

	router := modelrouter.NewRouter(catalog, opts.Client, cfg.Routing.ProviderTimeout, opts.Logger)

	return &Gateway{
		config:     cfg,
		store:      opts.Store,
		limiter:    limiter,
		tracker:    tracker,
		resolver:   resolver,
		router:     router,
		catalog:    catalog,
		cipher:     opts.Cipher,
		classifier: opts.Classifier,
		verifier:   opts.Verifier,
		replays:    dedupe.New(5*time.Minute, 65536),
		logger:     logger,
	}, nil
}

// Routes returns the gateway's HTTP handler with auth middleware applied.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleHealthz)

	authed := auth.Middleware(g.verifier)
	mux.Handle("POST /api/message", authed(http.HandlerFunc(g.handleMessage)))
	mux.Handle("GET /api/usage", authed(http.HandlerFunc(g.handleUsage)))

	admin := func(h http.HandlerFunc) http.Handler {
		return authed(auth.RequireAdmin(h))
	}
	mux.Handle("GET /api/admin/accounts/{id}", admin(g.handleAdminGetAccount))
	mux.Handle("PUT /api/admin/accounts/{id}/tier", admin(g.handleAdminSetTier))
	mux.Handle("PUT /api/admin/accounts/{id}/exempt", admin(g.handleAdminSetExempt))
	mux.Handle("GET /api/admin/accounts/{id}/crisis-events", admin(g.handleAdminCrisisEvents))

	return mux
}

// Run starts the HTTP server and blocks until ctx is canceled.
func (g *Gateway) Run(ctx context.Context) error {
	g.httpServer = &http.Server{
		Addr:              g.config.Server.HTTPAddr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.config.Server.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g.logger.Info("shutting down")
	g.replays.Close()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
