// ABOUTME: Gateway orchestrator for the BlvckWall portal HTTP server
// ABOUTME: Wires store, auth, login limiter, providers and routes, and manages lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/yuin/goldmark"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blvckwall/blvckwall-gateway/internal/auth"
	"github.com/blvckwall/blvckwall-gateway/internal/config"
	"github.com/blvckwall/blvckwall-gateway/internal/providers"
	"github.com/blvckwall/blvckwall-gateway/internal/ratelimit"
	"github.com/blvckwall/blvckwall-gateway/internal/store"
)

// Gateway serves the portal API: authentication, owner-scoped records,
// provider actions and the compliance audit log.
type Gateway struct {
	config     *config.Config
	store      store.Store
	issuer     *auth.JWTIssuer
	limiter    ratelimit.Limiter
	providers  *providers.Set
	markdown   goldmark.Markdown
	tracer     trace.Tracer
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
	now        func() time.Time
}

// Deps lets callers supply pre-built collaborators. Nil fields are built from config.
type Deps struct {
	Store     store.Store
	Limiter   ratelimit.Limiter
	Providers *providers.Set
	Now       func() time.Time
}

// initStore opens the relational store selected by the database section.
func initStore(cfg *config.Config) (store.Store, error) {
	dsn := cfg.Database.Path
	if cfg.Database.Driver == store.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	if envPath := os.Getenv("BLVCKWALL_DB_PATH"); envPath != "" && cfg.Database.Driver != store.DriverPostgres {
		dsn = envPath
	}

	s, err := store.Open(cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initLimiter returns a Redis limiter when ratelimit.redis_url is set and an
// in-memory one otherwise.
func initLimiter(ctx context.Context, cfg config.RateLimitConfig, logger *slog.Logger) (ratelimit.Limiter, error) {
	if cfg.RedisURL != "" {
		l, err := ratelimit.NewRedis(ctx, ratelimit.RedisOptions{
			URL:    cfg.RedisURL,
			Limit:  cfg.Attempts,
			Window: cfg.Window,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing redis rate limiter: %w", err)
		}
		logger.Info("login rate limit backed by redis", "attempts", cfg.Attempts, "window", cfg.Window)
		return l, nil
	}
	logger.Info("login rate limit kept in memory", "attempts", cfg.Attempts, "window", cfg.Window)
	return ratelimit.NewMemory(cfg.Attempts, cfg.Window), nil
}

// New creates a new Gateway with collaborators built from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithDeps(cfg, Deps{}, logger)
}

// NewWithDeps creates a Gateway, building any collaborator missing from deps.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT issuer: %w", err)
	}

	s := deps.Store
	if s == nil {
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	limiter := deps.Limiter
	if limiter == nil {
		limiter, err = initLimiter(context.Background(), cfg.RateLimit, logger.With("component", "ratelimit"))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	provs := deps.Providers
	if provs == nil {
		provs, err = providers.New(cfg.Providers, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("configuring providers: %w", err)
		}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		issuer:    issuer,
		limiter:   limiter,
		providers: provs,
		markdown:  newMarkdown(),
		tracer:    otel.Tracer("github.com/blvckwall/blvckwall-gateway/internal/gateway"),
		logger:    logger.With("component", "gateway"),
		now:       now,
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	gw.registerAuthRoutes(mux)
	gw.registerRecordRoutes(mux)
	gw.registerActionRoutes(mux)

	gw.handler = gw.logRequests(mux)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// logRequests logs each request at debug level once it completes.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	go g.pruneSessions(ctx)

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// pruneSessions deletes expired refresh sessions every hour.
func (g *Gateway) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.store.DeleteExpiredAuthSessions(ctx); err != nil {
				g.logger.Warn("failed to prune expired sessions", "error", err)
			}
		}
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if c, ok := g.limiter.(interface{ Close() error }); ok {
		errs = appendCloseError(errs, "rate limiter close", c.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the relational store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
