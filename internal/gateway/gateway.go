// ABOUTME: Gateway orchestrator that wires the chat pipeline behind an HTTP server
// ABOUTME: Owns the limiter, deduplicators, store, session backend, and generator lifecycle

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/2389/persona-gateway/internal/answer"
	"github.com/2389/persona-gateway/internal/auth"
	"github.com/2389/persona-gateway/internal/config"
	"github.com/2389/persona-gateway/internal/conversation"
	"github.com/2389/persona-gateway/internal/dedupe"
	"github.com/2389/persona-gateway/internal/ratelimit"
	"github.com/2389/persona-gateway/internal/session"
	"github.com/2389/persona-gateway/internal/store"
)

// Gateway serves the chat API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	httpServer *http.Server
	logger     *slog.Logger

	// sessions is where the resolver keeps sessions: the SQLite store or Redis.
	sessions session.Store

	// redis is set when sessions live in Redis.
	redis *redis.Client

	resolver session.Resolver

	// generator is the transcript-recording generator used by handlers.
	generator answer.Generator

	recorder    *conversation.Recorder
	broadcaster *conversation.Broadcaster
	identity    *auth.IdentityResolver
	limiter     *ratelimit.Limiter

	// chatDedupe collapses identical concurrent non-streaming requests
	chatDedupe *dedupe.Group[*ChatResponse]

	// sessionDedupe collapses concurrent first-time session resolutions
	sessionDedupe *dedupe.Group[*session.Resolution]
}

// initStore creates the SQLite store. PERSONA_GATEWAY_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PERSONA_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initSessions selects the session backend.
func initSessions(cfg *config.Config, sqlStore *store.SQLiteStore, logger *slog.Logger) (session.Store, *redis.Client) {
	if cfg.Sessions.Backend != config.SessionsRedis {
		return sqlStore, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Sessions.RedisAddr,
		Password: cfg.Sessions.RedisPassword,
		DB:       cfg.Sessions.RedisDB,
	})
	logger.Info("sessions stored in redis", "addr", cfg.Sessions.RedisAddr, "ttl", cfg.Sessions.RedisTTL)
	return session.NewRedisStore(client, cfg.Sessions.RedisTTL), client
}

// initGenerator creates the configured answer generator.
func initGenerator(cfg *config.Config, logger *slog.Logger) answer.Generator {
	if cfg.Generation.Backend == config.GenerationRemote {
		logger.Info("using remote generator", "url", cfg.Generation.URL)
		return answer.NewRemote(cfg.Generation.URL, &http.Client{}, logger)
	}
	return answer.NewEcho(cfg.Generation.EchoDelay)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	sessions, redisClient := initSessions(cfg, sqlStore, logger)

	broadcaster := conversation.NewBroadcaster(logger)
	recorder := conversation.NewRecorder(sqlStore, initGenerator(cfg, logger), broadcaster, cfg.Generation.HistoryLimit, logger)

	sessionDedupe := dedupe.New[*session.Resolution](cfg.Dedupe.TTL, cfg.Dedupe.SweepInterval)
	chatDedupe := dedupe.New[*ChatResponse](cfg.Dedupe.TTL, cfg.Dedupe.SweepInterval)

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("bearer token verification enabled")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured, sessions are scoped by caller identity")
	}

	gw := &Gateway{
		config:      cfg,
		store:       sqlStore,
		sessions:    sessions,
		redis:       redisClient,
		resolver:    session.NewStoreResolver(sessions, sqlStore, sessionDedupe, logger),
		generator:   recorder,
		recorder:    recorder,
		broadcaster: broadcaster,
		identity:    auth.NewIdentityResolver(verifier),
		limiter: ratelimit.New(ratelimit.Config{
			Window:           cfg.RateLimit.Window,
			Capacity:         cfg.RateLimit.Capacity,
			HighWater:        cfg.RateLimit.HighWater,
			RetentionWindows: cfg.RateLimit.RetentionWindows,
		}),
		chatDedupe:    chatDedupe,
		sessionDedupe: sessionDedupe,
		logger:        logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the HTTP router.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(g.logRequests)
	r.Use(middleware.Recoverer)

	// Health endpoints - no auth required
	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)

	r.Route("/api", func(r chi.Router) {
		// Chat is counted against the caller before anything else runs
		r.Group(func(r chi.Router) {
			r.Use(g.rateLimit, g.requireIdentity)
			r.Post("/chat", g.handleChat)
			r.Post("/chat/stream", g.handleChatStream)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.requireIdentity)
			r.Get("/sessions/{id}/messages", g.handleSessionMessages)
			r.Get("/sessions/{id}/events", g.handleSessionEvents)
		})
	})

	return r
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// startServer serves HTTP in a goroutine, returning its error channel.
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

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.closeResources()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
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

// closeResources releases everything except the HTTP server.
func (g *Gateway) closeResources() error {
	g.chatDedupe.Close()
	g.sessionDedupe.Close()
	g.broadcaster.Close()

	var errs []error
	errs = appendCloseError(errs, "store close", g.store.Close())
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	return errors.Join(errs...)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "resources", g.closeResources())

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

// handleReady returns 200 OK if the store and session backend answer a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "dependency", "store", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			g.logger.Warn("readiness check failed", "dependency", "redis", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("session backend unavailable"))
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
