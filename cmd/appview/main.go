// Command appview runs one AppView replica: firehose ingest (leader
// elected via Redis), event-log workers, the repair worker, and the
// XRPC/HTTP API, all in a single process. Scale out by running more
// replicas against the same Redis and Postgres.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"Skyview/internal/api/handlers/backfill"
	"Skyview/internal/api/handlers/feed"
	repohandler "Skyview/internal/api/handlers/repo"
	"Skyview/internal/api/handlers/sessions"
	"Skyview/internal/api/handlers/status"
	"Skyview/internal/api/handlers/wellknown"
	"Skyview/internal/api/middleware"
	"Skyview/internal/api/routes"
	"Skyview/internal/atproto/auth"
	"Skyview/internal/atproto/firehose"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/atproto/pds"
	"Skyview/internal/cache"
	"Skyview/internal/config"
	"Skyview/internal/db/postgres"
	"Skyview/internal/eventlog"
	"Skyview/internal/processor"
	"Skyview/internal/repair"
	"Skyview/internal/session"
)

const (
	// eventWorkers is how many consumer-group readers drain the event
	// log on this replica.
	eventWorkers = 4

	// pdsRequestsPerSecond caps outbound XRPC calls per PDS host.
	pdsRequestsPerSecond = 10

	httpShutdownGrace = 15 * time.Second
	pipelineGrace     = 10 * time.Second
)

func main() {
	app := &cli.App{
		Name:  "appview",
		Usage: "AT Protocol AppView: firehose indexer and authenticated XRPC proxy",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the ingest pipeline and HTTP API",
				Action: runServe,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		slog.Error("appview exited", "error", err)
		os.Exit(1)
	}
}

func runServe(cctx *cli.Context) error {
	// Best-effort: deployments inject real env vars and have no .env.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Durable log plumbing, shared by the ingester and the workers.
	eventLog, err := eventlog.New(ctx, rdb, eventlog.DefaultStream, eventlog.DefaultGroup, eventlog.DefaultMaxLen)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	counters := eventlog.NewCounters(rdb)
	counters.Start()
	statusStore := eventlog.NewStatusStore(rdb)
	leader := eventlog.NewLeaderLock(rdb)

	resolver := identity.NewResolver(identity.Config{
		PLCURL:                  cfg.PLCDirectory,
		CacheSize:               cfg.Resolver.CacheSize,
		CacheTTL:                cfg.Resolver.CacheTTL,
		MaxRetries:              cfg.Resolver.MaxRetries,
		RetryDelay:              cfg.Resolver.RetryDelay,
		AttemptTimeout:          cfg.Resolver.BaseTimeout,
		CircuitBreakerThreshold: cfg.Resolver.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   cfg.Resolver.CircuitBreakerTimeout,
		MaxConcurrentRequests:   cfg.Resolver.MaxConcurrentRequests,
	})
	pool := pds.NewPool(pdsRequestsPerSecond)

	// Storage repositories and the single write path through them.
	userRepo := postgres.NewUserRepository(db)
	stores := processor.Stores{
		Users:      userRepo,
		Posts:      postgres.NewPostRepository(db),
		Gates:      postgres.NewThreadGateRepository(db),
		Aggregates: postgres.NewAggregateRepository(db),
		Likes:      postgres.NewLikeRepository(db),
		Reposts:    postgres.NewRepostRepository(db),
		Follows:    postgres.NewFollowRepository(db),
		Blocks:     postgres.NewBlockRepository(db),
		Lists:      postgres.NewListRepository(db),
		ListItems:  postgres.NewListItemRepository(db),
		Feeds:      postgres.NewFeedGeneratorRepository(db),
		Records:    postgres.NewGenericRecordRepository(db),
	}
	feedsRepo := stores.Feeds

	repairWorker := repair.New(repair.Config{}, pool, resolver, userRepo)
	proc := processor.New(stores, cache.NewInvalidator(rdb), repairWorker, resolver)
	repairWorker.SetSink(proc)
	backfiller := repair.NewBackfiller(repair.BackfillConfig{Days: cfg.BackfillDays}, repairWorker, rdb)

	ingester := firehose.NewIngester(cfg.RelayURL, eventLog, statusStore, leader)

	// Outbound signing and inbound verification.
	signer, err := auth.NewServiceSigner(cfg.AppViewDID, cfg.PrivateKeyPath, []byte(cfg.SessionSecret))
	if err != nil {
		return fmt.Errorf("loading service signer: %w", err)
	}
	slog.Info("service signer ready", "issuer", signer.Issuer(), "alg", signer.Algorithm())

	serviceTokens := auth.NewServiceTokenVerifier(resolver, cfg.AppViewDID)
	// No HS256 issuer whitelist: symmetric tokens are never accepted
	// off the network, only minted for outbound calls.
	verifier := auth.NewVerifier(auth.NewRemoteKeys(ctx), serviceTokens, []byte(cfg.SessionSecret), nil, !cfg.Production())
	proxy := auth.NewProxy(signer, pool)

	sessionStore, err := session.NewStore(rdb, []byte(cfg.SessionSecret), session.DefaultTTL)
	if err != nil {
		return fmt.Errorf("building session store: %w", err)
	}
	cookies, err := session.NewCookies([]byte(cfg.SessionSecret), cfg.Production())
	if err != nil {
		return fmt.Errorf("building session cookies: %w", err)
	}

	deps := routerDeps{
		auth:     middleware.NewSessionAuth(sessionStore, cookies, verifier, proxy, resolver),
		sessions: sessions.NewHandler(proxy, sessionStore, cookies, resolver),
		repo:     repohandler.NewHandler(proxy, sessionStore, resolver),
		feed:     feed.NewHandler(proxy, feedsRepo, resolver),
		status:   status.NewHandler(statusStore, counters, eventLog, repairWorker, proc),
		backfill: backfill.NewHandler(backfiller),
	}
	// did:plc AppView identities publish their document through the PLC
	// directory instead; only did:web serves it from here.
	if strings.HasPrefix(cfg.AppViewDID, "did:web:") {
		deps.wellknown, err = wellknown.NewHandler(cfg.AppViewDID, signer.PublicKey())
		if err != nil {
			return fmt.Errorf("building identity document: %w", err)
		}
	}
	router := buildRouter(deps)

	// Background pipeline: one ingester (leader-elected), N workers,
	// one repair sweeper. All stop on ctx.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ingester.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("ingester stopped", "error", err)
		}
	}()

	host, _ := os.Hostname()
	for i := 0; i < eventWorkers; i++ {
		worker := processor.NewWorker(fmt.Sprintf("%s-worker-%d", host, i), eventLog, proc, counters)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("event worker stopped", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		repairWorker.Run(ctx)
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("appview listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	// A second signal kills the process the default way.
	stop()
	slog.Info("shutting down")

	// Drain the API first, then give the pipeline its grace period.
	// Workers ack only completed events, so anything cut off here is
	// simply redelivered.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(pipelineGrace):
		slog.Warn("pipeline did not stop within grace period")
	}

	counters.Stop()
	slog.Info("shutdown complete")
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.Up(db, cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready", "migrations", cfg.MigrationsDir)
	return db, nil
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

type routerDeps struct {
	auth      *middleware.SessionAuth
	sessions  *sessions.Handler
	repo      *repohandler.Handler
	feed      *feed.Handler
	status    *status.Handler
	backfill  *backfill.Handler
	wellknown *wellknown.Handler
}

func buildRouter(deps routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	// 100 requests per minute per IP across the whole surface.
	r.Use(middleware.NewRateLimiter(100, time.Minute).Middleware)

	routes.RegisterSessionRoutes(r, deps.sessions, deps.auth)
	routes.RegisterRepoRoutes(r, deps.repo, deps.auth)
	routes.RegisterFeedRoutes(r, deps.feed, deps.auth)
	routes.RegisterOpsRoutes(r, deps.status, deps.backfill, deps.auth)
	if deps.wellknown != nil {
		routes.RegisterWellKnownRoutes(r, deps.wellknown)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
