package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/adapters/cache"
	"github.com/atvirokodosprendimai/incidentd/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/incidentd/internal/core/ports"
	"github.com/atvirokodosprendimai/incidentd/internal/core/usecase"
	"github.com/atvirokodosprendimai/incidentd/internal/platform/tracing"
	"github.com/atvirokodosprendimai/incidentd/migrations"
)

type Config struct {
	Addr   string
	DBPath string

	IdempotencyTTL time.Duration

	WorkerInterval    time.Duration
	WorkerBatchSize   int
	WorkerConcurrency int
	RetryAttempts     int
	RetryBackoff      []time.Duration

	// PurgeInterval schedules the inbox janitor while serving. Zero disables it.
	PurgeInterval time.Duration

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ListCachePrefix string

	WebhookURL    string
	WebhookSecret string

	OTLPEndpoint string
	OTLPInsecure bool

	Version string
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DBPath) == "" {
		errs = append(errs, errors.New("db path is required"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("idempotency ttl must be positive"))
	}
	if c.WorkerInterval <= 0 {
		errs = append(errs, errors.New("worker interval must be positive"))
	}
	if c.WorkerBatchSize <= 0 {
		errs = append(errs, errors.New("worker batch size must be positive"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("worker concurrency must be positive"))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}
	if c.PurgeInterval < 0 {
		errs = append(errs, errors.New("purge interval must not be negative"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, errors.New("redis db must not be negative"))
	}
	if c.WebhookURL != "" {
		u, err := url.Parse(c.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhook url %q must be an absolute http(s) url", c.WebhookURL))
		}
	}
	return errors.Join(errs...)
}

func (c Config) retryPolicy() usecase.RetryPolicy {
	policy := usecase.DefaultRetryPolicy()
	policy.MaxAttempts = c.RetryAttempts
	if len(c.RetryBackoff) > 0 {
		policy.Backoff = c.RetryBackoff
	}
	return policy
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// App is the wired process: storage, usecases and the HTTP handler. The
// worker and janitor only run once started.
type App struct {
	cfg Config
	log zerolog.Logger

	Registry  *prometheus.Registry
	Validator *usecase.PayloadValidator
	Executor  *usecase.CommandExecutor
	Worker    *usecase.CommandWorker
	Janitor   *usecase.InboxJanitor
	Handler   *httpapi.Handler

	closer      resourceCloser
	janitorMu   sync.Mutex
	stopJanitor context.CancelFunc
	janitorWG   sync.WaitGroup
}

func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Closers run in slice order; the worker is prepended so it stops before
	// the database closes.
	var closers []io.Closer
	fail := func(err error) (*App, error) {
		_ = resourceCloser{closers: closers}.Close()
		return nil, err
	}

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
	}, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.Options{Log: log})
	if err != nil {
		_ = shutdownTracing(context.Background())
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	closers = append(closers, db, closerFunc(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(shutdownCtx)
	}))

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		return fail(fmt.Errorf("resolve writer sql db: %w", err))
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB, log); err != nil {
		return fail(err)
	}

	var (
		invalidators cache.Multi
		locker       ports.ScopeLocker
	)
	if cfg.RedisAddr != "" {
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client)
		invalidators = append(invalidators, cache.NewRedisInvalidator(client, cfg.ListCachePrefix))
		locker = cache.NewRedisScopeLocker(client)
	}
	if cfg.WebhookURL != "" {
		invalidators = append(invalidators, cache.NewWebhookInvalidator(cfg.WebhookURL, cfg.WebhookSecret, 0))
	}
	var invalidator ports.CacheInvalidator = cache.NewLogInvalidator(log)
	if len(invalidators) > 0 {
		invalidator = invalidators
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := usecase.NewMetrics(registry)

	validator, err := usecase.NewPayloadValidator()
	if err != nil {
		return fail(err)
	}

	inbox := sqliteadapter.NewCommandInboxRepository(db)
	jobs := sqliteadapter.NewCommandJobRepository(db)
	occurrences := sqliteadapter.NewOccurrenceRepository(db)
	dispatches := sqliteadapter.NewDispatchRepository(db)
	audit := usecase.NewAuditTrail(sqliteadapter.NewAuditLogRepository(db), log)

	ledger := usecase.NewCommandLedger(db, inbox, cfg.IdempotencyTTL, log)
	occurrenceService := usecase.NewOccurrenceService(db, occurrences, audit)
	dispatchService := usecase.NewDispatchService(db, occurrences, dispatches, audit)
	router := usecase.NewCommandRouter(occurrenceService, dispatchService, invalidator, log)
	executor := usecase.NewCommandExecutor(ledger, router, metrics, log)
	worker := usecase.NewCommandWorker(jobs, executor, locker, usecase.WorkerOptions{
		Interval:    cfg.WorkerInterval,
		BatchSize:   cfg.WorkerBatchSize,
		Concurrency: cfg.WorkerConcurrency,
		Policy:      cfg.retryPolicy(),
	}, metrics, log)

	handler := httpapi.NewHandler(httpapi.Deps{
		Intake:      usecase.NewCommandIntake(db, ledger, jobs, validator, log),
		Executor:    executor,
		Validator:   validator,
		Ledger:      ledger,
		Occurrences: occurrenceService,
		Dispatches:  dispatchService,
		Audit:       audit,
		Registerer:  registry,
		Gatherer:    registry,
		Log:         log,
	})

	a := &App{
		cfg:       cfg,
		log:       log.With().Str("component", "app").Logger(),
		Registry:  registry,
		Validator: validator,
		Executor:  executor,
		Worker:    worker,
		Janitor:   usecase.NewInboxJanitor(inbox, log),
		Handler:   handler,
	}
	a.closer = resourceCloser{closers: append([]io.Closer{worker, closerFunc(a.closeJanitor)}, closers...)}
	return a, nil
}

func (a *App) Server() *http.Server {
	return &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.Handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// StartBackground runs the command worker and, when configured, the periodic
// inbox purge.
func (a *App) StartBackground(ctx context.Context) {
	a.Worker.Start(ctx)
	if a.cfg.PurgeInterval <= 0 {
		return
	}

	a.janitorMu.Lock()
	defer a.janitorMu.Unlock()
	if a.stopJanitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.stopJanitor = cancel
	a.janitorWG.Add(1)
	go func() {
		defer a.janitorWG.Done()
		ticker := time.NewTicker(a.cfg.PurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if _, err := a.Janitor.Purge(ctx, now.UTC()); err != nil && ctx.Err() == nil {
					a.log.Warn().Err(err).Msg("inbox purge failed")
				}
			}
		}
	}()
}

func (a *App) closeJanitor() error {
	a.janitorMu.Lock()
	cancel := a.stopJanitor
	a.stopJanitor = nil
	a.janitorMu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.janitorWG.Wait()
	return nil
}

func (a *App) Close() error {
	return a.closer.Close()
}

var _ io.Closer = (*App)(nil)
