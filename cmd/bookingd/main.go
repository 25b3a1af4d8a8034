package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/availability-engine/internal/application"
	"github.com/example/availability-engine/internal/availability"
	"github.com/example/availability-engine/internal/calendar"
	"github.com/example/availability-engine/internal/calendar/google"
	"github.com/example/availability-engine/internal/config"
	httptransport "github.com/example/availability-engine/internal/http"
	"github.com/example/availability-engine/internal/logging"
	"github.com/example/availability-engine/internal/persistence"
	"github.com/example/availability-engine/internal/persistence/memory"
	"github.com/example/availability-engine/internal/persistence/rediscache"
	"github.com/example/availability-engine/internal/persistence/sqlstore"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		os.Exit(runTokenCommand(os.Args[2:], os.Stdout, os.Stderr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logging.NewJSONLogger(os.Stdout, "info").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("booking service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	svc, err := buildService(ctx, cfg, logger, dependencies{})
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           svc.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("booking API listening", "addr", server.Addr, "db_driver", cfg.DatabaseDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// dependencies overrides the process defaults, mainly for tests.
type dependencies struct {
	Provider  calendar.Provider
	Refresher calendar.Refresher
	Now       func() time.Time
	NewID     func() string
}

type service struct {
	Handler http.Handler
	closers []func() error
	logger  *slog.Logger
}

// Close releases resources in reverse order of acquisition.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Error("failed to close resource", "error", err)
		}
	}
}

func buildService(ctx context.Context, cfg config.Config, logger *slog.Logger, deps dependencies) (_ *service, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &service{logger: logger}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	store, health, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, store.Close)

	var slotStats persistence.SlotStatRepository = store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		svc.closers = append(svc.closers, client.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if perr := client.Ping(pingCtx).Err(); perr != nil {
			logger.Warn("redis unreachable, slot stats will be read from storage until it recovers", "addr", cfg.RedisAddr, "error", perr)
		}
		cancel()
		slotStats = rediscache.NewSlotStats(store, rediscache.NewRedisKV(client), cfg.StatsCacheTTL, logger.With("component", "rediscache"))
	}

	provider := deps.Provider
	if provider == nil {
		provider = google.NewClient(google.Options{
			BaseURL:       cfg.GoogleAPIBaseURL,
			RatePerSecond: cfg.ProviderRateLimit,
			Burst:         cfg.ProviderBurst,
			Location:      loc,
			Logger:        logger,
		})
	}
	refresher := deps.Refresher
	if refresher == nil {
		if cfg.GoogleClientID == "" {
			logger.Warn("google oauth client is not configured, expired calendar tokens cannot be refreshed")
		}
		refresher = google.NewTokenRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret)
	}

	ledger := application.NewLedgerWithLogger(newSyncEventRepositoryAdapter(store), newID, now, logger)
	learning := application.NewLearningServiceWithLogger(newStatsStoreAdapter(slotStats, store, now), loc, now, logger)
	coordinator := application.NewCommitCoordinatorWithLogger(provider, refresher, ledger, learning, application.CoordinatorConfig{
		RequestTimeout:       cfg.RequestTimeout,
		StalenessWindow:      cfg.StalenessWindow,
		RecurringConcurrency: cfg.RecurringConcurrency,
		Location:             loc,
	}, now, logger)

	window := availability.Window{StartHour: cfg.DayStartHour, EndHour: cfg.DayEndHour, Location: loc}
	finder := availability.NewFinder(availability.NewExtractor(provider, window), window, now)
	availabilityService := application.NewAvailabilityServiceWithLogger(finder, loc, cfg.DefaultHorizon, now, logger)

	svc.Handler = httptransport.NewRouter(httptransport.RouterConfig{
		Slots:      httptransport.NewSlotHandler(availabilityService, learning, loc, now, logger),
		Bookings:   httptransport.NewBookingHandler(coordinator, loc, logger),
		SyncEvents: httptransport.NewSyncEventHandler(ledger, coordinator, logger),
		Stats:      httptransport.NewStatsHandler(learning, logger),
		Health:     health,
		Auth:       httptransport.RequireJWT([]byte(cfg.JWTSecret), logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.CORS(cfg.CORSOrigins),
		},
		Logger: logger,
	})
	return svc, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, httptransport.HealthChecker, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, data is lost on restart")
		return memory.Open(), nil, nil
	case config.DriverSQLite, config.DriverPostgres:
		store, err := sqlstore.Open(ctx, sqlstore.Options{Driver: cfg.DatabaseDriver, DSN: cfg.DatabaseDSN})
		if err != nil {
			return nil, nil, fmt.Errorf("open storage: %w", err)
		}
		applied, err := store.Migrate(ctx, logger)
		if err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("storage ready", "driver", cfg.DatabaseDriver, "migrations_applied", applied)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// runTokenCommand prints a bearer token for local testing.
func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id placed in the token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	issued := time.Now()
	token, err := httptransport.IssueUserToken([]byte(cfg.JWTSecret), *userID, issued, issued.Add(*ttl))
	if err != nil {
		fmt.Fprintf(stderr, "failed to issue token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
