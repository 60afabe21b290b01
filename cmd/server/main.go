package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vehiql/internal/api"
	"vehiql/internal/audit"
	"vehiql/internal/booking"
	"vehiql/internal/cache"
	"vehiql/internal/cars"
	"vehiql/internal/config"
	"vehiql/internal/db"
	"vehiql/internal/events"
	"vehiql/internal/identity"
	"vehiql/internal/metrics"
	"vehiql/internal/notify"
	"vehiql/internal/storage"
	"vehiql/internal/vision"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("VEHIQL_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(cfg.Database.Path, loc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	dealership, err := config.LoadDealership(cfg.DealershipConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load dealership config")
	}
	if _, err := database.EnsureDealership(ctx, dealership.Dealership()); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed dealership")
	}

	var rdb *redis.Client
	var redisCmd redis.Cmdable
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		redisCmd = rdb
	}

	store, closeStore := newObjectStore(ctx, cfg, &logger)
	defer closeStore()

	verifier := newVerifier(ctx, cfg, &logger)

	var extractor cars.Extractor
	if cfg.Vision.APIKey != "" {
		vc := vision.NewClient(vision.Config{
			APIKey:   cfg.Vision.APIKey,
			Model:    cfg.Vision.Model,
			Endpoint: cfg.Vision.Endpoint,
			Timeout:  time.Duration(cfg.Vision.TimeoutSeconds) * time.Second,
		}, logger)
		vc.UseCache(cache.New(redisCmd, "vehiql:", cfg.VisionCacheTTL()))
		extractor = vc
	} else {
		logger.Warn().Msg("vision.api_key is empty; car detail extraction disabled")
	}

	bus := events.NewEventBus(logger)
	startEventSinks(ctx, cfg, bus, database, &logger)

	bookings := booking.NewService(database, bus, booking.Options{
		Location:       loc,
		MaxAdvanceDays: cfg.Booking.MaxAdvanceDays,
	}, logger)
	catalog := cars.NewService(database, store, extractor, cache.New(redisCmd, "vehiql:", cfg.CacheTTL()), logger)

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		go startBackupLoop(ctx, database, cfg, &logger)
	}

	srv := api.NewHTTPServer(cfg, api.Deps{
		Store:    database,
		Bookings: bookings,
		Cars:     catalog,
		Verifier: verifier,
		Redis:    redisCmd,
		Exporter: audit.NewExporter(database, logger),
	}, logger)

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("timezone", loc.String()).Msg("vehiql started")
	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
}

func newObjectStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.ObjectStore, func()) {
	if cfg.Storage.Bucket == "" {
		logger.Warn().Msg("storage.bucket is empty; car images are kept in memory")
		return storage.NewMemoryStore(cfg.Storage.PublicBaseURL), func() {}
	}
	gcs, err := storage.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile, cfg.Storage.PublicBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage bucket")
	}
	return gcs, func() { _ = gcs.Close() }
}

func newVerifier(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) identity.Verifier {
	if cfg.Auth.DevMode {
		logger.Warn().Msg("auth.dev_mode is on; bearer tokens are not verified")
		return identity.DevVerifier{}
	}
	v, err := identity.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseCredentialsFile, cfg.Auth.ProjectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init firebase auth")
	}
	return v
}

// startEventSinks attaches the Kafka forwarder and the Telegram notifier to the bus.
func startEventSinks(ctx context.Context, cfg *config.Config, bus *events.EventBus, database *db.DB, logger *zerolog.Logger) {
	if len(cfg.Events.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(events.KafkaConfig{Brokers: cfg.Events.KafkaBrokers, Topic: cfg.Events.KafkaTopic})
		fwd := events.NewForwarder(writer, 256, *logger)
		bus.Subscribe(events.AllEvents, fwd.Handle)
		go fwd.Run(ctx)
		logger.Info().Strs("brokers", cfg.Events.KafkaBrokers).Str("topic", cfg.Events.KafkaTopic).Msg("kafka events enabled")
	}

	if cfg.Telegram.BotToken == "" || len(cfg.Telegram.AdminChatIDs) == 0 {
		return
	}
	sender, err := notify.NewBotSender(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("telegram notifications disabled")
		return
	}
	notifier := notify.NewNotifier(sender, database, cfg.Telegram.AdminChatIDs, *logger)
	notifier.Subscribe(bus)
	go notifier.Run(ctx)
	notifier.StartDigest(ctx, database, cfg.Location(), cfg.Telegram.DigestHour)
}

func startBackupLoop(ctx context.Context, database *db.DB, cfg *config.Config, logger *zerolog.Logger) {
	if err := os.MkdirAll(cfg.Backup.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create backup directory")
		return
	}

	select {
	case <-time.After(1 * time.Minute):
		runBackupTask(ctx, database, cfg, logger)
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(cfg.BackupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runBackupTask(ctx, database, cfg, logger)
		case <-ctx.Done():
			return
		}
	}
}

func runBackupTask(ctx context.Context, database *db.DB, cfg *config.Config, logger *zerolog.Logger) {
	dest := filepath.Join(cfg.Backup.Path, db.BackupName("vehiql", time.Now()))

	logger.Info().Str("path", dest).Msg("starting database backup")
	if err := database.Backup(ctx, dest); err != nil {
		logger.Error().Err(err).Msg("backup failed")
	} else {
		logger.Info().Msg("backup completed successfully")
	}

	deleted, err := database.CleanupBackups(cfg.Backup.Path, cfg.BackupRetention())
	if err != nil {
		logger.Error().Err(err).Msg("backup cleanup failed")
	} else if deleted > 0 {
		logger.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "metrics", logger)
}

func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
