package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"courtside/internal/access"
	"courtside/internal/api"
	"courtside/internal/config"
	"courtside/internal/database"
	"courtside/internal/events"
	"courtside/internal/ledger"
	"courtside/internal/lock"
	"courtside/internal/metrics"
	"courtside/internal/notify"
	"courtside/internal/registry"
	"courtside/internal/reminders"
	"courtside/internal/reservation"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("COURTSIDE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		rdb    *redis.Client
		locker lock.Locker = lock.NewLocalLocker()
		cache  registry.SlotCache = registry.NoopCache{}
	)
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "courtside:lock:")
		cache = registry.NewRedisSlotCache(rdb, cfg.CacheTTL())
		logger.Info().Str("address", cfg.Redis.Address).Msg("using redis for slot locks and cache")
	}

	acc := access.NewService(logger)
	bus := events.NewEventBus(&logger)

	reg := registry.NewService(db, cache, acc, bus, logger)
	reg.Subscribe(bus)

	engine := reservation.NewEngine(reservation.NewSQLStore(db), locker, acc, bus, reservation.Config{
		MaxAttempts:  cfg.Booking.MaxAttempts,
		Backoff:      cfg.ReserveBackoff(),
		LockTTL:      cfg.SlotLockTTL(),
		ReminderLead: cfg.ReminderLead(),
		Location:     cfg.Location(),
	}, logger)

	led := ledger.NewService(db, acc, logger)

	if cfg.Reminders.Enabled {
		sched := newScheduler(cfg, db, logger)
		sched.Start(ctx)
		defer sched.Stop()
	}

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(db, cfg.Backup, &logger)
		if err := backups.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("backup scheduler error")
		}
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	grpcServer := startGRPCHealth(cfg.Server.GRPCPort, &logger)
	defer grpcServer.GracefulStop()

	srv := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), reg, engine, led, db,
		api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			stop()
		}
	}()

	logger.Info().Str("timezone", cfg.Server.Timezone).Msg("courtside started")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	logger.Info().Msg("courtside stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Log.Format, "json") {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func newScheduler(cfg *config.Config, db *database.DB, logger zerolog.Logger) *reminders.Scheduler {
	var mailer reminders.Mailer
	if cfg.SMTP.Host != "" {
		smtpMailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("smtp setup error")
		}
		mailer = smtpMailer
	} else {
		logger.Warn().Msg("smtp.host not set, reminder mail is logged only")
		mailer = notify.NewLogMailer(logger)
	}

	var chat reminders.ChatNotifier
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.Debug, logger)
		if err != nil {
			logger.Error().Err(err).Msg("telegram disabled")
		} else {
			chat = tg
		}
	}

	return reminders.NewScheduler(reminders.Config{
		Interval:      cfg.ReminderInterval(),
		BatchSize:     cfg.Reminders.BatchSize,
		MaxConcurrent: cfg.Reminders.MaxConcurrent,
		Claim:         cfg.ReminderClaim(),
		TickTimeout:   cfg.ReminderTickTimeout(),
		SendRate:      cfg.Reminders.SendRate,
		SendBurst:     cfg.Reminders.SendBurst,
	}, db, db, db, mailer, chat, logger)
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// startGRPCHealth serves the standard gRPC health service for orchestrators.
func startGRPCHealth(port int, logger *zerolog.Logger) *grpc.Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Int("port", port).Msg("grpc health listener error")
		return srv
	}
	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc health server error")
		}
	}()
	return srv
}
