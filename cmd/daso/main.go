package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"daso/internal/api"
	"daso/internal/config"
	"daso/internal/events"
	"daso/internal/metrics"
	"daso/internal/models"
	"daso/internal/slots"
	"daso/internal/views"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("failed to read .env")
	}

	var (
		configPath = pflag.String("config", os.Getenv("DASO_CONFIG_PATH"), "path to the YAML config")
		view       = pflag.String("view", "staff", "surface to run: staff, kiosk or admin")
		counter    = pflag.Int("counter", 0, "counter number (staff view), overrides config")
		staffID    = pflag.Int("staff-id", 0, "staff id (staff view), overrides config")
		mode       = pflag.String("mode", "", "open the kiosk straight into walk_in or pre_book")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}
	if *counter > 0 {
		cfg.Counter.Number = *counter
	}
	if *staffID > 0 {
		cfg.Counter.StaffID = *staffID
	}
	if *mode != "" && !models.BookingMode(*mode).Valid() {
		logger.Fatal().Str("mode", *mode).Msg("unknown booking mode")
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.APIKey, api.Options{
		Timeout:           cfg.APITimeout(),
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		CacheTTL:          cfg.CacheTTL(),
		Logger:            &logger,
	})
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		client.UseRedisCache(rdb, cfg.CacheTTL())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, client, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	bus := events.NewEventBus()
	bus.Subscribe(events.QueueAnomaly, func(e events.Event) {
		logger.Warn().Interface("anomaly", e.Payload).Msg("queue anomaly")
	})

	var run func(context.Context, io.Reader) error
	switch *view {
	case "staff":
		run = views.NewStaff(views.StaffConfig{
			API:       client,
			Counter:   cfg.Counter.Number,
			StaffID:   cfg.Counter.StaffID,
			Interval:  cfg.PollQueueInterval(),
			DropStale: cfg.Polling.DropStale,
			Logger:    &logger,
			Events:    bus,
			Out:       os.Stdout,
		}).Run
	case "kiosk":
		run = views.NewKiosk(views.KioskConfig{
			API:         client,
			Mode:        models.BookingMode(*mode),
			DefaultMode: cfg.Kiosk.DefaultMode,
			Schedule: slots.Schedule{
				Open:        cfg.Slots.Open,
				Close:       cfg.Slots.Close,
				LunchStart:  cfg.Slots.LunchStart,
				LunchEnd:    cfg.Slots.LunchEnd,
				SlotMinutes: cfg.Slots.SlotMinutes,
				Capacity:    cfg.Slots.Capacity,
			},
			DaysAhead:      cfg.Kiosk.DaysAhead,
			ScanDuration:   cfg.ScanDuration(),
			SuccessDisplay: cfg.SuccessDisplay(),
			ResetAfter:     cfg.KioskReset(),
			VoiceTimeout:   cfg.VoiceTimeout(),
			Logger:         &logger,
			Events:         bus,
			Out:            os.Stdout,
		}).Run
	case "admin":
		run = views.NewAdmin(views.AdminConfig{
			API:                  client,
			AnalyticsInterval:    cfg.PollAnalyticsInterval(),
			AppointmentsInterval: cfg.PollAppointmentsInterval(),
			StaffInterval:        cfg.PollStaffInterval(),
			ExportDir:            cfg.Report.Dir,
			DailyExportAt:        cfg.Report.DailyAt,
			Logger:               &logger,
			Out:                  os.Stdout,
		}).Run
	default:
		logger.Fatal().Str("view", *view).Msg("unknown view")
	}

	logger.Info().Str("view", *view).Str("api", cfg.API.BaseURL).Msg("DASO client started")
	if err := run(ctx, os.Stdin); err != nil {
		logger.Error().Err(err).Msg("view stopped with error")
	}
	logger.Info().Msg("DASO client stopped")
}

func startHealthServer(ctx context.Context, port int, client *api.Client, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.HealthCheck(ctxPing); err != nil {
			http.Error(w, "queue service not ready", http.StatusServiceUnavailable)
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

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
