package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agenda/agenda/internal/config"
	"github.com/agenda/agenda/internal/domain/scheduling"
	"github.com/agenda/agenda/internal/platform/db"
	"github.com/agenda/agenda/internal/platform/middleware"
	"github.com/agenda/agenda/internal/platform/realtime"
	"github.com/agenda/agenda/internal/platform/telemetry"
)

const version = "0.1.0"

// hubNotifier adapts the realtime hub to the scheduling.Notifier interface,
// avoiding a dependency from the domain package on the transport.
type hubNotifier struct {
	hub *realtime.Hub
}

func (n *hubNotifier) Publish(event scheduling.ChangeEvent) {
	n.hub.PublishChange(event.Table, event.Operation, event.Record)
}

// filePackageCatalog resolves package ids to service categories from a JSON
// file mapping id -> category. A missing file yields an empty catalog.
type filePackageCatalog struct {
	categories map[string]string
}

func loadPackageCatalog(path string) (*filePackageCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var categories map[string]string
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parse package catalog: %w", err)
	}
	return &filePackageCatalog{categories: categories}, nil
}

func (p *filePackageCatalog) Lookup(packageID string) (string, bool) {
	category, ok := p.categories[packageID]
	return category, ok
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "agenda-server",
		Short: "Availability and appointment scheduling server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL must be set to run migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.HasDatabase() {
				return fmt.Errorf("DATABASE_URL must be set to inspect migrations")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a database backup instead.")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Telemetry
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "agenda-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	defer tp.Shutdown(context.Background())

	// Persistence: Postgres when configured, in-memory otherwise.
	ctx := context.Background()
	var (
		slotRepo scheduling.SlotRepository
		typeRepo scheduling.TypeRepository
		apptRepo scheduling.AppointmentRepository
	)
	var pool *pgxpool.Pool
	if cfg.HasDatabase() {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		slotRepo = scheduling.NewSlotRepoPG(pool)
		typeRepo = scheduling.NewTypeRepoPG(pool)
		apptRepo = scheduling.NewAppointmentRepoPG(pool)
	} else {
		logger.Warn().Msg("running with in-memory stores; data is not persisted")
		slotRepo = scheduling.NewMemSlotRepo()
		typeRepo = scheduling.NewMemTypeRepo()
		apptRepo = scheduling.NewMemAppointmentRepo()
	}

	// Realtime hub
	hub := realtime.NewHub()
	wsHandler := realtime.NewWebSocketHandler(hub)

	// Optional package catalog for typed appointment creation
	var packages scheduling.PackageCatalog
	if path := os.Getenv("PACKAGES_FILE"); path != "" {
		catalog, err := loadPackageCatalog(path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("failed to load package catalog")
		}
		packages = catalog
		logger.Info().Str("path", path).Msg("package catalog loaded")
	}

	// Scheduling service
	svc := scheduling.NewService(slotRepo, typeRepo, apptRepo, &hubNotifier{hub: hub}, packages)
	if err := svc.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load schedule")
	}
	slots, appts := svc.Counts()
	logger.Info().Int("slots", slots).Int("appointments", appts).Msg("schedule loaded")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1MB"))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())

	// API group with rate limiting
	api := e.Group("/api")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	handler := scheduling.NewHandler(svc, tp)
	handler.RegisterRoutes(api)

	// WebSocket change feed
	wsHandler.RegisterRoutes(e.Group(""))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", tp.PrometheusHandler())
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))

		// Feed pool stats into the telemetry gauges.
		poolCtx, poolCancel := context.WithCancel(context.Background())
		defer poolCancel()
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-poolCtx.Done():
					return
				case <-ticker.C:
					stats := pool.Stat()
					rec := tp.HealthMetrics()
					rec.SetDBPoolActive(int64(stats.AcquiredConns()))
					rec.SetDBPoolIdle(int64(stats.IdleConns()))
				}
			}
		}()
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if cfg.TLSEnabled {
			if err := e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server error")
			}
			return
		}
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
