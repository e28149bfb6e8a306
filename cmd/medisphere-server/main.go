package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/medisphere/medisphere/internal/config"
	"github.com/medisphere/medisphere/internal/domain/admission"
	"github.com/medisphere/medisphere/internal/domain/billing"
	"github.com/medisphere/medisphere/internal/domain/scheduling"
	"github.com/medisphere/medisphere/internal/domain/ward"
	"github.com/medisphere/medisphere/internal/platform/auth"
	"github.com/medisphere/medisphere/internal/platform/db"
	"github.com/medisphere/medisphere/internal/platform/middleware"
	"github.com/medisphere/medisphere/internal/platform/notification"
	"github.com/medisphere/medisphere/internal/platform/telemetry"
	"github.com/medisphere/medisphere/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "medisphere-server",
		Short: "Ward and bed allocation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(wardCmd())
	rootCmd.AddCommand(bedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadPostgres loads config and opens a pool for the postgres-only commands.
func loadPostgres(ctx context.Context) (*config.Config, *backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("this command requires STORE_DRIVER=%s", config.DriverPostgres)
	}
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, b, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, b, err := loadPostgres(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			schema, _ := cmd.Flags().GetString("schema")
			if schema == "" {
				schema = db.SchemaName(cfg.DefaultTenant)
			}
			if err := db.CreateTenantSchema(ctx, b.pool, cfg.DefaultTenant, nil); err != nil {
				return err
			}

			migrator := db.NewMigrator(b.pool, migrations.FS)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to the DEFAULT_TENANT schema)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, b, err := loadPostgres(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			schema, _ := cmd.Flags().GetString("schema")
			if schema == "" {
				schema = db.SchemaName(cfg.DefaultTenant)
			}
			statuses, err := db.NewMigrator(b.pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
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
	statusCmd.Flags().String("schema", "", "Target schema (defaults to the DEFAULT_TENANT schema)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage hospital tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply all migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			_, b, err := loadPostgres(ctx)
			if err != nil {
				return err
			}
			defer b.close()

			fmt.Printf("Creating tenant schema: %s\n", db.SchemaName(name))
			if err := db.CreateTenantSchema(ctx, b.pool, name, db.NewMigrator(b.pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

// withWardService opens the configured store and runs fn as an administrator
// of the tenant named by --tenant.
func withWardService(cmd *cobra.Command, fn func(ctx context.Context, svc *ward.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.StoreDriver == config.DriverMemory {
		return fmt.Errorf("STORE_DRIVER=%s does not persist; use %s or %s", config.DriverMemory, config.DriverSQLite, config.DriverPostgres)
	}
	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}
	svc := ward.NewService(b.wards, b.allocations, b.tx, auth.DefaultPolicy())
	ctx = auth.WithIdentity(ctx, "cli", []string{auth.RoleAdmin}, "")
	return b.withTenant(ctx, tenant, func(ctx context.Context) error {
		return fn(ctx, svc)
	})
}

func wardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ward",
		Short: "Manage wards",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Register a ward with a fixed bed capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			capacity, _ := cmd.Flags().GetInt("capacity")
			return withWardService(cmd, func(ctx context.Context, svc *ward.Service) error {
				w, err := svc.CreateWard(ctx, name, capacity)
				if err != nil {
					return err
				}
				fmt.Printf("Created ward %s (%s) with capacity %d\n", w.Name, w.ID, w.Capacity)
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Ward name")
	createCmd.Flags().Int("capacity", 0, "Maximum number of beds")
	createCmd.Flags().String("tenant", "", "Tenant identifier (postgres only)")
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List wards with their occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWardService(cmd, func(ctx context.Context, svc *ward.Service) error {
				wards, err := svc.ListWards(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%-36s %-24s %-8s %-8s %s\n", "ID", "NAME", "CAPACITY", "BEDS", "OCCUPIED")
				for _, w := range wards {
					fmt.Printf("%-36s %-24s %-8d %-8d %d\n", w.ID, w.Name, w.Capacity, w.TotalBeds, w.OccupiedBeds)
				}
				return nil
			})
		},
	}
	listCmd.Flags().String("tenant", "", "Tenant identifier (postgres only)")
	cmd.AddCommand(listCmd)

	return cmd
}

func bedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bed",
		Short: "Manage beds",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a bed to a ward",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawWard, _ := cmd.Flags().GetString("ward")
			number, _ := cmd.Flags().GetString("number")
			wardID, err := uuid.Parse(rawWard)
			if err != nil {
				return fmt.Errorf("--ward must be a ward id: %w", err)
			}
			return withWardService(cmd, func(ctx context.Context, svc *ward.Service) error {
				b, err := svc.AddBed(ctx, wardID, number)
				if err != nil {
					return err
				}
				fmt.Printf("Added bed %s (%s)\n", b.BedNumber, b.ID)
				return nil
			})
		},
	}
	addCmd.Flags().String("ward", "", "Ward id")
	addCmd.Flags().String("number", "", "Bed number, unique within the ward")
	addCmd.Flags().String("tenant", "", "Tenant identifier (postgres only)")
	cmd.AddCommand(addCmd)

	return cmd
}

// app holds what the HTTP server is built from.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	backend    *backend
	metrics    *telemetry.Metrics
	dispatcher *notification.Dispatcher
}

func (a *app) authMiddleware() echo.MiddlewareFunc {
	var jwtMW echo.MiddlewareFunc
	if a.cfg.AuthSigningKey != "" || a.cfg.AuthIssuer != "" {
		jwtMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			JWKSURL:    a.cfg.AuthJWKSURL,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		})
	}
	if a.cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtMW)
	}
	return jwtMW
}

func (a *app) newEcho() *echo.Echo {
	cfg, logger, b := a.cfg, a.logger, a.backend

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "medisphere")
	}))
	e.Use(a.metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"store":   b.driver,
		})
	})
	e.GET("/health/db", db.HealthHandler(b.pinger))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(a.authMiddleware())
	if b.pool != nil {
		apiV1.Use(db.TenantMiddleware(b.pool, cfg.DefaultTenant))
	}
	apiV1.Use(middleware.Audit(logger))

	policy := auth.DefaultPolicy()
	wardSvc := ward.NewService(b.wards, b.allocations, b.tx, policy)
	billSvc := billing.NewService(b.bills)
	apptSvc := scheduling.NewService(b.appointments)
	admissionSvc := admission.NewService(wardSvc, b.allocations, billSvc, apptSvc, b.tx, policy, logger,
		admission.WithNotifier(a.dispatcher),
		admission.WithObserver(a.metrics),
		admission.WithConfig(admission.Config{
			AdmissionCharge:  cfg.AdmissionCharge,
			AdmitHorizonDays: cfg.AdmitHorizonDays,
		}),
	)

	ward.NewHandler(wardSvc).RegisterRoutes(apiV1)
	admission.NewHandler(admissionSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billSvc).RegisterRoutes(apiV1)
	scheduling.NewHandler(apptSvc).RegisterRoutes(apiV1)

	return e
}

func notificationSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.Sender, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info().Msg("REDIS_URL not set; notifications are written to the log")
		return notification.NewLogSender(logger), func() {}, nil
	}
	client, err := notification.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("channel", cfg.NotifyChannel).Msg("publishing notifications to redis")
	return notification.NewRedisPublisher(client, cfg.NotifyChannel), func() { _ = client.Close() }, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.TelemetryConfig{
		ServiceName:    "medisphere-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer b.close()
	logger.Info().Str("driver", b.driver).Msg("store opened")

	sender, closeSender, err := notificationSender(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect notification channel")
	}
	defer closeSender()

	metrics := telemetry.NewMetrics()
	dispatcher := notification.NewDispatcher(sender, nil, logger, notification.WithObserver(metrics))

	a := &app{cfg: cfg, logger: logger, backend: b, metrics: metrics, dispatcher: dispatcher}
	e := a.newEcho()

	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Float64("admission_charge", cfg.AdmissionCharge).
			Dur("admit_horizon", cfg.AdmitHorizon()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("pending notifications dropped")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn().Err(err).Msg("tracer shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
