package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labcore/labcore/internal/config"
	"github.com/labcore/labcore/internal/domain/alert"
	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/domain/order"
	"github.com/labcore/labcore/internal/domain/result"
	"github.com/labcore/labcore/internal/domain/specimen"
	"github.com/labcore/labcore/internal/domain/validation"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/idgen"
	"github.com/labcore/labcore/internal/platform/middleware"
	"github.com/labcore/labcore/internal/platform/notification"
	"github.com/labcore/labcore/internal/platform/scheduling"
)

// completionLogger is the default consumer of the item-completion signal
// until a billing or reporting integration takes its place.
type completionLogger struct {
	logger zerolog.Logger
}

func (l *completionLogger) OrderItemCompleted(_ context.Context, item *order.LabOrderItem) error {
	l.logger.Info().
		Str("order_item_id", item.ID.String()).
		Str("test_id", item.TestID.String()).
		Msg("order item completed")
	return nil
}

// repeatLogger is the default consumer of the repeat-test signal. Specimen
// re-collection stays a manual step, so the request is surfaced in the log.
type repeatLogger struct {
	logger zerolog.Logger
}

func (l *repeatLogger) RepeatTestRequested(_ context.Context, req validation.RepeatRequest) error {
	l.logger.Warn().
		Str("result_id", req.ResultID.String()).
		Str("order_item_id", req.OrderItemID.String()).
		Str("requested_by", req.RequestedBy.String()).
		Str("reason", req.Reason).
		Msg("repeat test requested")
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "lab-server",
		Short: "Laboratory diagnostic workflow engine",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the workflow engine",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
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

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
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

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Roll back with a hand-written SQL script against the target database.")
			return nil
		},
	})

	return cmd
}

// sweepCmd runs a single escalation pass and exits. Useful when the
// sweep is driven by an external scheduler instead of the serve loop.
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Escalate unacknowledged critical alerts once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svcs := buildServices(pool, cfg, logger)
			count, err := svcs.alerts.EscalateUnacknowledgedAlerts(ctx, cfg.EscalationThreshold())
			if err != nil {
				return fmt.Errorf("escalation sweep failed: %w", err)
			}

			fmt.Printf("Escalated %d alert(s).\n", count)
			return nil
		},
	}
}

// services holds the wired domain layer. Construction order follows the
// pipeline: catalog feeds orders, orders feed specimens, specimens feed
// results, results feed validation and alerts.
type services struct {
	orders     *order.Service
	specimens  *specimen.Service
	results    *result.Service
	validation *validation.Service
	alerts     *alert.Service
}

func buildServices(pool *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) *services {
	seq := idgen.NewPGSequence(pool)
	run := db.PoolRunner(pool)

	testRepo := catalog.NewTestRepoPG(pool)
	panelRepo := catalog.NewPanelRepoPG(pool)

	orderRepo := order.NewOrderRepoPG(pool)
	itemRepo := order.NewItemRepoPG(pool)
	historyRepo := order.NewHistoryRepoPG(pool)
	orderSvc := order.NewService(orderRepo, itemRepo, historyRepo, testRepo, panelRepo, seq, run)

	specimenRepo := specimen.NewRepoPG(pool)
	specimenSvc := specimen.NewService(specimenRepo, itemRepo, orderRepo, testRepo, seq, run, cfg.BarcodeMaxRetries)

	resultRepo := result.NewResultRepoPG(pool)
	paramRepo := result.NewParameterRepoPG(pool)
	resultSvc := result.NewService(resultRepo, paramRepo, testRepo, orderSvc, specimenRepo, seq, run)

	validationRepo := validation.NewRepoPG(pool)
	validationSvc := validation.NewService(validationRepo, resultSvc, orderSvc, run)

	alertRepo := alert.NewRepoPG(pool)
	dispatcher := notification.NewLogDispatcher(logger)
	alertSvc := alert.NewService(alertRepo, resultSvc, orderSvc, dispatcher, run, logger)

	// Critical, panic and delta flags raise alerts inside the entry
	// transaction.
	resultSvc.AddFlagListener(alertSvc)
	orderSvc.AddCompletionListener(&completionLogger{logger: logger})
	validationSvc.AddRepeatListener(&repeatLogger{logger: logger})

	return &services{
		orders:     orderSvc,
		specimens:  specimenSvc,
		results:    resultSvc,
		validation: validationSvc,
		alerts:     alertSvc,
	}
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs := buildServices(pool, cfg, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/ready", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})

	// Escalation sweep runs for the lifetime of the server.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	sweeper := scheduling.NewSweeper("alert-escalation", cfg.SweepInterval(), func(ctx context.Context) (int, error) {
		return svcs.alerts.EscalateUnacknowledgedAlerts(ctx, cfg.EscalationThreshold())
	}, logger)
	go sweeper.Run(sweepCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sweepCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
