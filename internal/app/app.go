package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"

	adsAdapter "github.com/doorstephq/doorstep-cloud/internal/adapter/ads"
	calendarAdapter "github.com/doorstephq/doorstep-cloud/internal/adapter/calendar"
	"github.com/doorstephq/doorstep-cloud/internal/adapter/messaging"
	"github.com/doorstephq/doorstep-cloud/internal/adapter/repository/postgres"
	"github.com/doorstephq/doorstep-cloud/internal/api"
	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/config"
	"github.com/doorstephq/doorstep-cloud/internal/delivery"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/handlers"
	"github.com/doorstephq/doorstep-cloud/internal/notify"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/pipeline"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
	"github.com/doorstephq/doorstep-cloud/internal/reconciler"
	"github.com/doorstephq/doorstep-cloud/internal/scheduler"
	"github.com/doorstephq/doorstep-cloud/pkg/adsclient"
	"github.com/doorstephq/doorstep-cloud/pkg/calclient"
	"github.com/doorstephq/doorstep-cloud/pkg/db"
	zaplog "github.com/doorstephq/doorstep-cloud/pkg/log"
	"github.com/doorstephq/doorstep-cloud/pkg/relayclient"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
	"github.com/doorstephq/doorstep-cloud/sql/migrations"
)

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		coreOptions(),
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunDispatchOnce drains up to batchSize due outbox events and exits.
// Meant for cron-style operation and incident recovery, it shares the
// exact handler wiring the long-running dispatcher uses.
func RunDispatchOnce(batchSize int) error {
	var cfg *config.Config
	var dispatcher *outbox.Dispatcher
	var logger *zap.Logger

	app := fx.New(
		coreOptions(),
		fx.Populate(&cfg, &dispatcher, &logger),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("start app: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	if batchSize <= 0 {
		batchSize = cfg.DispatchBatchSize
	}

	stats, err := dispatcher.ProcessBatch(context.Background(), batchSize)
	if err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	logger.Info("outbox batch drained",
		zap.Int("total", stats.Total),
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("errors", stats.Errors),
	)
	return nil
}

func coreOptions() fx.Option {
	return fx.Options(
		fx.Provide(
			// Config
			config.Load,

			// Infrastructure (Adapters)
			relayclient.NewFromEnv,
			calclient.NewFromEnv,
			adsclient.NewFromEnv,

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewOutboxStore,
				fx.As(new(outbox.Store)),
			),
			fx.Annotate(
				postgres.NewLeadRepository,
				fx.As(new(crm.LeadRepository)),
			),
			fx.Annotate(
				postgres.NewAppointmentRepository,
				fx.As(new(crm.AppointmentRepository)),
			),
			fx.Annotate(
				postgres.NewQuoteRepository,
				fx.As(new(crm.QuoteRepository)),
			),
			fx.Annotate(
				postgres.NewTaskRepository,
				fx.As(new(crm.TaskRepository)),
			),
			fx.Annotate(
				postgres.NewThreadRepository,
				fx.As(new(conversation.ThreadRepository)),
			),
			fx.Annotate(
				postgres.NewMessageRepository,
				fx.As(new(conversation.MessageRepository)),
			),
			fx.Annotate(
				postgres.NewAutomationRepository,
				fx.As(new(conversation.AutomationRepository)),
			),
			fx.Annotate(
				postgres.NewAuditRepository,
				fx.As(new(audit.Repository)),
			),
			fx.Annotate(
				postgres.NewProviderHealthRepository,
				fx.As(new(providerhealth.Repository)),
			),
			fx.Annotate(
				messaging.NewPort,
				fx.As(new(channel.Messenger)),
				fx.As(new(channel.Dialer)),
			),
			fx.Annotate(
				calendarAdapter.NewAdapter,
				fx.As(new(channel.Calendar)),
			),
			fx.Annotate(
				adsAdapter.NewAdapter,
				fx.As(new(channel.AdsSink)),
			),

			// Core Services
			audit.NewLog,
			providerhealth.NewTracker,
			policy.NewProvider,
			newNotifyBuilder,
			delivery.NewPipeline,
			pipeline.NewEngine,

			// Schedulers
			scheduler.NewOutbound,
			scheduler.NewFollowups,
			newFollowupCanceler,
			scheduler.NewReminders,
			newEscalation,

			// Event Handlers & Dispatch
			handlers.NewSet,
			handlers.BuildRegistry,
			newDispatcher,
			newClaimReconciler,
			newTaskReconciler,

			// API
			api.NewRouter,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
	)
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		if err == migrate.ErrNoChange {
			logger.Info("No changes to apply")
		} else {
			logger.Info("Migration up applied successfully")
		}
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied successfully")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *api.Router,
	dispatcher *outbox.Dispatcher,
	claims *reconciler.ClaimReconciler,
	tasks *reconciler.TaskReconciler,
	logger *zap.Logger,
) {
	var dispatcherCancel context.CancelFunc
	var claimCancel context.CancelFunc
	var taskCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", cfg.Port))

			dispatcherCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			dispatcherCancel = cancel
			go dispatcher.Run(dispatcherCtx)

			claimCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			claimCancel = cancel
			go claims.Run(claimCtx)

			taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			taskCancel = cancel
			go tasks.Run(taskCtx)

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			if dispatcherCancel != nil {
				dispatcherCancel()
			}
			if claimCancel != nil {
				claimCancel()
			}
			if taskCancel != nil {
				taskCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

func newFollowupCanceler(followups *scheduler.Followups) pipeline.FollowupCanceler {
	return followups
}

func newNotifyBuilder(
	cfg *config.Config,
	leads crm.LeadRepository,
	appointments crm.AppointmentRepository,
	quotes crm.QuoteRepository,
	logger *zap.Logger,
) *notify.Builder {
	return notify.NewBuilder(leads, appointments, quotes, cfg.RescheduleBaseURL, logger)
}

func newEscalation(
	cfg *config.Config,
	tasks crm.TaskRepository,
	leads crm.LeadRepository,
	messages conversation.MessageRepository,
	store outbox.Store,
	dialer channel.Dialer,
	messenger channel.Messenger,
	policies *policy.Provider,
	auditLog *audit.Log,
	logger *zap.Logger,
) *scheduler.Escalation {
	return scheduler.NewEscalation(tasks, leads, messages, store, dialer, messenger, policies, auditLog, cfg.TeamNotifyPhone, logger)
}

func newDispatcher(cfg *config.Config, store outbox.Store, registry *outbox.Registry, logger *zap.Logger) *outbox.Dispatcher {
	interval := time.Duration(cfg.DispatchInterval) * time.Second
	return outbox.NewDispatcher(store, registry, logger, interval, cfg.DispatchBatchSize)
}

// Stale claims are swept at half the claim TTL so an abandoned event
// waits at most 1.5x the TTL before redelivery.
func newClaimReconciler(cfg *config.Config, store outbox.Store, logger *zap.Logger) *reconciler.ClaimReconciler {
	claimTTL := time.Duration(cfg.ClaimTTL) * time.Second
	return reconciler.NewClaimReconciler(store, logger, claimTTL/2, claimTTL)
}

func newTaskReconciler(cfg *config.Config, tasks crm.TaskRepository, store outbox.Store, auditLog *audit.Log, logger *zap.Logger) *reconciler.TaskReconciler {
	return reconciler.NewTaskReconciler(tasks, store, auditLog, logger, time.Minute)
}
