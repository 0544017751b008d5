package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/handlers"
	"github.com/agentcoord/agentcoord/pkg/llm"
	"github.com/agentcoord/agentcoord/pkg/middleware"
	"github.com/agentcoord/agentcoord/pkg/repositories"
	"github.com/agentcoord/agentcoord/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Host),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Strings("roles", cfg.Coordination.Roles))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}

	db, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	client, err := llm.NewClient(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}
	gateway := llm.NewGateway(client, cfg.LLM.MaxAttempts, logger)

	// Repositories
	workflowRepo := repositories.NewWorkflowRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	resultRepo := repositories.NewResultRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	lockRepo := repositories.NewLockRepository(db)

	// Services
	planner := services.NewPlannerService(workflowRepo, projectRepo, gateway, cfg, logger)
	scheduler := services.NewSchedulerService(workflowRepo, cfg, logger)
	auditor := services.NewAuditorService(workflowRepo, resultRepo, auditRepo, gateway, cfg, logger)
	results := services.NewResultService(workflowRepo, auditor, cfg, logger)
	locks := services.NewLockService(lockRepo, cfg, logger)

	sweeper := services.NewSweeper(workflowRepo, lockRepo, cfg, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("Failed to start sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	// Authenticated coordination API
	api := http.NewServeMux()
	handlers.NewTasksHandler(planner, scheduler, cfg, logger).RegisterRoutes(api)
	handlers.NewResultsHandler(results, logger).RegisterRoutes(api)
	handlers.NewWorkflowsHandler(workflowRepo, logger).RegisterRoutes(api)
	handlers.NewLocksHandler(locks, logger).RegisterRoutes(api)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	mux.Handle("/v1/", middleware.BearerAuth(cfg.AuthToken, logger)(api))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting agentcoord",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
	}
}

// runMigrations opens a short-lived database/sql connection for the
// migration runner, separate from the pgx pool used at runtime.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	return database.RunMigrations(db, cfg.Database.MigrationsPath, logger)
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
