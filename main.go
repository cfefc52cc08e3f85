package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/dispatch/internal/adapter"
	"github.com/xiaot623/gogo/dispatch/internal/adapter/agent"
	"github.com/xiaot623/gogo/dispatch/internal/adapter/loopback"
	"github.com/xiaot623/gogo/dispatch/internal/adapter/terminal"
	"github.com/xiaot623/gogo/dispatch/internal/config"
	"github.com/xiaot623/gogo/dispatch/internal/hub"
	"github.com/xiaot623/gogo/dispatch/internal/notify"
	"github.com/xiaot623/gogo/dispatch/internal/repository"
	"github.com/xiaot623/gogo/dispatch/internal/service"
	handler "github.com/xiaot623/gogo/dispatch/internal/transport/http"
	"github.com/xiaot623/gogo/dispatch/internal/transport/ws"
	"github.com/xiaot623/gogo/dispatch/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	logger.Info("starting dispatch",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabaseURL,
		"policy_file", cfg.PolicyFile,
		"max_sessions", cfg.MaxSessions)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to initialize store", err)
	}
	defer db.Close()

	// Initialize policy engine
	var policyEngine *policy.Engine
	if cfg.PolicyFile != "" {
		policyEngine, err = policy.LoadFile(ctx, cfg.PolicyFile)
		if err != nil {
			fatal(logger, "failed to load policy file", err)
		}
		watcher := policy.NewWatcher(policyEngine, cfg.PolicyFile, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("policy watcher stopped", "error", err)
			}
		}()
	} else {
		policyEngine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
		if err != nil {
			fatal(logger, "failed to initialize policy engine", err)
		}
	}

	// Register adapters
	adapters := adapter.NewRegistry(logger)
	adapters.Register(loopback.Kind, loopback.New())
	adapters.Register(terminal.Kind, terminal.New(cfg.TerminalShell, logger))
	if cfg.AgentEndpoint != "" {
		adapters.Register(agent.Kind, agent.New(cfg.AgentEndpoint, agent.NewClient(cfg.AgentTimeout), logger))
	}

	// Initialize service
	bus := notify.NewBus(logger)
	svc, err := service.New(db, adapters, bus, cfg, policyEngine, logger)
	if err != nil {
		fatal(logger, "failed to initialize service", err)
	}
	if _, err := svc.ReconcileOrphans(ctx); err != nil {
		logger.Warn("failed to reconcile orphaned sessions", "error", err)
	}

	// Attach stream
	h := hub.NewHub(logger)
	go h.Run(ctx)
	unsubscribe := h.Subscribe(bus)
	defer unsubscribe()

	server := handler.NewServer(svc, ws.NewServer(cfg, h, svc, logger), logger)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "failed to start server", err)
		}
	}()
	logger.Info("dispatch started", "addr", fmt.Sprintf(":%d", cfg.HTTPPort), "kinds", adapters.ListKinds())

	<-ctx.Done()
	logger.Info("shutting down dispatch")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown server gracefully", "error", err)
	}
	svc.Shutdown(shutdownCtx)

	logger.Info("dispatch stopped")
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
