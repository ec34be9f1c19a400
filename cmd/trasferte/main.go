package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trasferte/internal/amqp"
	"trasferte/internal/auth"
	"trasferte/internal/config"
	apphttp "trasferte/internal/http"
	"trasferte/internal/rates"
	"trasferte/internal/services"
	"trasferte/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// Decision events feed the reimbursement worker. The server runs without
	// a broker too; decisions are then picked up by the worker's catch-up pass.
	var publisher services.DecisionPublisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	var oracle rates.Oracle
	if cfg.RatesBaseURL != "" {
		oracle = rates.NewHTTPOracle(cfg.RatesBaseURL, cfg.RatesAccessKey, cfg.RatesTimeout)
		logger.Info("Rate oracle initialized", "base_url", cfg.RatesBaseURL)
	} else {
		oracle = rates.NewStaticOracle()
		logger.Warn("No rate oracle endpoint configured, using static rate table")
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	accounts := services.NewAccountService(repo)
	ledger := services.NewLedgerService(repo, repo, oracle)
	approvals := services.NewApprovalService(repo, publisher)
	reports := services.NewReportingService(repo)

	srv := apphttp.NewServer(":"+cfg.Port, tokens, accounts, ledger, approvals, reports)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting trasferte server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
