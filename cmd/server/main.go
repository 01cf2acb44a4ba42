// Command server runs the quiz-solving service: an HTTP intake endpoint in
// front of a browser-driving, LLM-backed solving agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quiznerd/internal/agent"
	"quiznerd/internal/config"
	"quiznerd/internal/oracle"
	"quiznerd/internal/recorder"
	"quiznerd/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	listen := flag.String("listen", "", "listen address override (e.g., :8000)")
	flag.Parse()

	// Missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	log, err := buildLogger(cfg.Server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	primary, err := oracle.NewGeminiClient(ctx, cfg.Oracle, log)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	// A typed nil must not reach the interface or the failover would call it.
	var secondary oracle.Client
	if fb := oracle.NewFallbackClient(cfg.Oracle, log); fb != nil {
		secondary = fb
	}
	oracleClient := oracle.NewFailover(primary, secondary, log)

	rec, err := recorder.NewRecorder(cfg.Agent.TraceDir)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	defer func() { _ = rec.Close() }()

	solver := agent.NewSolver(cfg, oracleClient, rec, log)
	srv := server.New(cfg.Server, solver, log)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Listen), zap.String("oracle", oracleClient.Name()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	srv.Shutdown()
	return nil
}

func buildLogger(cfg config.ServerConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Env == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.LogFile != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.LogFile)
	}
	return zcfg.Build()
}
