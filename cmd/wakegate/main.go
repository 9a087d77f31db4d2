// Package main wires together the wake gateway binary.
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

	"go.uber.org/zap"

	"github.com/wakegate/wakegate/internal/api"
	"github.com/wakegate/wakegate/internal/backend"
	"github.com/wakegate/wakegate/internal/clock/system"
	"github.com/wakegate/wakegate/internal/config"
	"github.com/wakegate/wakegate/internal/gateway"
	"github.com/wakegate/wakegate/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.New(backend.Config{
		BaseURL:        cfg.Backend.URL,
		ProbeTimeout:   cfg.ProbeTimeout(),
		WakeTimeout:    cfg.WakeTimeout(),
		ForwardTimeout: cfg.ForwardTimeout(),
	}, logger.Named("backend"))

	gw := gateway.New(client, system.New(), gateway.Config{
		ProbeInterval:     cfg.ProbeInterval(),
		MaxBlockWait:      cfg.MaxBlockWait(),
		RetryAfterSeconds: cfg.Retry.RetryAfterSeconds,
	}, logger.Named("gateway"))

	apiServer := api.NewServer(gw, client, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started",
			zap.Int("port", cfg.Server.Port),
			zap.String("backend", cfg.Backend.URL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
