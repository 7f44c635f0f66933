// Command server runs the turnstile authentication gateway.
//
// Configuration is read from a YAML file (see pkg/config for discovery)
// with TURNSTILE_* environment overrides, for example:
//
//	TURNSTILE_CONFIG             - config file path
//	TURNSTILE_SERVER_PORT        - listen port (default: 8080)
//	TURNSTILE_SESSION_STORE      - "memory" or "postgres" (default: "memory")
//	TURNSTILE_LOG_LEVEL          - trace, debug, info, warn, error
//	TURNSTILE_DEBUG              - debug categories, e.g. "auth,session"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhuss/turnstile/pkg/config"
	"github.com/rhuss/turnstile/pkg/debug"
	"github.com/rhuss/turnstile/pkg/gateway"
	transporthttp "github.com/rhuss/turnstile/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	debug.Init(cfg.Log.Debug, cfg.Log.Level, cfg.Log.Format)
	logger := slog.Default()

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}
	defer gw.Close()

	srv := transporthttp.NewServer(gw.Handler(),
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
	)

	return srv.Run(ctx)
}
