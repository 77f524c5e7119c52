package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/btighe428/cityping-sub002/internal/cli"
	"github.com/btighe428/cityping-sub002/internal/db"
	"github.com/btighe428/cityping-sub002/internal/httpapi"
	"github.com/btighe428/cityping-sub002/internal/logging"
)

// parseListenAddr splits host:port; an empty host binds every interface.
func parseListenAddr(addr string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("--addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("--addr %q: port must be between 1 and 65535", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", ":8090", "Listen address (host:port)")
	connectTimeout := fs.Duration("connect-timeout", 10*time.Second, "Database connect timeout")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 2*time.Minute, "HTTP write timeout; covers provider calls")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	host, port, err := parseListenAddr(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, *connectTimeout)
	pool, err := db.NewPool(connectCtx, cfg)
	cancelConnect()
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc, err := newPipelineService(cfg, pool, logger, true)
	if err != nil {
		logger.Error().Err(err).Msg("serve failed to configure pipeline")
		fmt.Fprintf(os.Stderr, "Failed to configure pipeline: %v\n", err)
		return 1
	}

	srv := httpapi.NewServer(svc, logging.Component(logger, "httpapi"), httpapi.Options{
		Host:               host,
		Port:               port,
		ReadTimeout:        *readTimeout,
		WriteTimeout:       *writeTimeout,
		ShutdownTimeout:    *shutdownTimeout,
		CORSAllowedOrigins: cfg.CORSAllowedOriginsList(),
	})
	logger.Info().
		Str("embedding_provider", cfg.EmbeddingProvider).
		Str("embedding_model", cfg.EmbeddingModel).
		Msg("pipeline ready")

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("addr", *addr).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
