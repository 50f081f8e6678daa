package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/archive"
	"github.com/alfredjeanlab/coherence/internal/config"
	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/ratelimit"
	"github.com/alfredjeanlab/coherence/internal/replay"
	"github.com/alfredjeanlab/coherence/internal/server"
	"github.com/alfredjeanlab/coherence/internal/store/postgres"
)

const (
	healthInterval  = 10 * time.Second
	cleanupInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent gateway",
	Long: `Run the agent gateway. Configuration comes from COHERENCE_* environment
variables, optionally layered over the TOML file named by COHERENCE_CONFIG.`,
	GroupID:           "system",
	PersistentPreRunE: localCommand,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// newLogger builds the process logger. level and format are validated by
// config.Load.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(level))
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serve runs the gateway until ctx is cancelled, then shuts down gracefully.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("%sREDIS_URL: %w", config.EnvPrefix, err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", "error", err)
		}
	}

	// Background loops stop with bg.
	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithAdminToken(cfg.AdminToken),
		server.WithMaxBodyBytes(cfg.MaxBodyBytes),
		server.WithKeepalive(cfg.SSEKeepalive),
		server.WithReplayStore(newReplayStore(bg, cfg.ReplayStore, rdb)),
		server.WithLimiter(ratelimit.New(newQuotaStore(bg, cfg.RateLimitStore, st, rdb),
			ratelimit.WithDefaultLimit(cfg.RateLimitDefault),
			ratelimit.WithFailOpen(cfg.RateLimitFailOpen),
			ratelimit.WithLogger(logger),
		)),
	}
	logger.Info("replay protection", "store", cfg.ReplayStore)
	logger.Info("rate limits", "store", cfg.RateLimitStore, "default_per_hour", cfg.RateLimitDefault, "fail_open", cfg.RateLimitFailOpen)

	var (
		publisher  events.Publisher = &events.NoopPublisher{}
		subscriber *events.NATSSubscriber
	)
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			pub.Close()
			return err
		}
		publisher, subscriber = pub, sub
		opts = append(opts, server.WithPublisher(pub))
		logger.Info("event bus enabled", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("event bus disabled, streaming locally (COHERENCE_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "error", err)
		}
	}()

	gw := server.New(st, opts...)

	relayDone := make(chan struct{})
	if subscriber != nil {
		go func() {
			defer close(relayDone)
			defer subscriber.Close()
			if err := gw.Relay(bg, subscriber); err != nil {
				logger.Error("event relay stopped", "error", err)
			}
		}()
	} else {
		close(relayDone)
	}

	var scheduler *archive.Scheduler
	if cfg.ArchiveEnabled() {
		dest, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
		if err != nil {
			logger.Error("failed to create archive destination", "error", err)
		} else {
			scheduler = archive.NewScheduler(st, []archive.Destination{dest}, cfg.ArchiveInterval, logger)
			scheduler.Start(bg)
			logger.Info("event archive started", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix, "interval", cfg.ArchiveInterval)
		}
	}

	errCh := make(chan error, 2)

	var grpcStop func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcServer, hs := server.NewGRPCServer()
		go gw.WatchHealth(bg, hs, healthInterval)
		go func() {
			logger.Info("gRPC health listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
		grpcStop = grpcServer.GracefulStop
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.NewHTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	logger.Info("coherence gateway started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case runErr = <-errCh:
		logger.Error("server failed, shutting down", "error", runErr)
	}

	// Streams are ended first so Shutdown does not wait on them.
	gw.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	logger.Info("HTTP server stopped")

	if grpcStop != nil {
		grpcStop()
		logger.Info("gRPC server stopped")
	}
	if scheduler != nil {
		scheduler.Stop()
		logger.Info("event archive stopped")
	}
	cancelBG()
	<-relayDone

	logger.Info("shutdown complete")
	return runErr
}

// newReplayStore builds the seen-signature store. Memory stores are swept
// until ctx is done.
func newReplayStore(ctx context.Context, kind string, rdb *redis.Client) replay.Store {
	switch kind {
	case "redis":
		return replay.NewRedis(rdb, "")
	case "off":
		return replay.Disabled{}
	}
	mem := replay.NewMemory()
	go mem.Run(ctx, cleanupInterval)
	return mem
}

// newQuotaStore builds the rate-limit store. The memory store is swept of
// expired windows until ctx is done.
func newQuotaStore(ctx context.Context, kind string, st ratelimit.Store, rdb *redis.Client) ratelimit.Store {
	switch kind {
	case "redis":
		return ratelimit.NewRedisStore(rdb, "")
	case "memory":
		mem := ratelimit.NewMemoryStore()
		go func() {
			ticker := time.NewTicker(cleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					mem.Cleanup(now, ratelimit.DefaultWindow)
				}
			}
		}()
		return mem
	}
	return st
}
