package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ethbalance/internal/application"
	"ethbalance/internal/config"
	"ethbalance/internal/infrastructure/ethrpc"
	"ethbalance/internal/infrastructure/logging"
	"ethbalance/internal/infrastructure/memcache"
	"ethbalance/internal/infrastructure/telemetry"
	"ethbalance/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logWriter, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	if logWriter != nil {
		defer logWriter.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "ethbalance", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown error", "err", err)
			}
		}()
	}

	rpcClient, err := ethrpc.NewClient(ethrpc.Config{
		URL:        cfg.RPCURL,
		Timeout:    cfg.RPCTimeout,
		MaxRetries: cfg.RPCMaxRetries,
	})
	if err != nil {
		slog.Error("rpc error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cache := memcache.New(cfg.CacheTTL, time.Now)
	cache.StartSweeper(ctx, time.Minute)

	metrics := httpapi.NewMetrics()
	service, err := application.NewBalanceService(rpcClient, cache, metrics, application.Config{
		Network:  "mainnet",
		BlockTag: "latest",
	})
	if err != nil {
		slog.Error("service error", "err", err)
		os.Exit(1)
	}

	server, err := httpapi.NewServer(cfg, service, rpcClient, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}

	slog.Info("balance api listening", "addr", cfg.HTTPAddr, "cache_ttl", cfg.CacheTTL)
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("http server error", "err", err)
		os.Exit(1)
	}
}
