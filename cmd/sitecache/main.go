package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roamplan/sitecache/internal/cache/cellindex"
	"github.com/roamplan/sitecache/internal/cache/redisstore"
	"github.com/roamplan/sitecache/internal/cache/sitestore"
	"github.com/roamplan/sitecache/internal/core/config"
	"github.com/roamplan/sitecache/internal/core/httpclient"
	"github.com/roamplan/sitecache/internal/core/observability"
	"github.com/roamplan/sitecache/internal/core/server"
	"github.com/roamplan/sitecache/internal/geocode"
	"github.com/roamplan/sitecache/internal/invalidation/kafkaconsumer"
	"github.com/roamplan/sitecache/internal/logger"
	h3mapper "github.com/roamplan/sitecache/internal/mapper/h3"
	"github.com/roamplan/sitecache/internal/metrics"
	"github.com/roamplan/sitecache/internal/overpass"
	"github.com/roamplan/sitecache/internal/planner"
	"github.com/roamplan/sitecache/internal/ratelimit"
	"github.com/roamplan/sitecache/internal/service"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "sitecache",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	provider := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{Version: Version},
	})
	observability.Init(provider.Registerer())
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting sitecache",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"overpass", cfg.OverpassURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	redisCli, err := redisstore.New(startupCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = redisCli.Close() }()

	mapper, err := h3mapper.New(cfg.H3Res)
	if err != nil {
		appLog.Error("cell mapper setup failed", "res", cfg.H3Res, "err", err)
		return 1
	}
	idx := cellindex.NewRedisIndex(redisCli)
	store := sitestore.New(redisCli, idx, mapper, appLog, cfg.CacheMaxAge)

	// One age sweep at startup; Redis TTLs handle expiry from here on.
	evictCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if n, err := store.EvictOlderThan(evictCtx, cfg.CacheMaxAge); err != nil {
		appLog.Warn("startup eviction failed", "err", err)
	} else if n > 0 {
		appLog.Info("evicted stale entities", "count", n)
	}
	cancel()

	limiter := ratelimit.NewSlidingWindow("overpass", cfg.RateLimitN, cfg.RateWindow)
	fetchClient := overpass.NewClient(overpass.Config{
		Endpoint:  cfg.OverpassURL,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		Retries:   cfg.FetchRetries,
		BaseDelay: cfg.RetryBaseDelay,
	}, httpclient.NewOutbound(cfg.FetchTimeout+5*time.Second), limiter, appLog)

	plan := planner.New(fetchClient, planner.Config{
		OverlapThreshold: cfg.OverlapThreshold,
		GapMinSpanDeg:    cfg.GapMinSpanDeg,
		QueryLimit:       cfg.DefaultLimit,
		QueryTimeout:     cfg.FetchTimeout,
		MaxSpanDeg:       cfg.MaxBoundsSpanDeg,
	}, appLog)

	geocoder := geocode.New(geocode.Config{
		Endpoint:  cfg.NominatimURL,
		UserAgent: cfg.UserAgent,
		Spacing:   cfg.GeocodeSpacing,
	}, httpclient.NewOutbound(15*time.Second), appLog)

	svc := service.New(store, plan, geocoder, service.Config{
		CacheMaxAge:      cfg.CacheMaxAge,
		MaxBoundsSpanDeg: cfg.MaxBoundsSpanDeg,
		LocationRadiusKm: cfg.LocationRadiusKm,
		SecondaryDelay:   cfg.SecondaryDelay,
		DefaultLimit:     cfg.DefaultLimit,
	}, appLog)

	if cfg.Invalidation.Enabled {
		consumer, err := kafkaconsumer.New(kafkaconsumer.FromAppConfig(cfg.Invalidation), appLog, store)
		if err != nil {
			appLog.Error("invalidation consumer setup failed", "err", err)
			return 1
		}
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, svc, redisCli, provider.Handler()); err != nil {
		appLog.Error("server failed", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}
