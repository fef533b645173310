package main

import (
	"github.com/LJTian/FeedHub/internal/aggregator"
	"github.com/LJTian/FeedHub/internal/api"
	"github.com/LJTian/FeedHub/internal/collector"
	"github.com/LJTian/FeedHub/internal/config"
	"github.com/LJTian/FeedHub/internal/feed"
	"github.com/LJTian/FeedHub/internal/logger"
	"github.com/LJTian/FeedHub/internal/scheduler"
	"github.com/LJTian/FeedHub/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		log.Fatalf("load sources failed: %v", err)
	}
	fetchers, err := collector.BuildFetchers(sources,
		collector.WithUserAgent(cfg.UserAgent),
		collector.WithTimeout(cfg.SourceTimeout),
		collector.WithLogger(log),
	)
	if err != nil {
		log.Fatalf("init sources failed: %v", err)
	}

	policy, err := aggregator.ParsePolicy(cfg.Policy)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	format, err := feed.ParseFormat(cfg.FeedFormat)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	agg := aggregator.New(fetchers,
		aggregator.WithPolicy(policy),
		aggregator.WithSourceTimeout(cfg.SourceTimeout),
		aggregator.WithChannel(cfg.FeedTitle, cfg.FeedLink, cfg.FeedDescription),
		aggregator.WithLogger(log),
	)

	opts := []api.Option{api.WithDefaultFormat(format), api.WithLogger(log)}

	// 配置了 Redis 才启用缓存；缓存失效时仍会实时抓取
	var store *storage.Store
	if cfg.RedisAddr != "" {
		store, err = storage.NewStore(cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("init store failed: %v", err)
		}
		defer store.Close()
		opts = append(opts, api.WithStore(store))
	}

	apiServer := api.NewServer(agg, opts...)

	if cfg.CacheRefreshSpec != "" {
		if store == nil {
			log.Warn("CACHE_REFRESH_SPEC is set but REDIS_ADDR is empty, cache warmer disabled")
		} else {
			s, err := scheduler.New(cfg.CacheRefreshSpec, apiServer.Refresh,
				scheduler.WithJobTimeout(cfg.SourceTimeout*2),
				scheduler.WithLogger(log),
			)
			if err != nil {
				log.Fatalf("init scheduler failed: %v", err)
			}
			s.Start()
			defer s.Stop()
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestID(), api.AccessLog(log))
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.WithField("sources", len(fetchers)).Infof("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}
