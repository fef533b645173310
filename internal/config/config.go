package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	AppPort string

	// 频道元信息，FEED_LINK 未设置时指向本机占位地址
	FeedTitle       string
	FeedLink        string
	FeedDescription string
	FeedFormat      string

	Policy        string
	SourceTimeout time.Duration
	SourcesFile   string
	UserAgent     string

	// 可选缓存：REDIS_ADDR 为空则每次请求都重新抓取
	RedisAddr        string
	CacheTTL         time.Duration
	CacheRefreshSpec string

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	// .env 只是本地开发的便利，不存在时忽略
	_ = godotenv.Load()

	port := getEnv("APP_PORT", "3000")
	cfg := &Config{
		AppPort:          port,
		FeedTitle:        getEnv("FEED_TITLE", "FeedHub"),
		FeedLink:         getEnv("FEED_LINK", "http://localhost:"+port),
		FeedDescription:  getEnv("FEED_DESCRIPTION", "Privacy and security news, aggregated"),
		FeedFormat:       getEnv("FEED_FORMAT", "rss"),
		Policy:           getEnv("AGGREGATION_POLICY", "partial"),
		SourceTimeout:    getDuration("SOURCE_TIMEOUT", 20*time.Second),
		SourcesFile:      os.Getenv("SOURCES_FILE"),
		UserAgent:        getEnv("USER_AGENT", "FeedHubBot/1.0"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		CacheTTL:         getDuration("CACHE_TTL", 5*time.Minute),
		CacheRefreshSpec: os.Getenv("CACHE_REFRESH_SPEC"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
	}

	logrus.WithFields(logrus.Fields{
		"port":    cfg.AppPort,
		"policy":  cfg.Policy,
		"format":  cfg.FeedFormat,
		"timeout": cfg.SourceTimeout.String(),
		"cache":   cfg.RedisAddr != "",
	}).Info("config loaded")
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getDuration 解析时长类环境变量，非法值回退默认并告警
func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.WithField("key", key).WithField("value", v).Warn("invalid duration, using default")
		return def
	}
	return d
}
