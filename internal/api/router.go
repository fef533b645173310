package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LJTian/FeedHub/internal/aggregator"
	"github.com/LJTian/FeedHub/internal/feed"
	"github.com/LJTian/FeedHub/internal/metrics"
	"github.com/LJTian/FeedHub/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// 对外只给出固定文案，各来源的失败原因只写日志
const fetchFailedMessage = "Failed to fetch channel"

// FeedSource 每次调用都重新聚合
type FeedSource interface {
	Aggregate(ctx context.Context) (*aggregator.Feed, error)
}

type Server struct {
	source        FeedSource
	store         *storage.Store
	defaultFormat feed.Format
	log           *logrus.Logger
}

type Option func(*Server)

// WithStore 启用文档缓存，为 nil 时每个请求都实时抓取
func WithStore(store *storage.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

func WithDefaultFormat(f feed.Format) Option {
	return func(s *Server) {
		if f != "" {
			s.defaultFormat = f
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func NewServer(source FeedSource, opts ...Option) *Server {
	s := &Server{
		source:        source,
		defaultFormat: feed.FormatRSS,
		log:           logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/", s.channel)
	r.GET("/feed.rss", s.channelAs(feed.FormatRSS))
	r.GET("/feed.atom", s.channelAs(feed.FormatAtom))
	r.GET("/feed.json", s.channelAs(feed.FormatJSON))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// channel 格式取自 ?format=，缺省用配置的默认格式
func (s *Server) channel(c *gin.Context) {
	format := s.defaultFormat
	if q := c.Query("format"); q != "" {
		f, err := feed.ParseFormat(q)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}
	s.serve(c, format)
}

func (s *Server) channelAs(format feed.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.serve(c, format)
	}
}

func (s *Server) serve(c *gin.Context, format feed.Format) {
	ctx := c.Request.Context()
	log := s.log.WithFields(logrus.Fields{
		"request_id": c.GetString(requestIDKey),
		"format":     string(format),
	})

	if doc, ok := s.cached(ctx, format, log); ok {
		c.Header("X-Cache", "HIT")
		c.Data(http.StatusOK, doc.ContentType, doc.Body)
		return
	}

	ser, err := feed.NewSerializer(format)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.source.Aggregate(ctx)
	if err != nil {
		log.WithError(err).Error("aggregate feed failed")
		c.String(http.StatusInternalServerError, fetchFailedMessage)
		return
	}
	for _, f := range result.Failures {
		log.WithError(f.Err).WithField("source", f.Source).Warn("source excluded from feed")
	}

	body, err := ser.Serialize(result)
	if err != nil {
		log.WithError(err).Error("serialize feed failed")
		c.String(http.StatusInternalServerError, fetchFailedMessage)
		return
	}

	if s.store != nil {
		// 写缓存失败不影响本次响应
		if err := s.save(ctx, ser, body, len(result.Items)); err != nil {
			log.WithError(err).Warn("write feed cache failed")
		}
		c.Header("X-Cache", "MISS")
	}
	c.Data(http.StatusOK, ser.ContentType(), body)
}

func (s *Server) cached(ctx context.Context, format feed.Format, log *logrus.Entry) (*storage.CachedFeed, bool) {
	if s.store == nil {
		return nil, false
	}
	doc, ok, err := s.store.GetFeed(ctx, string(format))
	switch {
	case err != nil:
		metrics.RecordCache("error")
		log.WithError(err).Warn("read feed cache failed")
		return nil, false
	case !ok:
		metrics.RecordCache("miss")
		return nil, false
	}
	metrics.RecordCache("hit")
	return doc, true
}

func (s *Server) save(ctx context.Context, ser *feed.Serializer, body []byte, items int) error {
	return s.store.SaveFeed(ctx, storage.CachedFeed{
		Format:      string(ser.Format()),
		ContentType: ser.ContentType(),
		Body:        body,
		Items:       items,
		GeneratedAt: time.Now().UTC(),
	})
}

// Refresh 聚合一次并把所有格式写入缓存，供定时任务调用
func (s *Server) Refresh(ctx context.Context) error {
	if s.store == nil {
		return errors.New("refresh without cache store")
	}

	result, err := s.source.Aggregate(ctx)
	if err != nil {
		return err
	}

	log := s.log.WithField("component", "refresh")
	for _, format := range []feed.Format{feed.FormatRSS, feed.FormatAtom, feed.FormatJSON} {
		ser, err := feed.NewSerializer(format)
		if err != nil {
			return err
		}
		body, err := ser.Serialize(result)
		if err != nil {
			return err
		}
		if err := s.save(ctx, ser, body, len(result.Items)); err != nil {
			return fmt.Errorf("cache %s feed: %w", format, err)
		}
	}
	log.WithField("items", len(result.Items)).Info("feed cache refreshed")
	return nil
}
