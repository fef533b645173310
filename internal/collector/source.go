package collector

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/LJTian/FeedHub/internal/config"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "FeedHubBot/1.0"
	defaultTimeout   = 20 * time.Second

	// 列表页上限 10 MiB，超出视为抓取失败而不是截断后继续解析
	defaultMaxBodySize = 10 * 1024 * 1024

	browserUserAgent = "Mozilla/5.0 (X11; U; Linux x86_64; en-ca) AppleWebKit/531.2+ (KHTML, like Gecko) Version/5.0 Safari/531.2+"
)

// 部分站点会拦截非浏览器请求
var browserHeaders = map[string]string{
	"User-Agent":      browserUserAgent,
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.5",
	"Sec-GPC":         "1",
}

var (
	errMissingElement = errors.New("element not found")
	errBodyTooLarge   = errors.New("response body exceeds size limit")
)

// Source 通用的来源适配器：抓取单个列表页，按配置的选择器抽取条目。
// 不同站点只是 SourceConfig 不同，不存在按站点区分的分支。
type Source struct {
	cfg       config.SourceConfig
	base      *url.URL
	userAgent string
	timeout   time.Duration
	maxBody   int
	limiter   *rate.Limiter
	log       *logrus.Entry
}

type Option func(*Source)

// WithUserAgent 设置默认 UA（browser_headers 或自定义 headers 优先）
func WithUserAgent(ua string) Option {
	return func(s *Source) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxBodySize 设置响应体上限（字节）
func WithMaxBodySize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Source) {
		if l != nil {
			s.log = l.WithField("source", s.cfg.Name)
		}
	}
}

func NewSource(cfg config.SourceConfig, opts ...Option) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// 选择器写错时 goquery 只会静默匹配不到，启动时就把错误暴露出来
	for _, sel := range []string{cfg.Selectors.Container, cfg.Selectors.Title, cfg.LinkSelector(), cfg.Selectors.Date} {
		if _, err := cascadia.Compile(sel); err != nil {
			return nil, fmt.Errorf("source %s: invalid selector %q: %w", cfg.Name, sel, err)
		}
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("source %s: base_url: %w", cfg.Name, err)
	}

	s := &Source{
		cfg:       cfg,
		base:      base,
		userAgent: defaultUserAgent,
		timeout:   defaultTimeout,
		maxBody:   defaultMaxBodySize,
		log:       logrus.WithField("source", cfg.Name),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.RatePerMinute > 0 {
		// 令牌桶容量为 1：两次抓取的间隔必须短于单次超时，否则第二次请求必然等不到令牌
		interval := time.Duration(float64(time.Minute) / cfg.RatePerMinute)
		if interval >= s.timeout {
			return nil, fmt.Errorf("source %s: rate_per_minute %g allows one request every %s, must be shorter than the %s timeout",
				cfg.Name, cfg.RatePerMinute, interval, s.timeout)
		}
		s.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return s, nil
}

func (s *Source) Name() string {
	return s.cfg.Name
}

// Fetch 抓取列表页并按文档顺序返回条目。
// 页面能解析但没有匹配的容器（常见于改版）时返回空列表而不是错误。
func (s *Source) Fetch(ctx context.Context) ([]Item, error) {
	listURL := s.cfg.ListingURL()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Source: s.cfg.Name, URL: listURL, Err: err}
		}
	}

	// 多读 1 字节，读满说明原始响应超过上限
	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.StdlibContext(ctx),
		colly.MaxBodySize(s.maxBody+1),
	)
	c.SetRequestTimeout(s.timeout)

	headers := s.requestHeaders()
	c.OnRequest(func(r *colly.Request) {
		for k, v := range headers {
			r.Headers.Set(k, v)
		}
	})

	var status int
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	var bodyErr error
	c.OnResponse(func(r *colly.Response) {
		if len(r.Body) > s.maxBody {
			bodyErr = fmt.Errorf("%w (%d bytes)", errBodyTooLarge, s.maxBody)
		}
	})

	var (
		items    []Item
		itemErr  error
		index    int
		skipped  int
		skipMode = s.cfg.SkipMalformed()
	)
	c.OnHTML(s.cfg.Selectors.Container, func(e *colly.HTMLElement) {
		idx := index
		index++
		if itemErr != nil || bodyErr != nil {
			return
		}

		item, err := s.extract(e.DOM, idx)
		if err != nil {
			if skipMode {
				skipped++
				s.log.WithError(err).WithField("index", idx).Warn("skip malformed item")
				return
			}
			itemErr = err
			return
		}
		items = append(items, item)
	})

	start := time.Now()
	if err := c.Visit(listURL); err != nil {
		return nil, &FetchError{Source: s.cfg.Name, URL: listURL, StatusCode: status, Err: err}
	}
	if bodyErr != nil {
		return nil, &FetchError{Source: s.cfg.Name, URL: listURL, Err: bodyErr}
	}
	if itemErr != nil {
		return nil, itemErr
	}

	log := s.log.WithFields(logrus.Fields{
		"containers": index,
		"items":      len(items),
		"skipped":    skipped,
		"took":       time.Since(start).Round(time.Millisecond).String(),
	})
	if len(items) == 0 {
		log.WithField("selector", s.cfg.Selectors.Container).Warn("fetch got 0 items")
		return []Item{}, nil
	}
	log.Debug("fetch done")
	return items, nil
}

// extract 从一个条目容器中取出标题、链接、日期
func (s *Source) extract(sel *goquery.Selection, idx int) (Item, error) {
	fail := func(field string, err error) (Item, error) {
		return Item{}, &ExtractionError{Source: s.cfg.Name, Index: idx, Field: field, Err: err}
	}

	title := strings.Join(strings.Fields(sel.Find(s.cfg.Selectors.Title).First().Text()), " ")
	if title == "" {
		return fail("title", errMissingElement)
	}

	href, ok := sel.Find(s.cfg.LinkSelector()).First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return fail("link", errMissingElement)
	}
	link, err := s.resolveLink(href)
	if err != nil {
		return fail("link", err)
	}

	dateSel := sel.Find(s.cfg.Selectors.Date).First()
	if dateSel.Length() == 0 {
		return fail("date", errMissingElement)
	}
	published, err := Normalize(dateSel.Text(), s.cfg.DateFormat)
	if err != nil {
		return fail("date", err)
	}

	return Item{
		Title:       title,
		Link:        link,
		Source:      s.cfg.Name,
		PublishedAt: published,
	}, nil
}

// resolveLink 相对链接只在 resolve_links 打开时才拼接 base_url
func (s *Source) resolveLink(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if !s.cfg.ResolveLinks {
		return "", fmt.Errorf("relative link %q (resolve_links is off)", href)
	}
	return s.base.ResolveReference(ref).String(), nil
}

func (s *Source) requestHeaders() map[string]string {
	h := make(map[string]string, len(browserHeaders)+len(s.cfg.Headers))
	if s.cfg.BrowserHeaders {
		for k, v := range browserHeaders {
			h[k] = v
		}
	}
	for k, v := range s.cfg.Headers {
		h[k] = v
	}
	return h
}
