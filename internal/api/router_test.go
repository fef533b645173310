package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/FeedHub/internal/aggregator"
	"github.com/LJTian/FeedHub/internal/collector"
	"github.com/LJTian/FeedHub/internal/feed"
	"github.com/LJTian/FeedHub/internal/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mmcdole/gofeed"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	name  string
	items []collector.Item
	err   error
	calls atomic.Int32
}

func (f *stubFetcher) Name() string { return f.name }

func (f *stubFetcher) Fetch(context.Context) ([]collector.Item, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]collector.Item(nil), f.items...), nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func stubs() (*stubFetcher, *stubFetcher) {
	krebs := &stubFetcher{name: "krebsonsecurity", items: []collector.Item{
		{Title: "Krebs story", Link: "https://krebs.example/a", Source: "krebsonsecurity",
			PublishedAt: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
	}}
	dark := &stubFetcher{name: "darkreading", items: []collector.Item{
		{Title: "Dark story", Link: "https://dark.example/b", Source: "darkreading",
			PublishedAt: time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)},
	}}
	return krebs, dark
}

func newEngine(srv *Server) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AccessLog(quietLogger()))
	srv.RegisterRoutes(r)
	return r
}

func newAggregator(policy aggregator.Policy, fs ...collector.Fetcher) *aggregator.Aggregator {
	return aggregator.New(fs,
		aggregator.WithPolicy(policy),
		aggregator.WithChannel("FeedHub", "http://localhost:3000", "test channel"),
		aggregator.WithLogger(quietLogger()),
	)
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestChannelDefaultsToRSS(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark), WithLogger(quietLogger())))

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/xml; charset=utf-8", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	parsed, err := gofeed.NewParser().ParseString(w.Body.String())
	require.NoError(t, err)
	assert.Equal(t, "rss", parsed.FeedType)
	assert.Equal(t, "http://localhost:3000", parsed.Link)
	require.Len(t, parsed.Items, 2)
	assert.Equal(t, "Dark story", parsed.Items[0].Title)
	assert.Equal(t, "Krebs story", parsed.Items[1].Title)
}

func TestChannelFormats(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithDefaultFormat(feed.FormatAtom), WithLogger(quietLogger())))

	cases := []struct {
		path     string
		feedType string
		ctype    string
	}{
		{"/", "atom", "application/xml; charset=utf-8"},
		{"/?format=json", "json", "application/feed+json; charset=utf-8"},
		{"/?format=rss", "rss", "application/xml; charset=utf-8"},
		{"/feed.rss", "rss", "application/xml; charset=utf-8"},
		{"/feed.atom", "atom", "application/xml; charset=utf-8"},
		{"/feed.json", "json", "application/feed+json; charset=utf-8"},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			w := get(r, c.path)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, c.ctype, w.Header().Get("Content-Type"))

			parsed, err := gofeed.NewParser().ParseString(w.Body.String())
			require.NoError(t, err)
			assert.Equal(t, c.feedType, parsed.FeedType)
			assert.Len(t, parsed.Items, 2)
		})
	}
}

func TestChannelUnknownFormat(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark), WithLogger(quietLogger())))

	w := get(r, "/?format=opml")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 0, krebs.calls.Load(), "bad requests must not trigger scraping")
}

func TestChannelFailureIsGeneric(t *testing.T) {
	broken := &stubFetcher{name: "krebsonsecurity", err: &collector.FetchError{
		Source: "krebsonsecurity", URL: "https://krebsonsecurity.com", StatusCode: 503, Err: errors.New("secret upstream detail"),
	}}
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, broken), WithLogger(quietLogger())))

	w := get(r, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, fetchFailedMessage, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestChannelPartialFailureStillServes(t *testing.T) {
	krebs, _ := stubs()
	broken := &stubFetcher{name: "darkreading", err: errors.New("blocked")}
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, broken), WithLogger(quietLogger())))

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	parsed, err := gofeed.NewParser().ParseString(w.Body.String())
	require.NoError(t, err)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "Krebs story", parsed.Items[0].Title)
}

func TestChannelAllOrNothing(t *testing.T) {
	krebs, _ := stubs()
	broken := &stubFetcher{name: "darkreading", err: errors.New("blocked")}
	r := newEngine(NewServer(newAggregator(aggregator.PolicyAllOrNothing, krebs, broken), WithLogger(quietLogger())))

	w := get(r, "/")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, fetchFailedMessage, w.Body.String())
}

func TestChannelRescrapesWithoutCache(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark), WithLogger(quietLogger())))

	get(r, "/")
	get(r, "/")
	assert.EqualValues(t, 2, krebs.calls.Load())
	assert.EqualValues(t, 2, dark.calls.Load())
}

func newCacheStore(t *testing.T) (*storage.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return storage.NewStoreWithClient(rdb, time.Minute), mr
}

func TestChannelUsesCache(t *testing.T) {
	krebs, dark := stubs()
	store, _ := newCacheStore(t)
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithStore(store), WithLogger(quietLogger())))

	first := get(r, "/feed.rss")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := get(r, "/feed.rss")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))

	assert.EqualValues(t, 1, krebs.calls.Load())
}

func TestChannelFallsBackWhenCacheDown(t *testing.T) {
	krebs, dark := stubs()
	store, mr := newCacheStore(t)
	mr.Close()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithStore(store), WithLogger(quietLogger())))

	w := get(r, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "Krebs story"))
}

func TestRefreshWarmsAllFormats(t *testing.T) {
	krebs, dark := stubs()
	store, _ := newCacheStore(t)
	srv := NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithStore(store), WithLogger(quietLogger()))

	require.NoError(t, srv.Refresh(context.Background()))

	for _, f := range []string{"rss", "atom", "json"} {
		doc, ok, err := store.GetFeed(context.Background(), f)
		require.NoError(t, err)
		require.True(t, ok, f)
		assert.Equal(t, 2, doc.Items)
	}

	r := newEngine(srv)
	w := get(r, "/feed.json")
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.EqualValues(t, 1, krebs.calls.Load())
}

func TestRefreshWithoutStore(t *testing.T) {
	krebs, _ := stubs()
	srv := NewServer(newAggregator(aggregator.PolicyPartial, krebs), WithLogger(quietLogger()))
	assert.Error(t, srv.Refresh(context.Background()))
}

func TestHealthAndMetrics(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark), WithLogger(quietLogger())))

	w := get(r, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	get(r, "/")
	w = get(r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feedhub_source_fetch_total")
	assert.Contains(t, w.Body.String(), "feedhub_aggregations_total")
}

func TestRequestIDPassThrough(t *testing.T) {
	krebs, dark := stubs()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark), WithLogger(quietLogger())))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestCacheWriteFailureIsLoggedOnce(t *testing.T) {
	krebs, dark := stubs()
	store, mr := newCacheStore(t)
	mr.Close()

	log, hook := logtest.NewNullLogger()
	r := newEngine(NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithStore(store), WithLogger(log)))

	w := get(r, "/feed.rss")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))

	writes := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "write feed cache failed" {
			writes++
			assert.Equal(t, logrus.WarnLevel, e.Level)
			assert.Equal(t, "rss", e.Data["format"])
		}
	}
	assert.Equal(t, 1, writes)
}

func TestRefreshReportsCacheWriteFailure(t *testing.T) {
	krebs, dark := stubs()
	store, mr := newCacheStore(t)
	mr.Close()

	srv := NewServer(newAggregator(aggregator.PolicyPartial, krebs, dark),
		WithStore(store), WithLogger(quietLogger()))

	err := srv.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache rss feed")
}
