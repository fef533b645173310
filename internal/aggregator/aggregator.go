package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LJTian/FeedHub/internal/collector"
	"github.com/LJTian/FeedHub/internal/metrics"
	"github.com/LJTian/FeedHub/internal/processor"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Policy string

const (
	// PolicyPartial 失败的来源只记日志并被排除，全部失败才算失败
	PolicyPartial Policy = "partial"
	// PolicyAllOrNothing 任一来源失败则整次聚合失败
	PolicyAllOrNothing Policy = "all-or-nothing"

	defaultSourceTimeout = 20 * time.Second
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyPartial:
		return PolicyPartial, nil
	case PolicyAllOrNothing:
		return PolicyAllOrNothing, nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", s)
	}
}

// Result 单个来源的抓取结果
type Result struct {
	Source   string
	Items    []collector.Item
	Err      error
	Duration time.Duration
}

// Feed 一次聚合的产物：频道信息加上已排序的条目
type Feed struct {
	Title       string
	Link        string
	Description string
	Items       []collector.Item
	// Failures 只在 partial 策略下可能非空
	Failures []Result
}

type Aggregator struct {
	fetchers    []collector.Fetcher
	policy      Policy
	timeout     time.Duration
	title       string
	link        string
	description string
	processor   *processor.SimpleProcessor
	log         *logrus.Logger
}

type Option func(*Aggregator)

func WithPolicy(p Policy) Option {
	return func(a *Aggregator) {
		if p != "" {
			a.policy = p
		}
	}
}

// WithSourceTimeout 每个来源独立计时
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithChannel(title, link, description string) Option {
	return func(a *Aggregator) {
		a.title = title
		a.link = link
		a.description = description
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

func New(fetchers []collector.Fetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetchers:  fetchers,
		policy:    PolicyPartial,
		timeout:   defaultSourceTimeout,
		processor: processor.NewSimpleProcessor(),
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Policy() Policy {
	return a.policy
}

// Aggregate 并发抓取所有来源并合并成一个按时间倒序的 Feed。
// 多次调用互不影响，每次都重新抓取。
func (a *Aggregator) Aggregate(ctx context.Context) (*Feed, error) {
	if len(a.fetchers) == 0 {
		return nil, ErrNoSources
	}

	start := time.Now()
	results := make([]Result, len(a.fetchers))

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range a.fetchers {
		g.Go(func() error {
			results[i] = a.fetchOne(gctx, f)
			if results[i].Err != nil && a.policy == PolicyAllOrNothing {
				// 返回错误会取消其余来源
				return results[i].Err
			}
			return nil
		})
	}
	_ = g.Wait()

	var (
		batches  = make([][]collector.Item, 0, len(results))
		failures []Result
	)
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r)
			continue
		}
		batches = append(batches, r.Items)
	}

	if len(failures) > 0 && a.policy == PolicyAllOrNothing {
		metrics.RecordAggregation("failed")
		return nil, &AggregationError{
			Policy:    a.policy,
			Failures:  a.rootCauses(ctx, failures),
			allFailed: len(failures) == len(results),
		}
	}
	if len(failures) == len(results) {
		metrics.RecordAggregation("failed")
		return nil, &AggregationError{Policy: a.policy, Failures: failures, allFailed: true}
	}

	items := a.processor.Process(batches)

	status := "ok"
	if len(failures) > 0 {
		status = "partial"
	}
	metrics.RecordAggregation(status)
	a.log.WithFields(logrus.Fields{
		"sources": len(results),
		"failed":  len(failures),
		"items":   len(items),
		"took":    time.Since(start).Round(time.Millisecond).String(),
	}).Info("aggregate done")

	return &Feed{
		Title:       a.title,
		Link:        a.link,
		Description: a.description,
		Items:       items,
		Failures:    failures,
	}, nil
}

// fetchOne 在独立的超时内抓取一个来源。
// 不理会 context 的实现也会在超时后被放弃，其结果直接丢弃。
func (a *Aggregator) fetchOne(ctx context.Context, f collector.Fetcher) Result {
	name := f.Name()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		items []collector.Item
		err   error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		items, err := f.Fetch(ctx)
		ch <- outcome{items: items, err: err}
	}()

	res := Result{Source: name}
	select {
	case o := <-ch:
		res.Items, res.Err = o.items, o.err
	case <-ctx.Done():
		res.Err = &collector.FetchError{Source: name, Err: ctx.Err()}
	}
	res.Duration = time.Since(start)

	log := a.log.WithFields(logrus.Fields{
		"source": name,
		"took":   res.Duration.Round(time.Millisecond).String(),
	})
	if res.Err != nil {
		res.Items = nil
		status := "error"
		switch {
		case errors.Is(res.Err, context.DeadlineExceeded):
			status = "timeout"
		case errors.Is(res.Err, context.Canceled):
			status = "canceled"
		}
		metrics.RecordFetch(name, status, 0, res.Duration.Seconds())
		log = log.WithError(res.Err).WithField("status", status)
		switch {
		case status == "canceled":
			log.Debug("fetch source canceled")
		case a.policy == PolicyAllOrNothing:
			log.Error("fetch source failed")
		default:
			log.Warn("fetch source failed")
		}
		return res
	}

	for i := range res.Items {
		if res.Items[i].Source == "" {
			res.Items[i].Source = name
		}
	}
	metrics.RecordFetch(name, "ok", len(res.Items), res.Duration.Seconds())
	log.WithField("items", len(res.Items)).Debug("fetch source done")
	return res
}

// rootCauses 去掉因兄弟来源失败而被取消的结果，只保留真正出错的来源
func (a *Aggregator) rootCauses(ctx context.Context, failures []Result) []Result {
	if ctx.Err() != nil {
		return failures
	}
	out := make([]Result, 0, len(failures))
	for _, f := range failures {
		if errors.Is(f.Err, context.Canceled) {
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return failures
	}
	return out
}
