package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job 一次完整的刷新：聚合并写入缓存
type Job func(ctx context.Context) error

type Scheduler struct {
	cron *cron.Cron
	// wrapped 定时触发和启动预热共用，保证同一时刻只有一轮在跑
	wrapped      cron.Job
	mu           sync.Mutex
	warmup       *time.Timer
	job          Job
	timeout      time.Duration
	startupDelay time.Duration
	log          *logrus.Entry
}

type Option func(*Scheduler)

// WithJobTimeout 单次刷新的总超时
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStartupDelay 首轮刷新延后执行，不与启动后的首个请求争抢
func WithStartupDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.startupDelay = d
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l.WithField("component", "scheduler")
		}
	}
}

func New(spec string, job Job, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		job:          job,
		timeout:      time.Minute,
		startupDelay: 15 * time.Second,
		log:          logrus.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	// 上一轮还没跑完时跳过本轮
	chain := cron.NewChain(
		cron.Recover(cron.PrintfLogger(s.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.log)),
	)
	s.wrapped = chain.Then(cron.FuncJob(s.runOnce))

	s.cron = cron.New()
	if _, err := s.cron.AddJob(spec, s.wrapped); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Start()
	s.warmup = time.AfterFunc(s.startupDelay, s.wrapped.Run)
}

// Stop 停止调度并取消尚未触发的预热，返回的 context 在定时任务结束后关闭
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warmup != nil {
		s.warmup.Stop()
	}
	return s.cron.Stop()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发刷新
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.job(ctx)
	log := s.log.WithField("took", time.Since(start).Round(time.Millisecond).String())
	if err != nil {
		log.WithError(err).Warn("refresh job failed")
		return err
	}
	log.Info("refresh job done")
	return nil
}

func (s *Scheduler) runOnce() {
	_ = s.RunOnce(context.Background())
}
