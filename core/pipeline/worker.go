package pipeline

import (
	"context"
	"sync"
	"time"

	"soniq/broker"
	"soniq/config"
	"soniq/core/scratch"
	"soniq/logger"
	"soniq/metrics"

	"go.uber.org/zap"
)

// WorkerOptions 控制消费循环的调度参数。
type WorkerOptions struct {
	MaxConcurrency  int           // 全局并发上限，保护共享的磁盘/CPU/下游存储
	JobTimeout      time.Duration // 单个事件的总截止时间
	FetchBlock      time.Duration // 没有消息时的阻塞等待
	JanitorInterval time.Duration
	OrphanMaxAge    time.Duration
}

// Worker pulls events off the stream and runs them through the router, one
// goroutine per event up to the concurrency ceiling. Each job gets its own
// aggregate deadline; expiry cancels all pending sub-operations and the event
// retries like any other transient failure.
type Worker struct {
	consumer *broker.StreamConsumer
	router   *Router
	scratch  *scratch.Manager
	limits   *config.LimitStore
	metrics  *metrics.Metrics
	opts     WorkerOptions
}

// NewWorker assembles the consumption loop.
func NewWorker(consumer *broker.StreamConsumer, router *Router, scratchMgr *scratch.Manager, limits *config.LimitStore, m *metrics.Metrics, opts WorkerOptions) *Worker {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.FetchBlock <= 0 {
		opts.FetchBlock = 5 * time.Second
	}
	return &Worker{
		consumer: consumer,
		router:   router,
		scratch:  scratchMgr,
		limits:   limits,
		metrics:  m,
		opts:     opts,
	}
}

// Run consumes until ctx is canceled, then drains in-flight jobs.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("worker启动",
		zap.Int("maxConcurrency", w.opts.MaxConcurrency),
		zap.Duration("jobTimeout", w.opts.JobTimeout))

	go w.janitor(ctx)

	sem := make(chan struct{}, w.opts.MaxConcurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}

		msgs, err := w.consumer.Fetch(ctx, int64(w.opts.MaxConcurrency), w.opts.FetchBlock)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("拉取事件失败", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range msgs {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}

			wg.Add(1)
			go func(msg broker.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, msg)
			}(msg)
		}
	}

	wg.Wait()
	logger.Info("worker已停止")
}

// handle runs one message under the aggregate job deadline and acks it when
// the router reached a terminal decision.
func (w *Worker) handle(ctx context.Context, msg broker.Message) {
	w.metrics.InFlightJobs.Inc()
	defer w.metrics.InFlightJobs.Dec()

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	if err := w.router.Handle(jobCtx, msg); err != nil {
		// 停机或截止时间打断了处理，消息保持pending等待重新认领
		logger.Warn("消息处理被打断，保持pending",
			zap.String("messageId", msg.ID),
			zap.Error(err))
		return
	}

	// ack用独立context，停机时不丢确认
	ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ackCancel()
	if err := w.consumer.Ack(ackCtx, msg.ID); err != nil {
		logger.Error("消息确认失败", zap.String("messageId", msg.ID), zap.Error(err))
	}
}

// janitor periodically reclaims orphaned scratch directories, refreshes the
// hot-reloadable admission ceiling and exports the usage gauge.
func (w *Worker) janitor(ctx context.Context) {
	interval := w.opts.JanitorInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scratch.SetCeiling(w.limits.Current().ScratchCeiling)
			w.scratch.CleanupOrphans(w.opts.OrphanMaxAge)
			if usage, err := w.scratch.Usage(); err == nil {
				w.metrics.ScratchUsage.Set(float64(usage))
			}
		}
	}
}
