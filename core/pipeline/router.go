package pipeline

import (
	"context"
	"errors"
	"time"

	"soniq/broker"
	"soniq/core/fault"
	"soniq/logger"
	"soniq/metrics"
	"soniq/model"

	"go.uber.org/zap"
)

// Processor is the orchestrator capability the router wraps.
type Processor interface {
	Process(ctx context.Context, ev *model.ProcessingEvent) (Outcome, error)
}

// RetryPolicy bounds how often a retryable failure is re-attempted before the
// event is dead-lettered.
type RetryPolicy struct {
	MaxRetries int
	Backoffs   []time.Duration
}

// DefaultRetryPolicy 三次重试，退避逐级加长。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoffs:   []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

func (p RetryPolicy) backoff(retry int) time.Duration {
	if len(p.Backoffs) == 0 {
		return time.Second
	}
	if retry >= len(p.Backoffs) {
		return p.Backoffs[len(p.Backoffs)-1]
	}
	return p.Backoffs[retry]
}

// Sleeper waits for d or until ctx is done. Injectable so tests don't wait.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Router wraps the orchestrator with retry counting and the dead-letter path.
// It never inspects business semantics: it only counts attempts and moves
// exhausted events aside.
type Router struct {
	processor Processor
	dlq       broker.DeadLetterPublisher
	topic     string // original topic, recorded in dead letters
	policy    RetryPolicy
	sleep     Sleeper
	metrics   *metrics.Metrics
}

// NewRouter creates a failure router around a processor.
func NewRouter(processor Processor, dlq broker.DeadLetterPublisher, topic string, policy RetryPolicy, m *metrics.Metrics) *Router {
	return &Router{
		processor: processor,
		dlq:       dlq,
		topic:     topic,
		policy:    policy,
		sleep:     defaultSleeper,
		metrics:   m,
	}
}

// WithSleeper overrides the backoff sleeper; used by tests.
func (r *Router) WithSleeper(s Sleeper) *Router {
	r.sleep = s
	return r
}

// Handle processes one broker message to a terminal decision. A nil return
// means the message must be acknowledged (success, skip, permanent failure or
// dead-lettered); an error means the attempt was cut short (shutdown) and the
// message should stay pending for redelivery.
func (r *Router) Handle(ctx context.Context, msg broker.Message) error {
	ev, err := model.DecodeProcessingEvent(msg.Payload)
	if err != nil {
		// 无法理解的事件（schema版本、缺字段）没有重试的意义，直接进死信
		reason := "malformed event payload"
		if errors.Is(err, model.ErrUnsupportedSchema) {
			reason = string(fault.ReasonUnsupportedSchema)
		}
		logger.Warn("事件解码失败，直接进入死信流",
			zap.String("messageId", msg.ID),
			zap.Error(err))
		r.deadLetter(ctx, msg, reason, err.Error(), 0)
		return nil
	}

	for retry := 0; ; retry++ {
		_, procErr := r.processor.Process(ctx, ev)
		if procErr == nil {
			return nil
		}
		if !fault.IsRetryable(procErr) {
			// 编排器通常已对永久缺陷标记失败；走到这里的非重试错误直接进死信
			r.deadLetter(ctx, msg, string(fault.ReasonOf(procErr)), procErr.Error(), retry)
			return nil
		}
		if retry >= r.policy.MaxRetries {
			logger.Warn("重试次数耗尽，事件进入死信流",
				zap.String("trackId", ev.TrackID),
				zap.Int("retries", retry),
				zap.Error(procErr))
			r.deadLetter(ctx, msg, string(fault.ReasonOf(procErr)), procErr.Error(), retry)
			return nil
		}

		r.metrics.Jobs.WithLabelValues(metrics.ResultRetried).Inc()
		backoff := r.policy.backoff(retry)
		logger.Info("瞬时失败，退避后重试",
			zap.String("trackId", ev.TrackID),
			zap.Int("retry", retry+1),
			zap.Duration("backoff", backoff),
			zap.Error(procErr))
		if err := r.sleep(ctx, backoff); err != nil {
			// 停机中断了退避，保持消息pending等待重投
			return err
		}
	}
}

// deadLetter publishes a poison record. Best-effort: its own failure is
// logged, never propagated over the original processing result.
func (r *Router) deadLetter(ctx context.Context, msg broker.Message, errMsg, detail string, retries int) {
	rec := &model.DeadLetterRecord{
		OriginalTopic: r.topic,
		OriginalKey:   msg.ID,
		Payload:       msg.Payload,
		ErrorMessage:  errMsg,
		ErrorDetail:   detail,
		RetryCount:    retries,
		FailedAt:      time.Now(),
	}
	if err := r.dlq.Publish(ctx, rec); err != nil {
		logger.Error("死信发布失败",
			zap.String("messageId", msg.ID),
			zap.Error(err))
		return
	}
	r.metrics.Jobs.WithLabelValues(metrics.ResultDeadLettered).Inc()
}
