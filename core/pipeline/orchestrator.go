// Package pipeline drives one processing event through download, probe,
// validation, waveform rendering and persistence, and owns the retry /
// dead-letter policy around that sequence.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"soniq/config"
	"soniq/core/fault"
	"soniq/core/scratch"
	"soniq/core/tool"
	"soniq/core/validate"
	"soniq/logger"
	"soniq/metrics"
	"soniq/model"
	"soniq/repository"
	"soniq/storage"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Outcome is the orchestrator's terminal decision for one attempt.
type Outcome int

const (
	// OutcomeCompleted：处理成功，track已置为ready
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped：track不存在或已不在processing状态，幂等no-op
	OutcomeSkipped
	// OutcomeFailed：内容缺陷，track已标记failed，事件确认不再重试
	OutcomeFailed
	// OutcomeRetry：瞬时失败，向上传播由路由器决定重试
	OutcomeRetry
)

const sourceFileName = "source"
const waveformFileName = "waveform.json"

// JobUpdate is a lifecycle notification pushed to the ops event feed.
type JobUpdate struct {
	TrackID       string    `json:"trackId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Stage         string    `json:"stage"`
	Timestamp     time.Time `json:"timestamp"`
	Detail        string    `json:"detail,omitempty"`
}

// Notifier receives job lifecycle updates. Implementations must not block.
type Notifier interface {
	Notify(update JobUpdate)
}

// Orchestrator sequences the pipeline stages for a single event.
type Orchestrator struct {
	repo     repository.TrackRepository
	store    storage.ObjectStore
	prober   tool.Prober
	renderer tool.Renderer
	scratch  *scratch.Manager
	limits   *config.LimitStore
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	notifier Notifier // may be nil
}

// NewOrchestrator wires the pipeline's collaborators together.
func NewOrchestrator(
	repo repository.TrackRepository,
	store storage.ObjectStore,
	prober tool.Prober,
	renderer tool.Renderer,
	scratchMgr *scratch.Manager,
	limits *config.LimitStore,
	m *metrics.Metrics,
	notifier Notifier,
) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		store:    store,
		prober:   prober,
		renderer: renderer,
		scratch:  scratchMgr,
		limits:   limits,
		metrics:  m,
		tracer:   otel.Tracer("soniq/pipeline"),
		notifier: notifier,
	}
}

// Process runs one event through the pipeline. Permanent content defects mark
// the track failed and return OutcomeFailed with a nil error; transient
// problems return OutcomeRetry with the classified error so the caller can
// apply backoff. Scratch cleanup runs on every exit path.
func (o *Orchestrator) Process(ctx context.Context, ev *model.ProcessingEvent) (Outcome, error) {
	log := logger.With(
		logger.String("trackId", ev.TrackID),
		logger.String("correlationId", ev.CorrelationID))

	ctx, span := o.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("trackId", ev.TrackID),
		attribute.String("correlationId", ev.CorrelationID)))
	defer span.End()

	// 入口检查：track缺失或已脱离processing状态都视为已解决，幂等确认。
	// 回放一个已成功的事件绝不能把ready重新拉回processing。
	track, err := o.repo.Load(ctx, ev.TrackID)
	if err != nil {
		return OutcomeRetry, err
	}
	if track == nil {
		log.Warn("track不存在，跳过事件")
		o.metrics.Jobs.WithLabelValues(metrics.ResultSkipped).Inc()
		return OutcomeSkipped, nil
	}
	if track.Status != model.StatusProcessing {
		log.Info("track已不在processing状态，跳过事件",
			zap.String("status", string(track.Status)))
		o.metrics.Jobs.WithLabelValues(metrics.ResultSkipped).Inc()
		return OutcomeSkipped, nil
	}

	// 准入门控：磁盘压力是软失败，让消息稍后重试
	if !o.scratch.Admit() {
		return OutcomeRetry, fault.Transient(fault.ReasonAdmissionDenied,
			"scratch disk pressure, admission denied", nil)
	}

	// 每次尝试使用独立的scratch目录：at-least-once投递下同一事件可能被
	// 并发处理，两次尝试绝不能共享下载路径，乐观并发保证只有一个保存成功
	jobID := fmt.Sprintf("%s-%s", ev.TrackID, uuid.NewString()[:8])
	if _, err := o.scratch.CreateJobScratch(jobID); err != nil {
		return OutcomeRetry, fault.Transient(fault.ReasonStoreUnavailable,
			"failed to allocate job scratch", err)
	}
	// 无论哪条路径退出都要清理scratch
	defer o.scratch.Cleanup(jobID)

	o.metrics.Jobs.WithLabelValues(metrics.ResultStarted).Inc()
	o.notify(ev, "started", "")
	start := time.Now()

	err = o.runStages(ctx, ev, track, jobID, log)
	if err == nil {
		o.metrics.Jobs.WithLabelValues(metrics.ResultCompleted).Inc()
		o.notify(ev, "completed", "")
		log.Info("处理完成", zap.Duration("elapsed", time.Since(start)))
		return OutcomeCompleted, nil
	}

	// 单一决策点：永久缺陷标记失败并确认，瞬时错误向上传播重试
	if f, ok := fault.As(err); ok && !f.Retryable {
		reason := string(f.Reason)
		// MarkFailed是独立的尽力而为写入，它自己的失败只记日志，
		// 绝不能盖过真正的处理结果
		_ = o.repo.MarkFailed(ctx, ev.TrackID, reason)
		o.metrics.Jobs.WithLabelValues(metrics.ResultFailed).Inc()
		o.notify(ev, "failed", reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		log.Warn("处理失败，track已标记failed",
			zap.String("reason", reason),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return OutcomeFailed, nil
	}

	span.RecordError(err)
	log.Warn("处理遇到瞬时错误，等待重试",
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return OutcomeRetry, err
}

// runStages executes download → probe → validate → render → upload → persist.
func (o *Orchestrator) runStages(ctx context.Context, ev *model.ProcessingEvent, track *model.Track, jobID string, log *zap.Logger) error {
	limits := o.limits.Current()
	sourcePath := o.scratch.ScratchPath(jobID, sourceFileName)
	waveformPath := o.scratch.ScratchPath(jobID, waveformFileName)

	// 下载源音频
	o.notify(ev, "download", "")
	sctx, stop := o.startStage(ctx, metrics.StageDownload)
	err := o.store.Download(sctx, ev.ObjectKey, sourcePath)
	stop(err)
	if err != nil {
		return classifyIOErr(ctx, fault.ReasonDownloadFailed, "source download failed", err)
	}

	// 探测元数据
	o.notify(ev, "probe", "")
	sctx, stop = o.startStage(ctx, metrics.StageProbe)
	md, err := o.prober.Probe(sctx, sourcePath)
	stop(err)
	if err != nil {
		return err
	}
	md.MimeType = model.MimeTypeForCodec(md.Codec)
	if md.FileSizeBytes == 0 {
		md.FileSizeBytes = ev.FileSizeBytes
	}

	// 校验：全部是永久性失败
	_, stop = o.startStage(ctx, metrics.StageValidate)
	validator := validate.NewValidator(limits.MaxTrackDuration)
	err = validator.Validate(md)
	stop(err)
	if err != nil {
		return err
	}

	// 渲染波形
	o.notify(ev, "render", "")
	sctx, stop = o.startStage(ctx, metrics.StageRender)
	err = o.renderer.Render(sctx, sourcePath, waveformPath, limits.PeakCount)
	stop(err)
	if err != nil {
		return err
	}

	// 上传artifact，key与源音频隔离
	waveformKey := storage.WaveformKey(ev.UserID, ev.TrackID)
	o.notify(ev, "upload", "")
	sctx, stop = o.startStage(ctx, metrics.StageUpload)
	err = o.store.UploadFromFile(sctx, waveformKey, waveformPath, "application/json")
	stop(err)
	if err != nil {
		return classifyIOErr(ctx, fault.ReasonUploadFailed, "waveform upload failed", err)
	}

	// 单次乐观并发保存：元数据整体替换，状态推进到ready。
	// 版本冲突作为瞬时错误传播，整个事件重做（重推导是幂等且便宜的）。
	now := time.Now()
	track.Metadata = md
	track.Duration = md.Duration
	track.WaveformObjectKey = waveformKey
	track.Status = model.StatusReady
	track.FailureReason = ""
	track.ProcessedAt = &now
	track.UpdatedAt = now

	o.notify(ev, "persist", "")
	sctx, stop = o.startStage(ctx, metrics.StagePersist)
	err = o.repo.Save(sctx, track)
	stop(err)
	if err != nil {
		return err
	}

	log.Debug("track已置为ready",
		zap.Float64("duration", md.Duration),
		zap.String("codec", md.Codec),
		zap.String("waveformKey", waveformKey))
	return nil
}

// startStage opens a child span for one pipeline stage and returns the stage
// context plus a stop function recording duration and error outcome.
func (o *Orchestrator) startStage(ctx context.Context, stage string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "stage."+stage)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) notify(ev *model.ProcessingEvent, stage, detail string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(JobUpdate{
		TrackID:       ev.TrackID,
		CorrelationID: ev.CorrelationID,
		Stage:         stage,
		Timestamp:     time.Now(),
		Detail:        detail,
	})
}

// classifyIOErr wraps network/object-store errors. Already-classified faults
// pass through; a job deadline expiry becomes a transient timeout.
func classifyIOErr(ctx context.Context, reason fault.Reason, msg string, err error) error {
	if _, ok := fault.As(err); ok {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fault.Transient(fault.ReasonDeadlineExceeded, msg+" (job deadline exceeded)", err)
	}
	return fault.Transient(reason, msg, err)
}
