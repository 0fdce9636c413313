package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"soniq/broker"
	"soniq/config"
	"soniq/core/pipeline"
	"soniq/core/scratch"
	"soniq/core/tool"
	"soniq/db"
	"soniq/logger"
	"soniq/metrics"
	"soniq/repository"
	"soniq/server"
	"soniq/storage"
	"soniq/tracing"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "启动音频处理worker",
	Long:  `消费上传完成事件，探测并校验音频元数据，渲染波形artifact，推进track状态。`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker()
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
		MaxSize:    cfg.LogMaxMB,
		MaxAge:     cfg.LogMaxAge,
		MaxBackups: 5,
		Compress:   true,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 链路追踪（可选，默认no-op）
	shutdownTracing, err := tracing.Init(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// 可热更新的流水线调优参数
	limits := config.NewLimitStore(cfg)
	if err := limits.Watch(ctx, ".env"); err != nil {
		logger.Warn("配置热更新不可用", logger.ErrorField(err))
	}

	// 数据库
	if err := db.ConnectDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseDB()
	if err := db.InitDB(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		log.Fatalf("Failed to connect to database with GORM: %v", err)
	}
	defer db.CloseGormDB()

	// 对象存储
	store, err := storage.InitMinio(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	// 事件流
	redisClient, err := broker.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// pending超过一个作业截止时间的消息视为滞留，可被重新认领
	consumer, err := broker.NewStreamConsumer(redisClient, cfg.EventStream, cfg.ConsumerGroup, cfg.DeadLetterTopic, cfg.JobTimeout)
	if err != nil {
		log.Fatalf("Failed to create stream consumer: %v", err)
	}
	dlq := broker.NewStreamDeadLetterPublisher(redisClient, cfg.DeadLetterTopic)

	// scratch磁盘管理
	scratchMgr, err := scratch.NewManager(cfg.ScratchDir, cfg.ScratchCeiling, cfg.ScratchMargin)
	if err != nil {
		log.Fatalf("Failed to initialize scratch manager: %v", err)
	}
	scratchMgr.CleanupOrphans(cfg.OrphanMaxAge)

	// 指标与运维服务
	m := metrics.New()
	hub := server.NewEventHub()
	ops := server.NewOpsServer(cfg.OpsAddr, m, hub)
	ops.Start(ctx)

	// 流水线装配
	prober := tool.NewFFprobe(cfg.FFprobePath, cfg.ProbeTimeout)
	renderer := tool.NewFFmpegRenderer(cfg.FFmpegPath, cfg.RenderTimeout, cfg.WaveformByteMax)
	repo := repository.NewMySQLTrackRepository()

	orchestrator := pipeline.NewOrchestrator(repo, store, prober, renderer, scratchMgr, limits, m, hub)
	router := pipeline.NewRouter(orchestrator, dlq, cfg.EventStream, pipeline.DefaultRetryPolicy(), m)
	worker := pipeline.NewWorker(consumer, router, scratchMgr, limits, m, pipeline.WorkerOptions{
		MaxConcurrency:  cfg.MaxConcurrency,
		JobTimeout:      cfg.JobTimeout,
		JanitorInterval: cfg.JanitorInterval,
		OrphanMaxAge:    cfg.OrphanMaxAge,
	})

	worker.Run(ctx)
}
