package config

import (
	"context"
	"sync/atomic"
	"time"

	"soniq/logger"

	"github.com/fsnotify/fsnotify"
)

// Limits 是允许热更新的流水线调优参数。
// 其余配置（连接地址、路径等）仍然需要重启才能生效。
type Limits struct {
	MaxTrackDuration time.Duration
	PeakCount        int
	WaveformByteMax  int
	ScratchCeiling   int64
}

// LimitStore holds the current Limits snapshot. Readers always see a complete,
// consistent set of values.
type LimitStore struct {
	current atomic.Pointer[Limits]
}

// NewLimitStore seeds the store from a loaded Config.
func NewLimitStore(cfg *Config) *LimitStore {
	s := &LimitStore{}
	s.current.Store(limitsFrom(cfg))
	return s
}

// Current returns the active limits snapshot.
func (s *LimitStore) Current() Limits {
	return *s.current.Load()
}

func limitsFrom(cfg *Config) *Limits {
	return &Limits{
		MaxTrackDuration: cfg.MaxTrackDuration,
		PeakCount:        cfg.PeakCount,
		WaveformByteMax:  cfg.WaveformByteMax,
		ScratchCeiling:   cfg.ScratchCeiling,
	}
}

// Watch 监听 .env 文件变化并热更新 Limits。
// 文件不存在时静默退出，只依赖环境变量的部署不需要这个功能。
func (s *LimitStore) Watch(ctx context.Context, envPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(envPath); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg := Load()
				s.current.Store(limitsFrom(cfg))
				logger.Info("配置热更新完成",
					logger.String("file", event.Name),
					logger.Duration("maxTrackDuration", cfg.MaxTrackDuration),
					logger.Int("peakCount", cfg.PeakCount))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("配置监听错误", logger.ErrorField(err))
			}
		}
	}()

	return nil
}
