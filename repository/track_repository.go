package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soniq/core/fault"
	"soniq/db"
	"soniq/logger"
	"soniq/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track aggregate persistence.
type TrackRepository interface {
	// Load returns the track or (nil, nil) when it does not exist.
	Load(ctx context.Context, trackID string) (*model.Track, error)
	// Save writes the full aggregate under optimistic concurrency. A conflict
	// (someone committed since Load) surfaces as a retryable fault; nothing is
	// written in that case.
	Save(ctx context.Context, track *model.Track) error
	// MarkFailed is a best-effort independent write that records a terminal
	// failure. It only touches tracks still in processing state.
	MarkFailed(ctx context.Context, trackID, reason string) error
}

// mysqlTrackRepository implements TrackRepository on GORM/MySQL.
type mysqlTrackRepository struct {
	db *gorm.DB
}

// NewMySQLTrackRepository creates a repository bound to the global GORM handle.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{db: db.GormDB}
}

// NewTrackRepositoryWithDB creates a repository on an explicit handle, used by
// tests and tooling.
func NewTrackRepositoryWithDB(gdb *gorm.DB) TrackRepository {
	return &mysqlTrackRepository{db: gdb}
}

func (r *mysqlTrackRepository) Load(ctx context.Context, trackID string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, "id = ?", trackID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // track not found
		}
		return nil, fault.Transient(fault.ReasonStoreUnavailable,
			fmt.Sprintf("failed to load track %s", trackID), err)
	}
	return &track, nil
}

func (r *mysqlTrackRepository) Save(ctx context.Context, track *model.Track) error {
	// 乐观并发：WHERE 带上读取时的 version，更新行数为0说明有并发写入
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ? AND version = ?", track.ID, track.Version).
		Updates(map[string]interface{}{
			"status":              track.Status,
			"metadata":            track.Metadata,
			"duration":            track.Duration,
			"waveform_object_key": track.WaveformObjectKey,
			"failure_reason":      track.FailureReason,
			"processed_at":        track.ProcessedAt,
			"updated_at":          track.UpdatedAt,
			"version":             track.Version + 1,
		})
	if res.Error != nil {
		return fault.Transient(fault.ReasonStoreUnavailable,
			fmt.Sprintf("failed to save track %s", track.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return fault.Transient(fault.ReasonConcurrencyConflict,
			fmt.Sprintf("track %s changed since load (version %d)", track.ID, track.Version), nil)
	}
	track.Version++
	return nil
}

func (r *mysqlTrackRepository) MarkFailed(ctx context.Context, trackID, reason string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ? AND status = ?", trackID, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.StatusFailed,
			"failure_reason": reason,
			"updated_at":     now,
			// version 也要推进，避免并发的成功路径覆盖失败标记
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		logger.Error("标记track失败状态时出错",
			logger.String("trackId", trackID),
			logger.String("reason", reason),
			logger.ErrorField(res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.Warn("track已不在processing状态，跳过失败标记",
			logger.String("trackId", trackID),
			logger.String("reason", reason))
	}
	return nil
}
