package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TrackStatus is the processing lifecycle state of a track.
type TrackStatus string

const (
	StatusProcessing TrackStatus = "processing"
	StatusReady      TrackStatus = "ready"
	StatusFailed     TrackStatus = "failed"
	StatusDeleted    TrackStatus = "deleted"
)

// Track represents an audio track in the catalog. The ingestion worker only
// ever mutates tracks that are still in StatusProcessing; Ready and Failed are
// terminal for this pipeline.
type Track struct {
	ID                string         `json:"id" gorm:"primaryKey;size:26"` // ULID, assigned upstream
	UserID            string         `json:"userId" gorm:"size:26;index"`
	ObjectKey         string         `json:"-" gorm:"size:512"` // source audio locator, never exposed
	Status            TrackStatus    `json:"status" gorm:"size:16;index"`
	Metadata          *AudioMetadata `json:"metadata,omitempty" gorm:"type:json"`
	Duration          float64        `json:"duration"` // seconds, denormalized from Metadata
	WaveformObjectKey string         `json:"waveformObjectKey,omitempty" gorm:"size:512"`
	FailureReason     string         `json:"failureReason,omitempty" gorm:"size:64"`
	ProcessedAt       *time.Time     `json:"processedAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`

	// Version is the optimistic-concurrency token. Callers treat it as opaque;
	// the repository bumps it on every successful save.
	Version int64 `json:"-"`
}

// AudioMetadata 是探测阶段产出的值对象，每次成功处理整体替换，不做字段级合并。
type AudioMetadata struct {
	Duration      float64 `json:"duration"` // seconds
	SampleRate    int     `json:"sampleRate"`
	Channels      int     `json:"channels"`
	BitRate       int     `json:"bitRate,omitempty"`
	Codec         string  `json:"codec"`
	CodecLongName string  `json:"codecLongName,omitempty"`
	BitDepth      int     `json:"bitDepth,omitempty"`
	FileSizeBytes int64   `json:"fileSizeBytes"`
	MimeType      string  `json:"mimeType"`

	// 内嵌标签只作为展示提示，绝不作为权威数据
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   string `json:"year,omitempty"`
	Genre  string `json:"genre,omitempty"`
}

// Value serializes metadata to a JSON column.
func (m *AudioMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan deserializes metadata from a JSON column.
func (m *AudioMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported type %T for AudioMetadata", value)
	}
}

// mimeTypes maps probe codec names to the MIME type stored on the track.
var mimeTypes = map[string]string{
	"mp3":       "audio/mpeg",
	"aac":       "audio/aac",
	"flac":      "audio/flac",
	"vorbis":    "audio/ogg",
	"opus":      "audio/opus",
	"alac":      "audio/mp4",
	"pcm_s16le": "audio/wav",
	"pcm_s24le": "audio/wav",
	"wav":       "audio/wav",
}

// MimeTypeForCodec derives the stored MIME type from a probed codec name.
func MimeTypeForCodec(codec string) string {
	if mt, ok := mimeTypes[codec]; ok {
		return mt
	}
	return "application/octet-stream"
}
