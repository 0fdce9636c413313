package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventSchemaVersion is the inbound event schema this worker understands.
const EventSchemaVersion = 1

// ProcessingEvent is the upload-completion event consumed from the broker.
// Delivery is at-least-once; the payload is immutable.
type ProcessingEvent struct {
	TrackID       string    `json:"trackId"`
	UserID        string    `json:"userId"`
	ObjectKey     string    `json:"objectKey"`
	MimeType      string    `json:"mimeType"`
	FileSizeBytes int64     `json:"fileSizeBytes"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schemaVersion"`
}

// ErrUnsupportedSchema marks events whose schema version this worker cannot
// interpret. Such events go straight to the dead-letter stream.
var ErrUnsupportedSchema = fmt.Errorf("unsupported event schema version")

// DecodeProcessingEvent parses an event payload. Unknown JSON fields are
// tolerated for forward compatibility, but the schema version must match
// exactly: an absent version (zero) is just as ununderstood as a newer one.
func DecodeProcessingEvent(payload []byte) (*ProcessingEvent, error) {
	var ev ProcessingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode processing event: %w", err)
	}
	if ev.SchemaVersion != EventSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, ev.SchemaVersion)
	}
	if ev.TrackID == "" || ev.ObjectKey == "" {
		return nil, fmt.Errorf("processing event missing trackId or objectKey")
	}
	return &ev, nil
}

// DeadLetterRecord captures an event that exhausted its retry budget,
// preserving the original payload for later inspection or replay.
type DeadLetterRecord struct {
	OriginalTopic string          `json:"originalTopic"`
	OriginalKey   string          `json:"originalKey"`
	Payload       json.RawMessage `json:"payload"`
	ErrorMessage  string          `json:"errorMessage"`
	ErrorDetail   string          `json:"errorDetail,omitempty"`
	RetryCount    int             `json:"retryCount"`
	FailedAt      time.Time       `json:"failedAt"`
}
