// Package validate applies the catalog's domain rules to probed metadata.
package validate

import (
	"fmt"
	"time"

	"soniq/core/fault"
	"soniq/model"
)

// codecWhitelist 是允许入库的音频编码格式。
var codecWhitelist = map[string]bool{
	"mp3":       true,
	"aac":       true,
	"flac":      true,
	"vorbis":    true,
	"opus":      true,
	"alac":      true,
	"pcm_s16le": true,
	"pcm_s24le": true,
	"wav":       true,
}

// Validator checks probed metadata against configured bounds. It is a pure
// function over the metadata; rules run in order and the first failure wins.
type Validator struct {
	maxDuration time.Duration
}

// NewValidator creates a validator with the given duration ceiling.
func NewValidator(maxDuration time.Duration) *Validator {
	return &Validator{maxDuration: maxDuration}
}

// Validate returns nil for acceptable metadata, or a permanent fault carrying
// the first violated rule's reason code. All validation failures are content
// defects: the event is acknowledged and the track marked failed, no retry.
func (v *Validator) Validate(md *model.AudioMetadata) error {
	if md.Duration <= 0 {
		return fault.Permanent(fault.ReasonInvalidDuration,
			fmt.Sprintf("duration %.3fs is not positive", md.Duration), nil)
	}
	if md.Duration > v.maxDuration.Seconds() {
		return fault.Permanent(fault.ReasonDurationExceeded,
			fmt.Sprintf("duration %.1fs exceeds maximum %.0fs", md.Duration, v.maxDuration.Seconds()), nil)
	}
	if md.SampleRate <= 0 {
		return fault.Permanent(fault.ReasonInvalidSampleRate,
			fmt.Sprintf("sample rate %d is not positive", md.SampleRate), nil)
	}
	if md.Channels < 1 || md.Channels > 8 {
		return fault.Permanent(fault.ReasonInvalidChannels,
			fmt.Sprintf("channel count %d outside [1,8]", md.Channels), nil)
	}
	if md.Codec == "" || !codecWhitelist[md.Codec] {
		return fault.Permanent(fault.ReasonUnsupportedCodec,
			fmt.Sprintf("codec %q is not in the supported set", md.Codec), nil)
	}
	return nil
}
