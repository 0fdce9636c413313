package validate

import (
	"testing"
	"time"

	"soniq/core/fault"
	"soniq/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodMetadata() *model.AudioMetadata {
	return &model.AudioMetadata{
		Duration:   180,
		SampleRate: 44100,
		Channels:   2,
		Codec:      "mp3",
	}
}

func reasonOf(t *testing.T, err error) fault.Reason {
	t.Helper()
	f, ok := fault.As(err)
	require.True(t, ok, "expected a classified fault, got %v", err)
	assert.False(t, f.Retryable, "validation failures must be permanent")
	return f.Reason
}

func TestValidateAcceptsGoodMetadata(t *testing.T) {
	v := NewValidator(120 * time.Minute)
	assert.NoError(t, v.Validate(goodMetadata()))
}

func TestValidateDurationBounds(t *testing.T) {
	v := NewValidator(120 * time.Minute)

	md := goodMetadata()
	md.Duration = 0
	assert.Equal(t, fault.ReasonInvalidDuration, reasonOf(t, v.Validate(md)))

	md.Duration = -3
	assert.Equal(t, fault.ReasonInvalidDuration, reasonOf(t, v.Validate(md)))

	// exactly at the ceiling is valid
	md.Duration = (120 * time.Minute).Seconds()
	assert.NoError(t, v.Validate(md))

	// one second above is not
	md.Duration = (120 * time.Minute).Seconds() + 1
	assert.Equal(t, fault.ReasonDurationExceeded, reasonOf(t, v.Validate(md)))
}

func TestValidateSampleRate(t *testing.T) {
	v := NewValidator(120 * time.Minute)

	md := goodMetadata()
	md.SampleRate = 0
	assert.Equal(t, fault.ReasonInvalidSampleRate, reasonOf(t, v.Validate(md)))
}

func TestValidateChannelBounds(t *testing.T) {
	v := NewValidator(120 * time.Minute)

	for _, ch := range []int{1, 8} {
		md := goodMetadata()
		md.Channels = ch
		assert.NoError(t, v.Validate(md), "channels=%d should be valid", ch)
	}
	for _, ch := range []int{0, 9, -1} {
		md := goodMetadata()
		md.Channels = ch
		assert.Equal(t, fault.ReasonInvalidChannels, reasonOf(t, v.Validate(md)), "channels=%d", ch)
	}
}

func TestValidateCodecWhitelist(t *testing.T) {
	v := NewValidator(120 * time.Minute)

	for _, codec := range []string{"mp3", "aac", "flac", "opus"} {
		md := goodMetadata()
		md.Codec = codec
		assert.NoError(t, v.Validate(md))
	}

	md := goodMetadata()
	md.Codec = ""
	assert.Equal(t, fault.ReasonUnsupportedCodec, reasonOf(t, v.Validate(md)))

	md.Codec = "h264"
	assert.Equal(t, fault.ReasonUnsupportedCodec, reasonOf(t, v.Validate(md)))
}

func TestValidateFirstFailureWins(t *testing.T) {
	v := NewValidator(120 * time.Minute)

	// duration and codec both invalid: the duration rule reports first
	md := goodMetadata()
	md.Duration = 0
	md.Codec = "h264"
	assert.Equal(t, fault.ReasonInvalidDuration, reasonOf(t, v.Validate(md)))
}
