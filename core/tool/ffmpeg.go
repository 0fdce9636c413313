package tool

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"soniq/core/fault"
	"soniq/core/waveform"
	"soniq/logger"
)

// decodeSampleRate is the rate audio is downsampled to before peak reduction.
// 8kHz mono is plenty of resolution for a visualization and keeps the decode
// fast even for two-hour tracks.
const decodeSampleRate = 8000

// chunkSamples is the pre-reduction window: we keep one abs-max per chunk so a
// full-length track fits in a few hundred KB of memory regardless of duration.
const chunkSamples = 1024

// Renderer produces a waveform artifact from an audio file.
type Renderer interface {
	Render(ctx context.Context, path, outPath string, peakCount int) error
}

// FFmpegRenderer implements Renderer by decoding to raw mono PCM through
// ffmpeg and reducing the sample stream to normalized peaks.
type FFmpegRenderer struct {
	path    string
	timeout time.Duration
	byteMax int
}

// NewFFmpegRenderer creates a renderer. byteMax bounds the serialized
// artifact size; oversized peak arrays are uniformly subsampled to fit.
func NewFFmpegRenderer(path string, timeout time.Duration, byteMax int) *FFmpegRenderer {
	return &FFmpegRenderer{path: path, timeout: timeout, byteMax: byteMax}
}

// Render 解码音频为单声道PCM流，归约成峰值数组并写出artifact文件。
func (r *FFmpegRenderer) Render(ctx context.Context, path, outPath string, peakCount int) error {
	if peakCount < 1 {
		peakCount = 1
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(decodeSampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, r.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fault.Transient(fault.ReasonStoreUnavailable, "failed to open ffmpeg stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return classifyRunError(ctx, "ffmpeg", fault.ReasonRenderFailed, err, stderr.String())
	}

	chunkPeaks, totalSamples, readErr := reduceStream(stdout)

	waitErr := cmd.Wait()
	if waitErr != nil {
		return classifyRunError(ctx, "ffmpeg", fault.ReasonRenderFailed, waitErr, stderr.String())
	}
	if readErr != nil {
		return fault.Permanent(fault.ReasonRenderFailed, "failed reading decoded PCM stream", readErr)
	}
	if totalSamples == 0 {
		return fault.Permanent(fault.ReasonRenderFailed, "decoder produced no samples", nil)
	}

	peaks := waveform.Reduce(chunkPeaks, peakCount)
	artifact := &waveform.Artifact{
		SchemaVersion:  waveform.ArtifactSchemaVersion,
		SampleRate:     decodeSampleRate,
		SamplesPerPeak: int(totalSamples) / peakCount,
		Peaks:          peaks,
	}

	data, err := waveform.EncodeBudget(artifact, r.byteMax)
	if err != nil {
		return fault.Permanent(fault.ReasonRenderFailed, "failed to encode waveform artifact", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fault.Transient(fault.ReasonStoreUnavailable, "failed to write waveform artifact", err)
	}

	logger.Debug("波形渲染完成",
		logger.String("path", path),
		logger.Int64("samples", totalSamples),
		logger.Int("peaks", len(artifact.Peaks)),
		logger.Int("bytes", len(data)))

	return nil
}

// reduceStream consumes little-endian s16 samples, keeping one absolute
// maximum per chunk so memory stays bounded for arbitrarily long tracks.
func reduceStream(rd io.Reader) (chunkPeaks []float64, totalSamples int64, err error) {
	buf := make([]byte, chunkSamples*2)
	for {
		n, rerr := io.ReadFull(rd, buf)
		if n > 0 {
			n -= n % 2 // ignore a trailing half-sample
			var peak float64
			for i := 0; i < n; i += 2 {
				s := int16(binary.LittleEndian.Uint16(buf[i : i+2]))
				v := float64(s)
				if v < 0 {
					v = -v
				}
				if v > peak {
					peak = v
				}
			}
			chunkPeaks = append(chunkPeaks, peak/32768.0)
			totalSamples += int64(n / 2)
		}
		if rerr != nil {
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				return chunkPeaks, totalSamples, nil
			}
			return chunkPeaks, totalSamples, rerr
		}
	}
}
