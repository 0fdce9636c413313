package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"time"

	"soniq/core/fault"
	"soniq/logger"
	"soniq/model"
)

// Prober inspects an audio file and extracts its metadata.
// It is an injectable capability so tests can substitute deterministic fakes
// instead of spawning real processes.
type Prober interface {
	Probe(ctx context.Context, path string) (*model.AudioMetadata, error)
}

// FFprobe implements Prober by invoking the ffprobe binary.
type FFprobe struct {
	path    string
	timeout time.Duration
}

// NewFFprobe creates a prober with its own per-invocation deadline, distinct
// from the overall job deadline.
func NewFFprobe(path string, timeout time.Duration) *FFprobe {
	return &FFprobe{path: path, timeout: timeout}
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Size     string            `json:"size"`
		BitRate  string            `json:"bit_rate"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType     string `json:"codec_type"`
		CodecName     string `json:"codec_name"`
		CodecLongName string `json:"codec_long_name"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
		BitsPerSample int    `json:"bits_per_raw_sample,string,omitempty"`
	} `json:"streams"`
}

// Probe 执行 ffprobe 并解析音频元数据。
func (p *FFprobe) Probe(ctx context.Context, path string) (*model.AudioMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, p.path, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyRunError(ctx, "ffprobe", fault.ReasonCorruptedInput, err, stderr.String())
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return nil, fault.Permanent(fault.ReasonCorruptedInput, "ffprobe produced malformed output", err)
	}

	md := &model.AudioMetadata{}
	md.Duration, _ = strconv.ParseFloat(probeData.Format.Duration, 64)
	md.FileSizeBytes, _ = strconv.ParseInt(probeData.Format.Size, 10, 64)
	md.BitRate, _ = strconv.Atoi(probeData.Format.BitRate)

	// 取第一条音频流
	found := false
	for _, s := range probeData.Streams {
		if s.CodecType != "audio" {
			continue
		}
		md.Codec = s.CodecName
		md.CodecLongName = s.CodecLongName
		md.SampleRate, _ = strconv.Atoi(s.SampleRate)
		md.Channels = s.Channels
		md.BitDepth = s.BitsPerSample
		found = true
		break
	}
	if !found {
		return nil, fault.Permanent(fault.ReasonUnsupportedStream, "no audio streams found in file", nil)
	}

	md.MimeType = model.MimeTypeForCodec(md.Codec)

	// 标签只是提示信息
	if tags := probeData.Format.Tags; tags != nil {
		md.Title = tags["title"]
		md.Artist = tags["artist"]
		md.Album = tags["album"]
		md.Year = tags["date"]
		md.Genre = tags["genre"]
	}

	logger.Debug("ffprobe完成",
		logger.String("path", path),
		logger.String("codec", md.Codec),
		logger.Float64("duration", md.Duration))

	return md, nil
}
