// Package waveform reduces decoded audio into the compact peak-array artifact
// used to draw track waveforms in the player UI.
package waveform

import (
	"encoding/json"
	"fmt"
	"math"
)

// ArtifactSchemaVersion is bumped whenever the artifact layout changes.
const ArtifactSchemaVersion = 1

// Artifact 是波形可视化产物，JSON序列化后存入对象存储。
type Artifact struct {
	SchemaVersion  int       `json:"schemaVersion"`
	SampleRate     int       `json:"sampleRate"`
	SamplesPerPeak int       `json:"samplesPerPeak"`
	Peaks          []float64 `json:"peaks"`
}

// Reduce downsamples a stream of absolute amplitude values to exactly
// peakCount peaks: absolute maximum per window, scaled to [0,1] by the run's
// global maximum. Input shorter than peakCount yields zero-padded windows.
func Reduce(values []float64, peakCount int) []float64 {
	if peakCount <= 0 {
		return nil
	}
	peaks := make([]float64, peakCount)
	n := len(values)
	if n == 0 {
		return peaks
	}

	var globalMax float64
	for i := 0; i < peakCount; i++ {
		lo := i * n / peakCount
		hi := (i + 1) * n / peakCount
		var windowMax float64
		for _, v := range values[lo:hi] {
			v = math.Abs(v)
			if v > windowMax {
				windowMax = v
			}
		}
		peaks[i] = windowMax
		if windowMax > globalMax {
			globalMax = windowMax
		}
	}

	// 用全局最大值归一化到 [0,1]
	if globalMax > 0 {
		for i := range peaks {
			peaks[i] = peaks[i] / globalMax
		}
	}
	return peaks
}

// EncodeBudget serializes the artifact, deterministically subsampling the peak
// array by uniform stride until the encoding fits the byte budget. The
// artifact is never silently dropped or truncated mid-array.
func EncodeBudget(a *Artifact, byteMax int) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal waveform artifact: %w", err)
	}

	for len(data) > byteMax && len(a.Peaks) > 1 {
		a.Peaks = subsample(a.Peaks, 2)
		a.SamplesPerPeak *= 2
		data, err = json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal waveform artifact: %w", err)
		}
	}
	if len(data) > byteMax {
		return nil, fmt.Errorf("waveform artifact cannot fit %d byte budget", byteMax)
	}
	return data, nil
}

// subsample keeps every stride-th peak.
func subsample(peaks []float64, stride int) []float64 {
	out := make([]float64, 0, (len(peaks)+stride-1)/stride)
	for i := 0; i < len(peaks); i += stride {
		out = append(out, peaks[i])
	}
	return out
}
