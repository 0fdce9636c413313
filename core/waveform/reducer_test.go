package waveform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceProducesExactPeakCount(t *testing.T) {
	values := make([]float64, 10000)
	for i := range values {
		values[i] = float64(i%100) / 100
	}

	for _, count := range []int{1, 7, 800, 4096} {
		peaks := Reduce(values, count)
		assert.Len(t, peaks, count)
	}
}

func TestReduceNormalizesToGlobalMax(t *testing.T) {
	values := []float64{0.1, 0.2, 0.4, 0.1, 0.2, 0.1, 0.1, 0.1}
	peaks := Reduce(values, 4)

	require.Len(t, peaks, 4)
	// window containing 0.4 becomes 1.0, everything scaled by 1/0.4
	assert.InDelta(t, 0.5, peaks[0], 1e-9)
	assert.InDelta(t, 1.0, peaks[1], 1e-9)
	assert.InDelta(t, 0.5, peaks[2], 1e-9)
	assert.InDelta(t, 0.25, peaks[3], 1e-9)
}

func TestReduceSilentInput(t *testing.T) {
	peaks := Reduce(make([]float64, 500), 10)
	require.Len(t, peaks, 10)
	for _, p := range peaks {
		assert.Zero(t, p)
	}
}

func TestReduceShorterInputThanPeakCount(t *testing.T) {
	peaks := Reduce([]float64{0.5, 1.0}, 8)
	assert.Len(t, peaks, 8)
}

func TestEncodeBudgetFitsWithoutSubsampling(t *testing.T) {
	a := &Artifact{SchemaVersion: ArtifactSchemaVersion, SampleRate: 8000, SamplesPerPeak: 100, Peaks: Reduce(make([]float64, 100), 50)}
	data, err := EncodeBudget(a, 100*1024)
	require.NoError(t, err)
	assert.Len(t, a.Peaks, 50)
	assert.LessOrEqual(t, len(data), 100*1024)
}

func TestEncodeBudgetSubsamplesOversizedArtifact(t *testing.T) {
	// an extreme peak count that cannot fit the budget as-is
	values := make([]float64, 200000)
	for i := range values {
		values[i] = float64(i%1000) / 1000
	}
	a := &Artifact{
		SchemaVersion:  ArtifactSchemaVersion,
		SampleRate:     8000,
		SamplesPerPeak: 10,
		Peaks:          Reduce(values, 100000),
	}

	budget := 50 * 1024
	data, err := EncodeBudget(a, budget)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), budget)

	// the result is a valid artifact, not a truncated blob
	var decoded Artifact
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ArtifactSchemaVersion, decoded.SchemaVersion)
	assert.NotEmpty(t, decoded.Peaks)
	// subsampling doubles the stride each pass
	assert.Greater(t, decoded.SamplesPerPeak, 10)
}
