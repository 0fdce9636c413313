package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"soniq/core/fault"
	"soniq/core/scratch"
	"soniq/core/waveform"
	"soniq/metrics"
	"soniq/model"
	"soniq/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	repo        *fakeRepo
	store       *fakeStore
	prober      *fakeProber
	renderer    *fakeRenderer
	scratch     *scratch.Manager
	scratchRoot string
	orch        *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	mgr, err := scratch.NewManager(root, 1<<30, 1)
	require.NoError(t, err)

	ev := testEvent()
	f := &fixture{
		repo:        &fakeRepo{track: processingTrack(ev)},
		store:       newFakeStore(),
		prober:      &fakeProber{md: probedMP3(180.2)},
		renderer:    &fakeRenderer{},
		scratch:     mgr,
		scratchRoot: root,
	}
	f.orch = NewOrchestrator(f.repo, f.store, f.prober, f.renderer, mgr, testLimits(), metrics.New(), nil)
	return f
}

// scratchEntries lists whatever job directories remain under the scratch root.
func (f *fixture) scratchEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.scratchRoot)
	require.NoError(t, err)
	return entries
}

func TestProcessSkipsMissingTrack(t *testing.T) {
	f := newFixture(t)
	f.repo.track = nil

	outcome, err := f.orch.Process(context.Background(), testEvent())

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, f.store.downloads, "nothing should be downloaded for a missing track")
}

func TestProcessIdempotentWhenAlreadyReady(t *testing.T) {
	f := newFixture(t)
	ev := testEvent()
	f.repo.track.Status = model.StatusReady
	f.repo.track.Duration = 180.2

	// replaying the same event twice is a pure no-op
	for i := 0; i < 2; i++ {
		outcome, err := f.orch.Process(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome)
	}

	assert.Equal(t, model.StatusReady, f.repo.track.Status, "a ready track must never leave ready")
	assert.Zero(t, f.store.downloads)
	assert.Zero(t, f.repo.saveCalls)
}

func TestAdmissionDeniedIsRetryableAndCreatesNoScratch(t *testing.T) {
	f := newFixture(t)
	f.scratch.SetCeiling(0) // everything is over a zero ceiling

	ev := testEvent()
	outcome, err := f.orch.Process(context.Background(), ev)

	assert.Equal(t, OutcomeRetry, outcome)
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
	assert.Equal(t, fault.ReasonAdmissionDenied, fault.ReasonOf(err))
	assert.Empty(t, f.scratchEntries(t), "denial must not allocate scratch")
	assert.Equal(t, model.StatusProcessing, f.repo.track.Status, "denial must not corrupt state")
}

func TestScratchCleanupOnEveryExitPath(t *testing.T) {
	ev := testEvent()

	cases := []struct {
		name    string
		mutate  func(f *fixture)
		outcome Outcome
	}{
		{"download fails", func(f *fixture) {
			f.store.downloadErr = fault.Transient(fault.ReasonDownloadFailed, "socket reset", nil)
		}, OutcomeRetry},
		{"probe fails", func(f *fixture) {
			f.prober.err = fault.Permanent(fault.ReasonCorruptedInput, "ffprobe rejected input", nil)
		}, OutcomeFailed},
		{"validation fails", func(f *fixture) {
			f.prober.md = probedMP3(0)
		}, OutcomeFailed},
		{"render fails", func(f *fixture) {
			f.renderer.err = fault.Permanent(fault.ReasonRenderFailed, "decoder produced no samples", nil)
		}, OutcomeFailed},
		{"persist conflicts", func(f *fixture) {
			f.repo.conflictOnSave = true
		}, OutcomeRetry},
		{"success", func(f *fixture) {}, OutcomeCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f)

			outcome, _ := f.orch.Process(context.Background(), ev)

			assert.Equal(t, tc.outcome, outcome)
			assert.Empty(t, f.scratchEntries(t), "scratch must be reclaimed on every exit path")
		})
	}
}

func TestConcurrencyConflictRetriedNotOverwritten(t *testing.T) {
	f := newFixture(t)
	f.repo.conflictOnSave = true

	outcome, err := f.orch.Process(context.Background(), testEvent())

	assert.Equal(t, OutcomeRetry, outcome)
	require.Error(t, err)
	assert.True(t, fault.IsRetryable(err))
	assert.Equal(t, fault.ReasonConcurrencyConflict, fault.ReasonOf(err))

	// the committed record keeps its state; no field from the losing writer lands
	assert.Equal(t, model.StatusProcessing, f.repo.track.Status)
	assert.Nil(t, f.repo.track.Metadata)
	assert.Empty(t, f.repo.track.WaveformObjectKey)
}

func TestSuccessfulRunMarksTrackReady(t *testing.T) {
	f := newFixture(t)
	ev := testEvent()

	outcome, err := f.orch.Process(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	track := f.repo.track
	assert.Equal(t, model.StatusReady, track.Status)
	assert.InDelta(t, 180.2, track.Duration, 0.01)
	assert.NotNil(t, track.ProcessedAt)
	assert.Empty(t, track.FailureReason)

	require.NotNil(t, track.Metadata)
	assert.Equal(t, "mp3", track.Metadata.Codec)
	assert.Equal(t, "audio/mpeg", track.Metadata.MimeType)
	assert.Equal(t, 44100, track.Metadata.SampleRate)

	// waveform artifact uploaded under the deterministic key
	wantKey := storage.WaveformKey(ev.UserID, ev.TrackID)
	assert.Equal(t, wantKey, track.WaveformObjectKey)
	data, ok := f.store.uploads[wantKey]
	require.True(t, ok, "waveform artifact must be uploaded")
	assert.Equal(t, "application/json", f.store.contentTypes[wantKey])

	var artifact waveform.Artifact
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Len(t, artifact.Peaks, 64, "peak array length must match the configured count")
	assert.Equal(t, waveform.ArtifactSchemaVersion, artifact.SchemaVersion)
}

func TestMetadataWhollyReplacedOnReprocess(t *testing.T) {
	f := newFixture(t)
	ev := testEvent()

	// previous run left stale metadata behind; a rerun replaces it wholesale
	f.repo.track.Metadata = &model.AudioMetadata{Codec: "flac", Duration: 99, BitDepth: 24}
	f.repo.track.Duration = 99

	outcome, err := f.orch.Process(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "mp3", f.repo.track.Metadata.Codec)
	assert.Zero(t, f.repo.track.Metadata.BitDepth, "stale fields must not survive the replacement")
	assert.InDelta(t, 180.2, f.repo.track.Duration, 0.01)
}

func TestOverlongTrackMarkedFailed(t *testing.T) {
	f := newFixture(t)
	ev := testEvent()
	f.prober.md = probedMP3(200 * 60) // 200 minutes against a 120 minute ceiling

	outcome, err := f.orch.Process(context.Background(), ev)

	require.NoError(t, err, "permanent defects are resolved, not propagated")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, model.StatusFailed, f.repo.track.Status)
	assert.Equal(t, string(fault.ReasonDurationExceeded), f.repo.track.FailureReason)
	assert.Zero(t, f.renderer.calls, "no waveform is rendered for rejected audio")
	assert.Empty(t, f.store.uploads, "no artifact is uploaded for rejected audio")
}

func TestDuplicateDeliveriesUseIsolatedScratch(t *testing.T) {
	f := newFixture(t)
	// conflicting saves keep the track in processing so both attempts run the
	// full download path, like two duplicate deliveries racing each other
	f.repo.conflictOnSave = true

	_, _ = f.orch.Process(context.Background(), testEvent())
	_, _ = f.orch.Process(context.Background(), testEvent())

	require.Len(t, f.store.downloadPaths, 2)
	assert.NotEqual(t, f.store.downloadPaths[0], f.store.downloadPaths[1],
		"attempts for the same event must never share a download path")
}

func TestProcessEmitsSpansPerStage(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	defer otel.SetTracerProvider(prev)

	f := newFixture(t)
	ev := testEvent()

	outcome, err := f.orch.Process(context.Background(), ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)

	spans := recorder.Ended()
	names := make(map[string]bool, len(spans))
	for _, s := range spans {
		names[s.Name()] = true
	}
	for _, want := range []string{
		"pipeline.process",
		"stage.download", "stage.probe", "stage.validate",
		"stage.render", "stage.upload", "stage.persist",
	} {
		assert.True(t, names[want], "missing span %s", want)
	}

	for _, s := range spans {
		if s.Name() != "pipeline.process" {
			continue
		}
		attrs := make(map[attribute.Key]string, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[kv.Key] = kv.Value.AsString()
		}
		assert.Equal(t, ev.TrackID, attrs["trackId"])
		assert.Equal(t, ev.CorrelationID, attrs["correlationId"])
	}
}
