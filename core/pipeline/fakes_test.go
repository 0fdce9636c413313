package pipeline

import (
	"context"
	"os"
	"time"

	"soniq/config"
	"soniq/core/fault"
	"soniq/core/waveform"
	"soniq/model"
)

// fakeRepo is an in-memory TrackRepository with injectable save conflicts.
type fakeRepo struct {
	track          *model.Track
	loadErr        error
	conflictOnSave bool
	saveCalls      int
	markedReason   string
}

func (r *fakeRepo) Load(ctx context.Context, trackID string) (*model.Track, error) {
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	if r.track == nil || r.track.ID != trackID {
		return nil, nil
	}
	cp := *r.track
	return &cp, nil
}

func (r *fakeRepo) Save(ctx context.Context, track *model.Track) error {
	r.saveCalls++
	if r.conflictOnSave {
		return fault.Transient(fault.ReasonConcurrencyConflict, "simulated concurrent writer", nil)
	}
	cp := *track
	cp.Version++
	r.track = &cp
	return nil
}

func (r *fakeRepo) MarkFailed(ctx context.Context, trackID, reason string) error {
	r.markedReason = reason
	if r.track != nil && r.track.ID == trackID && r.track.Status == model.StatusProcessing {
		r.track.Status = model.StatusFailed
		r.track.FailureReason = reason
	}
	return nil
}

// fakeStore keeps uploads in memory and writes fixed content on download.
type fakeStore struct {
	downloadErr     error
	uploadErr       error
	downloadContent []byte
	downloads       int
	downloadPaths   []string
	uploads         map[string][]byte
	contentTypes    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		downloadContent: []byte("fake-audio-bytes"),
		uploads:         make(map[string][]byte),
		contentTypes:    make(map[string]string),
	}
}

func (s *fakeStore) Download(ctx context.Context, objectKey, localPath string) error {
	s.downloads++
	s.downloadPaths = append(s.downloadPaths, localPath)
	if s.downloadErr != nil {
		return s.downloadErr
	}
	return os.WriteFile(localPath, s.downloadContent, 0644)
}

func (s *fakeStore) UploadFromFile(ctx context.Context, objectKey, localPath, contentType string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.uploads[objectKey] = data
	s.contentTypes[objectKey] = contentType
	return nil
}

// fakeProber returns canned metadata.
type fakeProber struct {
	md  *model.AudioMetadata
	err error
}

func (p *fakeProber) Probe(ctx context.Context, path string) (*model.AudioMetadata, error) {
	if p.err != nil {
		return nil, p.err
	}
	cp := *p.md
	return &cp, nil
}

// fakeRenderer writes a real artifact so upload and decode paths stay honest.
type fakeRenderer struct {
	err       error
	calls     int
	lastPeaks int
}

func (r *fakeRenderer) Render(ctx context.Context, path, outPath string, peakCount int) error {
	r.calls++
	r.lastPeaks = peakCount
	if r.err != nil {
		return r.err
	}
	values := make([]float64, peakCount*4)
	for i := range values {
		values[i] = float64(i%97) / 97
	}
	artifact := &waveform.Artifact{
		SchemaVersion:  waveform.ArtifactSchemaVersion,
		SampleRate:     8000,
		SamplesPerPeak: 4,
		Peaks:          waveform.Reduce(values, peakCount),
	}
	data, err := waveform.EncodeBudget(artifact, 100*1024)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0644)
}

func testLimits() *config.LimitStore {
	return config.NewLimitStore(&config.Config{
		MaxTrackDuration: 120 * time.Minute,
		PeakCount:        64,
		WaveformByteMax:  100 * 1024,
		ScratchCeiling:   1 << 30,
	})
}

func probedMP3(durationSec float64) *model.AudioMetadata {
	return &model.AudioMetadata{
		Duration:      durationSec,
		SampleRate:    44100,
		Channels:      2,
		BitRate:       192000,
		Codec:         "mp3",
		CodecLongName: "MP3 (MPEG audio layer 3)",
		FileSizeBytes: 4_300_000,
	}
}

func testEvent() *model.ProcessingEvent {
	return &model.ProcessingEvent{
		TrackID:       "01J8ZQ4RT5Y0A3B9C8D7E6F5G4",
		UserID:        "01J8ZQ4RT5Y0A3B9C8D7E6F5H1",
		ObjectKey:     "tracks/01J8ZQ4RT5Y0A3B9C8D7E6F5H1/01J8ZQ4RT5Y0A3B9C8D7E6F5G4/source",
		MimeType:      "audio/mpeg",
		FileSizeBytes: 4_300_000,
		CorrelationID: "corr-123",
		Timestamp:     time.Now(),
		SchemaVersion: model.EventSchemaVersion,
	}
}

func processingTrack(ev *model.ProcessingEvent) *model.Track {
	return &model.Track{
		ID:        ev.TrackID,
		UserID:    ev.UserID,
		ObjectKey: ev.ObjectKey,
		Status:    model.StatusProcessing,
		CreatedAt: time.Now(),
		Version:   3,
	}
}
