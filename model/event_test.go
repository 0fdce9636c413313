package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeProcessingEventToleratesUnknownFields(t *testing.T) {
	payload := []byte(`{
		"schemaVersion": 1,
		"trackId": "01J8ZQ4RT5Y0A3B9C8D7E6F5G4",
		"userId": "01J8ZQ4RT5Y0A3B9C8D7E6F5H1",
		"objectKey": "tracks/u/t/source",
		"mimeType": "audio/mpeg",
		"fileSizeBytes": 1024,
		"newFieldFromFutureProducer": {"nested": true}
	}`)

	ev, err := DecodeProcessingEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "01J8ZQ4RT5Y0A3B9C8D7E6F5G4", ev.TrackID)
	assert.Equal(t, "tracks/u/t/source", ev.ObjectKey)
	assert.Equal(t, int64(1024), ev.FileSizeBytes)
}

func TestDecodeProcessingEventRequiresKnownSchema(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"newer version", `{"schemaVersion": 2, "trackId": "t", "objectKey": "k"}`},
		{"zero version", `{"schemaVersion": 0, "trackId": "t", "objectKey": "k"}`},
		{"missing version", `{"trackId": "t", "objectKey": "k"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeProcessingEvent([]byte(tc.payload))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupportedSchema)
		})
	}
}

func TestDecodeProcessingEventRequiresIdentity(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"missing trackId", `{"schemaVersion": 1, "objectKey": "tracks/u/t/source"}`},
		{"missing objectKey", `{"schemaVersion": 1, "trackId": "01J8ZQ4RT5Y0A3B9C8D7E6F5G4"}`},
		{"empty object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeProcessingEvent([]byte(tc.payload))
			assert.Error(t, err)
		})
	}
}

func TestDecodeProcessingEventRejectsGarbage(t *testing.T) {
	_, err := DecodeProcessingEvent([]byte("{not json"))
	assert.Error(t, err)
}
