package broker

import (
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMalformedEntryRecordKeepsOriginalValues(t *testing.T) {
	e := redis.XMessage{
		ID:     "1700000000-3",
		Values: map[string]interface{}{"data": "junk", "origin": "legacy-producer"},
	}

	rec := malformedEntryRecord("soniq:events:processing", e)

	assert.Equal(t, "soniq:events:processing", rec.OriginalTopic)
	assert.Equal(t, "1700000000-3", rec.OriginalKey)
	assert.Equal(t, "missing payload field", rec.ErrorMessage)
	assert.False(t, rec.FailedAt.IsZero())

	// whatever the broken entry carried must survive for inspection
	var values map[string]string
	require.NoError(t, json.Unmarshal(rec.Payload, &values))
	assert.Equal(t, "junk", values["data"])
	assert.Equal(t, "legacy-producer", values["origin"])
}
