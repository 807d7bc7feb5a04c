package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
		infoSeen  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"error", false, false},
		{"bogus", false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(&buf, tt.level, false, true)

			log.Debug().Msg("debug line")
			assert.Equal(t, tt.debugSeen, bytes.Contains(buf.Bytes(), []byte("debug line")))

			buf.Reset()
			log.Info().Msg("info line")
			assert.Equal(t, tt.infoSeen, bytes.Contains(buf.Bytes(), []byte("info line")))
		})
	}
}

func TestNewLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info", false, true)

	log.Info().Str("submission_id", "sub-1").Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "review-service", entry["service"])
	assert.Equal(t, "sub-1", entry["submission_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "time")
}
