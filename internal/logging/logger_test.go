package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNewWriterFiltersAndTags(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "gateway", "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Str("session_id", "sales").Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "gateway", line["app"])
	assert.Equal(t, "sales", line["session_id"])
	assert.Equal(t, "shown", line["message"])
}
