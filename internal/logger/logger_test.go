package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(&buf, "warn", "json")
	require.NoError(t, err)

	log.Infow("ignored")
	log.Warnw("sink failed", "sink", "webhook", "evento", 7)
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "sink failed", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "webhook", entry["sink"])
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := NewWriter(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
	_, err = NewWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
