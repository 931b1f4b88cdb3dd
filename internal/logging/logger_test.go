package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "warning", " ERROR "} {
		_, err := ParseLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSON, f.String())

	_, err = ParseFormat("xml")
	require.Error(t, err)
}

func TestNewLogfmt(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "logfmt")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("connection opened", "family", "tcp4")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `msg="connection opened"`)
	assert.Contains(t, out, "family=tcp4")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	logger.Debug("poll completed", "current", 3)
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "poll completed", line["msg"])
	assert.EqualValues(t, 3, line["current"])
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, "loud", "logfmt")
	require.Error(t, err)
	_, err = New(nil, "info", "yaml")
	require.Error(t, err)
}
