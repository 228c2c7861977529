package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewTo(&buf, "treemap", Config{Level: "warn", Format: "json"})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "treemap", entry["app"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := NewTo(&bytes.Buffer{}, "treemap", Config{Format: "xml"})
	assert.Error(t, err)
}

func TestTime(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	n, err := Time(logger, "load tree data", func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Contains(t, buf.String(), `"message":"load tree data"`)
	assert.Contains(t, buf.String(), `"level":"info"`)

	buf.Reset()
	boom := errors.New("boom")
	_, err = Time(logger, "load cache", func() (struct{}, error) { return struct{}{}, boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), `"message":"load cache failed"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
}
