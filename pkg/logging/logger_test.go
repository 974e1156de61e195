package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	for level, want := range map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	} {
		assert.Equal(t, want, New(level, &bytes.Buffer{}).GetLevel(), "level %q", level)
	}
}

func TestNewJSONWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON("info", &buf)
	l.Info().Str("bucket", "b").Int64("size", 28).Msg("Recorded bucket size")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "b", line["bucket"])
	assert.EqualValues(t, 28, line["size"])
	assert.Equal(t, "info", line["level"])
}

func TestNewJSONDropsLinesBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON("warn", &buf)
	l.Info().Msg("ignored")

	assert.Zero(t, buf.Len())
}

func TestStackIsLoggedForWrappedErrors(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON("info", &buf)
	l.Error().Stack().Err(errors.WithStack(errors.New("boom"))).Msg("Error in size tracking")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.NotEmpty(t, line["stack"])
}
