package logger

import (
	"bytes"
	stdlog "log"
	"testing"

	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audit-aggregator/internal/config"
)

func TestInitWritesTaggedJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(config.Config{ServiceName: "audit-aggregator", InstanceID: "host-1", LogLevel: "debug"}, &buf)

	zlog.Debug().Str("source", "a.log").Msg("parsed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "audit-aggregator", line["service"])
	assert.Equal(t, "host-1", line["instance"])
	assert.Equal(t, "a.log", line["source"])
}

func TestInitLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(config.Config{LogLevel: "warn"}, &buf)

	zlog.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	zlog.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestStdlogRedirected(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(config.Config{LogLevel: "info"}, &buf)

	stdlog.Print("from stdlib")
	assert.Contains(t, buf.String(), "from stdlib")
}
