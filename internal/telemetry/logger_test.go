package telemetry

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewWithNilOutputAppliesConfiguredLevel(t *testing.T) {
	log := New(Config{Level: "info"})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewWritesJSONLinesByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Info().Msg("hello")

	require.Contains(t, buf.String(), `"message":"hello"`)
	require.Contains(t, buf.String(), `"level":"info"`)
}

func TestNewPrettyUsesConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf, Pretty: true})
	log.Info().Msg("hello")

	require.Contains(t, buf.String(), "hello")
	require.NotContains(t, buf.String(), `"message"`, "pretty output is not raw JSON")
}

func TestNewFallsBackToInfoOnUnparseableLevel(t *testing.T) {
	log := New(Config{Level: "not-a-level"})
	require.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewRespectsDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})
	log.Debug().Msg("verbose")
	require.Contains(t, buf.String(), "verbose")
}

func TestNewSuppressesBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info().Msg("should not appear")
	require.Empty(t, buf.String())
}
