package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_WritesToConfiguredOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestNew_AllLogLevels(t *testing.T) {
	testCases := []struct {
		level         string
		expectedLevel zerolog.Level
		name          string
	}{
		{"debug", zerolog.DebugLevel, "debug"},
		{"info", zerolog.InfoLevel, "info"},
		{"warn", zerolog.WarnLevel, "warn"},
		{"WARNING", zerolog.WarnLevel, "warning alias"},
		{"error", zerolog.ErrorLevel, "error"},
		{"unknown", zerolog.InfoLevel, "unknown defaults to info"},
		{"", zerolog.InfoLevel, "empty defaults to info"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			New(Config{Level: tc.level, Output: &bytes.Buffer{}})
			assert.Equal(t, tc.expectedLevel, zerolog.GlobalLevel())
		})
	}
}

func TestNew_TimestampFormat(t *testing.T) {
	New(Config{Level: "info", Output: &bytes.Buffer{}})
	assert.Equal(t, "2006-01-02T15:04:05Z07:00", zerolog.TimeFieldFormat)
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Pretty: true, Output: &buf})

	log.Info().Str("key", "value").Msg("pretty line")

	output := buf.String()
	assert.Contains(t, output, "pretty line")
	assert.Contains(t, strings.ToLower(output), "key")
}

func TestNew_ErrorLevelFiltersLower(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "error", Output: &buf})

	log.Info().Msg("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")

	log.Error().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")

	// Leave the global level usable for other tests in the package
	New(Config{Level: "debug", Output: &bytes.Buffer{}})
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})

	sub := Component(log, "forecasting")
	sub.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"forecasting"`)
}

func TestComponent_DisabledStaysDisabled(t *testing.T) {
	disabled := zerolog.New(nil).Level(zerolog.Disabled)

	sub := Component(disabled, "forecasting")

	assert.Equal(t, zerolog.Disabled, sub.GetLevel())
}

func TestSetGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	SetGlobalLogger(log)
	defer SetGlobalLogger(zerolog.Nop())

	log.Info().Msg("global logger test")
	assert.Contains(t, buf.String(), "global logger test")
}
