package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutputEmitsParsableLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Str("worker_id", "w1").Msg("worker registered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "worker registered", entry["message"])
	assert.Equal(t, "w1", entry["worker_id"])
}

func TestInitWarnLevelFiltersOutLowerSeverity(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("should be filtered")
	assert.Empty(t, buf.String())

	Logger.Warn().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l := WithComponent("manager")
	l.Info().Msg("started")

	assert.True(t, strings.Contains(buf.String(), `"component":"manager"`))
}

func TestInitDefaultsUnknownLevelToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Level("bogus"), JSONOutput: true, Output: &buf})

	Logger.Info().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}
