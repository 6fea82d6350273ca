package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", JSONOutput: true, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestLoggerComponentField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", JSONOutput: true, Output: &buf})

	logger.WithComponent("rotation").Info("tick")

	require.Contains(t, buf.String(), `"component":"rotation"`)
}

func TestLoggerRequestIDField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", JSONOutput: true, Output: &buf})

	logger.WithRequestID("req-123").Info("handling")

	require.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestSecretStringer(t *testing.T) {
	s := Secret("super-secret-value")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))
}

func TestSecretNeverReachesOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", JSONOutput: true, Output: &buf})

	logger.Info("authenticating with secret %s", Secret("s3kr3t-value"))

	assert.NotContains(t, buf.String(), "s3kr3t-value")
	assert.Contains(t, buf.String(), "[REDACTED]")
}
