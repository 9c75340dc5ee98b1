package logger_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/evaluation-engine/logger"
)

func TestNew_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&buf, "info")
	require.NoError(t, err)

	log.Named("workflow").Info(context.Background(), "unlock request approved",
		logger.String("request_id", "u-1"),
		logger.Int("cascaded", 2),
	)

	out := buf.String()
	assert.Contains(t, out, "unlock request approved")
	assert.Contains(t, out, "component=workflow")
	assert.Contains(t, out, "request_id=u-1")
	assert.Contains(t, out, "cascaded=2")
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&buf, "warn")
	require.NoError(t, err)

	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown", logger.Error(errors.New("boom")))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "error=boom")
}

func TestWith_AddsFieldsToEveryEntry(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New(&buf, "debug")
	require.NoError(t, err)

	scoped := log.With(logger.String("session_id", "s-1"))
	scoped.Debug(context.Background(), "refresh")

	assert.Contains(t, buf.String(), "session_id=s-1")
}

func TestParseLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", "", "warning", "error"} {
		_, err := logger.ParseLevel(lvl)
		assert.NoError(t, err, lvl)
	}
	_, err := logger.ParseLevel("loud")
	assert.Error(t, err)
}
