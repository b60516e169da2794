package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, WarnLevel)

	log.Debug("hidden")
	log.Info("hidden too")
	require.Zero(t, buf.Len())

	log.Warn("visible")
	entry := lastEntry(t, &buf)
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "visible", entry["message"])
}

func TestFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, DebugLevel)

	log.Info("with fields",
		String("command", "query"),
		Int("count", 3),
		Bool("ok", true),
		Error(errors.New("boom")),
	)
	entry := lastEntry(t, &buf)
	require.Equal(t, "query", entry["command"])
	require.Equal(t, float64(3), entry["count"])
	require.Equal(t, true, entry["ok"])
	require.Equal(t, "boom", entry["error"])
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, DebugLevel).WithFields(String("component", "engine"))

	log.Info("first")
	require.Equal(t, "engine", lastEntry(t, &buf)["component"])
}

func TestWithContextRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRequestID(context.Background(), "req-123")
	log := NewLogger(&buf, DebugLevel).WithContext(ctx)

	log.Info("traced")
	require.Equal(t, "req-123", lastEntry(t, &buf)["request_id"])
}
