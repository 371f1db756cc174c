package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	entry := New().WithComponent("pipeline")
	assert.Equal(t, "pipeline", entry.Entry.Data["component"])
}

func TestConfigureRejectsBadInput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()
	assert.Error(t, l.Configure("loud", "json", "stdout", 0, 0))
	assert.Error(t, l.Configure("info", "xml", "stdout", 0, 0))
}

func TestJSONOutputUsesRenamedKeys(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := New()
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithComponent("engine").WithField("command_id", 7).Info("applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "applied", line["message"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "engine", line["component"])
	assert.EqualValues(t, 7, line["command_id"])
	assert.Contains(t, line, "timestamp")
}

func TestConfigureRotatingFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "matchcore.log")
	l := New()
	require.NoError(t, l.Configure("debug", "text", path, 10, 1))
	l.Debug("written")
	assert.FileExists(t, path)
}
