package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetLoggerForTest(zerolog.New(buf).Level(parseLevel(level)))
	t.Cleanup(func() { SetLoggerForTest(zerolog.New(os.Stdout)) })
	return buf
}

func TestInfoLogging(t *testing.T) {
	buf := setupTestLogger(t, "info")

	Info("render finished", "bytes", 42, "format", "pdf", "cached", false)

	out := buf.String()
	assert.Contains(t, out, "render finished")
	assert.Contains(t, out, `"bytes":42`)
	assert.Contains(t, out, `"format":"pdf"`)
	assert.Contains(t, out, `"cached":false`)
}

func TestErrorValuesAndDanglingKey(t *testing.T) {
	buf := setupTestLogger(t, "info")

	Error("compile failed", "error", errors.New("boom"), "dangling")

	out := buf.String()
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"dangling":null`)
}

func TestLevelFiltering(t *testing.T) {
	buf := setupTestLogger(t, "warn")

	Info("hidden")
	Debug("hidden too")
	assert.Empty(t, buf.String())

	SetLogLevel("info")
	Info("should be visible")
	assert.Contains(t, buf.String(), "should be visible")
}

func TestInitLoggerWritesFileAndFallsBackOnInvalidLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "render.log")
	InitLogger(logFile, 1, 1, 1, false, "invalid")
	t.Cleanup(func() { SetLoggerForTest(zerolog.New(os.Stdout)) })

	Info("hello", "k", "v")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
