package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFilterDropsDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()
	SetLevel("info")

	Debugf("hidden %d", 1)
	Infof("event=test action=log status=ok")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, ":INFO:")
	assert.Contains(t, out, "event=test action=log status=ok")
}

func TestJSONFormatCarriesCaller(t *testing.T) {
	l := &logger{format: logFormatJSON}
	line := l.formatLine("ts", warnLevel, "pkg.Func", "hello")

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(line), &payload))
	assert.Equal(t, "WARN", payload["level"])
	assert.Equal(t, "pkg.Func", payload["caller"])
	assert.Equal(t, "hello", payload["message"])
}

func TestRotateMovesFullFileAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.log")
	l := &logger{out: &bytes.Buffer{}, filePath: path, maxSizeBytes: 16, format: logFormatText}

	l.writeToFile("0123456789\n")
	l.writeToFile("abcdefghij\n")
	require.NoError(t, l.file.Close())

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestNextRotatedPathSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := nextRotatedPath(filepath.Join(dir, "hub.log"), now)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(first, nil, 0o644))

	second, err := nextRotatedPath(filepath.Join(dir, "hub.log"), now)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(second, "hub_20260102_030405_2.log"))
}
