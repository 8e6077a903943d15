package enginelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStderrLoggerDoesNotPanic(t *testing.T) {
	l, err := New(Options{})
	require.NoError(t, err)
	l.Log(CategoryStatus, "hello %s", "world")
	l.Log(CategoryDebug, "should be suppressed")
}

func TestDebugAndListingGatedByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	l, err := New(Options{Path: path})
	require.NoError(t, err)
	defer l.Close()

	l.Log(CategoryDebug, "debug message")
	l.Log(CategoryListing, "listing message")
	l.Log(CategoryStatus, "status message")
	l.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "debug message")
	assert.NotContains(t, string(data), "listing message")
	assert.Contains(t, string(data), "status message")
}

func TestEnableDebugAndListing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	l, err := New(Options{Path: path, EnableDebug: true, EnableListing: true})
	require.NoError(t, err)

	l.Log(CategoryDebug, "debug message")
	l.Log(CategoryListing, "listing message")
	l.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug message")
	assert.Contains(t, string(data), "listing message")
}

func TestErrorFlushesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	l, err := New(Options{Path: path, EnableDebug: true})
	require.NoError(t, err)
	defer l.Close()

	l.Log(CategoryDebug, "buffered debug line")
	l.Log(CategoryError, "boom")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
	assert.Contains(t, string(data), "buffered debug line")
}

func TestRotationCreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	l, err := New(Options{Path: path, MaxSizeBytes: 200, MaxBackups: 2})
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.Log(CategoryStatus, "line number %d of filler content to grow the file", i)
	}
	l.Close()

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a rotated backup file to exist")
}
