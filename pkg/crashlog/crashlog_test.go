package crashlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-guardian-go/pkg/process"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() process.Identity {
	return process.Identity{
		PID:            4242,
		ExecutablePath: "/opt/guardian/guardian",
		LaunchedAt:     time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
}

func TestLog_RecordWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	log := New(Options{
		Path:         filepath.Join(dir, "Crashes", "20261019-090000.log"),
		FallbackPath: filepath.Join(dir, "fallback.log"),
		Identity:     testIdentity(),
	})

	log.Record(Entry{Title: "UI thread panic", Message: "index out of range", Stack: "goroutine 1 [running]:\nmain.main()\n"})
	log.Record(Entry{Title: "background panic", Message: "nil map"})

	data, err := os.ReadFile(log.Path())
	require.NoError(t, err)
	text := string(data)

	assert.Equal(t, 1, strings.Count(text, "==== crash log"))
	assert.Contains(t, text, "run "+log.RunID())
	assert.Contains(t, text, "pid: 4242")
	assert.Contains(t, text, "executable: /opt/guardian/guardian")
	assert.Contains(t, text, "UI thread panic")
	assert.Contains(t, text, "message: index out of range")
	assert.Contains(t, text, "main.main()")
	assert.Contains(t, text, "background panic")
	assert.Equal(t, 2, strings.Count(text, "status: heap="))
	assert.NoFileExists(t, filepath.Join(dir, "fallback.log"))

	_, err = uuid.Parse(log.RunID())
	assert.NoError(t, err)
}

func TestLog_FallsBackWhenPrimaryUnwritable(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the Crashes directory should be
	blocker := filepath.Join(dir, "Crashes")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	fallback := filepath.Join(dir, "fallback.log")
	log := New(Options{
		Path:         filepath.Join(blocker, "run.log"),
		FallbackPath: fallback,
		Identity:     testIdentity(),
	})

	log.Record(Entry{Title: "background panic", Message: "first line\nsecond line"})

	data, err := os.ReadFile(fallback)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pid=4242")
	assert.Contains(t, string(data), "background panic: first line")
	assert.NotContains(t, string(data), "second line")
}

func TestLog_GivesUpSilentlyWhenEverythingFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	log := New(Options{
		Path:         filepath.Join(blocker, "run.log"),
		FallbackPath: filepath.Join(blocker, "fallback.log"),
		Identity:     testIdentity(),
	})

	assert.NotPanics(t, func() {
		log.Record(Entry{Title: "crash"})
	})
}

func TestLog_RecoversFromSnapshotPanic(t *testing.T) {
	log := New(Options{Path: filepath.Join(t.TempDir(), "run.log"), Identity: testIdentity()})
	log.snapshot = func(process.Identity, time.Time) process.Snapshot {
		panic("snapshot unavailable")
	}

	assert.NotPanics(t, func() {
		log.Record(Entry{Title: "crash"})
	})
}
