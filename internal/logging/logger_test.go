package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func resetForTest(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		Attach(nil)
		CloseAll()
		configMu.Lock()
		config = Config{}
		configMu.Unlock()
		logsDir = ""
	})
}

func TestInitialize_ProductionModeWritesNothing(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(dir, Config{DebugMode: false}))
	Pipeline("should not be written")

	_, err := os.Stat(filepath.Join(dir, "logs"))
	assert.True(t, os.IsNotExist(err), "logs dir must not exist in production mode")
}

func TestInitialize_DebugModeWritesCategoryFiles(t *testing.T) {
	resetForTest(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(dir, Config{DebugMode: true, Level: "debug"}))
	Pipeline("stage %s completed", "stage1_extraction")
	APIWarn("rate limited, attempt %d", 2)
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	joined := strings.Join(names, ",")
	assert.Contains(t, joined, "_pipeline.log")
	assert.Contains(t, joined, "_api.log")
	assert.Contains(t, joined, "_boot.log")

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "_pipeline.log") {
			data, err := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(data), "stage stage1_extraction completed")
		}
	}
}

func TestIsCategoryEnabled(t *testing.T) {
	resetForTest(t)
	require.NoError(t, Initialize(t.TempDir(), Config{
		DebugMode:  true,
		Categories: map[string]bool{"api": false},
	}))

	assert.False(t, IsCategoryEnabled(CategoryAPI))
	assert.True(t, IsCategoryEnabled(CategoryPipeline), "unspecified categories default to enabled")
}

func TestAttach_RoutesToZapLogger(t *testing.T) {
	resetForTest(t)
	core, logs := observer.New(zapcore.DebugLevel)
	Attach(zap.New(core))

	Get(CategoryCheckpoint).With("slug", "the_giver").Info("wrote %s", "stage1_extraction")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "wrote stage1_extraction", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "checkpoint", ctx["category"])
	assert.Equal(t, "the_giver", ctx["slug"])
}

func TestTimer_StopReturnsElapsed(t *testing.T) {
	resetForTest(t)
	timer := StartTimer(CategoryRender, "render site")
	assert.GreaterOrEqual(t, int64(timer.Stop()), int64(0))
}
