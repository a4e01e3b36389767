package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_RunAll(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()
	other := writeKernel(t, dir, "Other_Book_kernel.json", strings.Replace(testBookKernel, `"Test Book"`, `"Other Book"`, 1))
	broken := writeKernel(t, dir, "Broken_kernel.json", `{"metadata": {"title": "Broken"}}`)

	items := NewBatch(h.orch, 2).RunAll(context.Background(), []string{h.kernel, broken, other}, RunOptions{Pipeline: PipelineLayers})
	require.Len(t, items, 3)

	assert.Equal(t, h.kernel, items[0].KernelPath)
	require.NoError(t, items[0].Err)
	assert.Equal(t, "test_book", items[0].Result.Slug)

	assert.Error(t, items[1].Err, "one bad kernel does not stop the batch")
	assert.Nil(t, items[1].Result)

	require.NoError(t, items[2].Err)
	assert.Equal(t, "other_book", items[2].Result.Slug)
	assert.FileExists(t, filepath.Join(h.store.RunDir("other_book"), "stages", StageLayers+".json"))
	assert.Equal(t, 2, h.llm.count(promptLayers))
}

func TestBatch_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := NewBatch(h.orch, 0).RunAll(ctx, []string{h.kernel}, RunOptions{})
	require.Len(t, items, 1)
	assert.ErrorIs(t, items[0].Err, context.Canceled)
	assert.Zero(t, h.llm.total())
}
