package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternpress/internal/assembly"
	"patternpress/internal/kernel"
	"patternpress/internal/ledger"
	"patternpress/internal/validation"
)

func statuses(res *RunResult) map[string]Status {
	out := make(map[string]Status, len(res.Stages))
	for _, s := range res.Stages {
		out[s.Stage] = s.Status
	}
	return out
}

func TestRun_Content(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, "test_book", res.Slug)
	assert.Equal(t, PipelineContent, res.Pipeline)
	assert.Equal(t, "run-1", res.RunID)

	want := map[string]Status{
		StageExtraction:  StatusCompleted,
		StageThemes:      StatusCompleted,
		StageTheses:      StatusCompleted,
		StagePages:       StatusCompleted,
		StageTranslation: StatusCompleted,
		StageRender:      StatusSkipped,
	}
	if diff := cmp.Diff(want, statuses(res)); diff != "" {
		t.Errorf("stage statuses mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, h.llm.count(promptThemes))
	assert.Equal(t, 1, h.llm.count(promptTheses))
	assert.Equal(t, 6, h.llm.count(promptTranslate), "two hub fields and two per theme")
	assert.Contains(t, string(h.read(t, StageExtraction)), `"book_slug": "test_book"`)

	var themes assembly.ThemeSet
	require.NoError(t, json.Unmarshal(h.read(t, StageThemes), &themes))
	require.Len(t, themes.Themes, 2)
	assert.Equal(t, "justice", themes.Themes[1].Slug)
	assert.Equal(t, "the mockingbird sang", themes.Themes[0].DeviceExamples[0].Quote)

	for _, rel := range []string{"hub.json", "themes/innocence.json", "themes/justice.json", "essay_guide.json"} {
		assert.FileExists(t, filepath.Join(h.store.RunDir("test_book"), filepath.FromSlash(rel)))
	}

	var pages assembly.Pages
	require.NoError(t, json.Unmarshal(h.read(t, StageTranslation), &pages))
	desc := pages.Hub.Zones.Knowledge.Description
	require.True(t, desc.Translated())
	assert.Equal(t, []assembly.Block{
		{Type: assembly.BlockStatement, Text: "Short version."},
		{Type: assembly.BlockBullets, Items: []string{"one", "two"}},
	}, desc.Blocks)
	assert.NotEmpty(t, pages.EssayGuide.Zones.Knowledge.ExampleTheses)
}

func TestRun_IdempotentRerun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, h.kernel, RunOptions{})
	require.NoError(t, err)
	calls := h.llm.total()
	before := h.read(t, StageThemes)

	res, err := h.orch.Run(ctx, h.kernel, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, calls, h.llm.total(), "no LLM calls on a cached rerun")
	assert.Equal(t, before, h.read(t, StageThemes))
	for _, s := range res.Stages {
		if s.Stage == StageRender {
			continue
		}
		assert.Equal(t, StatusCached, s.Status, s.Stage)
	}
}

func TestRun_ResumeFromTheses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, h.kernel, RunOptions{})
	require.NoError(t, err)
	stage1 := h.read(t, StageExtraction)

	for _, s := range []string{StageTheses, StagePages, StageTranslation} {
		require.NoError(t, h.store.Delete("test_book", s))
	}

	res, err := h.orch.Run(ctx, h.kernel, RunOptions{ResumeFrom: StageTheses})
	require.NoError(t, err)
	assert.Equal(t, stage1, h.read(t, StageExtraction))
	assert.Equal(t, 1, h.llm.count(promptThemes))
	assert.Equal(t, 2, h.llm.count(promptTheses))

	got := statuses(res)
	assert.Equal(t, StatusSkipped, got[StageExtraction])
	assert.Equal(t, StatusSkipped, got[StageThemes])
	assert.Equal(t, StatusCompleted, got[StageTheses])
	assert.Equal(t, StatusCompleted, got[StageTranslation])
}

func TestRun_ResumeNeedsPrerequisites(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{ResumeFrom: StageTheses})
	assert.Nil(t, res)
	var missing *MissingCheckpointError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, StageExtraction, missing.Stage)
	assert.Zero(t, h.llm.total())
}

func TestRun_BadSelection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, h.kernel, RunOptions{ResumeFrom: "stage9_nothing"})
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = h.orch.Run(ctx, h.kernel, RunOptions{StopAfter: StageAudience})
	assert.ErrorIs(t, err, ErrUnknownStage, "marketing stage in the content pipeline")

	_, err = h.orch.Run(ctx, h.kernel, RunOptions{Pipeline: "poetry"})
	assert.ErrorIs(t, err, ErrUnknownPipeline)

	_, err = h.orch.Run(ctx, h.kernel, RunOptions{ResumeFrom: StagePages, StopAfter: StageThemes})
	assert.Error(t, err)
	assert.Zero(t, h.llm.total())
}

func TestRun_StopAfter(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{StopAfter: StageThemes})
	require.NoError(t, err)
	got := statuses(res)
	assert.Equal(t, StatusCompleted, got[StageThemes])
	assert.Equal(t, StatusSkipped, got[StageTheses])
	assert.Zero(t, h.llm.count(promptTheses))

	ok, err := h.store.Has("test_book", StageTheses)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRun_MissingRequiredFields(t *testing.T) {
	h := newHarness(t)
	path := writeKernel(t, t.TempDir(), "Broken_kernel.json", `{"metadata": {"title": "Broken"}}`)

	_, err := h.orch.Run(context.Background(), path, RunOptions{})
	var mErr *kernel.MissingRequiredFieldError
	require.True(t, errors.As(err, &mErr))
	assert.Contains(t, mErr.Paths, "alignment_pattern.pattern_name")
	assert.Contains(t, mErr.Paths, "micro_devices")
}

func TestRun_StrictAndAdvisory(t *testing.T) {
	invented := strings.Replace(themesResponse, "justice is blind", "an invented line", 1)

	t.Run("advisory passes with warnings", func(t *testing.T) {
		h := newHarness(t)
		h.llm.responses[promptThemes] = invented

		res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
		require.NoError(t, err)
		sr, ok := res.Stage(StageThemes)
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, sr.Status)
		assert.Equal(t, 1, sr.Warnings)
		require.NotNil(t, sr.Report)
		assert.True(t, sr.Report.Passed())
	})

	t.Run("strict fails the stage", func(t *testing.T) {
		h := newHarness(t)
		h.llm.responses[promptThemes] = invented

		res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{Strict: true})
		var sErr *validation.StrictModeError
		require.True(t, errors.As(err, &sErr))
		assert.Equal(t, 1, sErr.Warnings)
		require.NotNil(t, res)
		assert.True(t, res.Failed())

		sr, ok := res.Stage(StageThemes)
		require.True(t, ok)
		assert.Equal(t, StatusFailed, sr.Status)
		_, reached := res.Stage(StageTheses)
		assert.False(t, reached, "run stops at the first failure")
		assert.Zero(t, h.llm.count(promptTheses))
	})

	t.Run("strict passes clean output", func(t *testing.T) {
		h := newHarness(t, WithMode(validation.ModeStrict))
		_, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
		require.NoError(t, err)
	})
}

func TestRun_ThemesDerivedSlug(t *testing.T) {
	h := newHarness(t)
	h.llm.responses[promptThemes] = strings.Replace(themesResponse, `"slug": "justice", `, "", 1)

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{StopAfter: StageThemes})
	require.NoError(t, err)
	sr, ok := res.Stage(StageThemes)
	require.True(t, ok)
	assert.Equal(t, 1, sr.Warnings)
	require.NotNil(t, sr.Report)
	require.Len(t, sr.Report.Warnings, 1)
	assert.Contains(t, sr.Report.Warnings[0], "themes[1].slug")

	var themes assembly.ThemeSet
	require.NoError(t, json.Unmarshal(h.read(t, StageThemes), &themes))
	assert.Equal(t, "justice", themes.Themes[1].Slug)
	assert.True(t, themes.Themes[1].SlugDerived)
	assert.False(t, themes.Themes[0].SlugDerived)
}

func TestRun_ThemesUnparseable(t *testing.T) {
	h := newHarness(t)
	h.llm.responses[promptThemes] = "I could not find any themes."

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), StageThemes)
	sr, _ := res.Stage(StageThemes)
	assert.Equal(t, StatusFailed, sr.Status)

	raw, rerr := os.ReadFile(filepath.Join(h.store.RunDir("test_book"), "stages", StageThemes+".raw"))
	require.NoError(t, rerr)
	assert.Equal(t, "I could not find any themes.", string(raw))
	ok, _ := h.store.Has("test_book", StageThemes)
	assert.False(t, ok, "no checkpoint for a failed stage")
}

func TestRun_TranslationFallback(t *testing.T) {
	h := newHarness(t)
	h.llm.responses[promptTranslate] = `{"type": "statement"}`

	_, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
	require.NoError(t, err)

	var pages assembly.Pages
	require.NoError(t, json.Unmarshal(h.read(t, StageTranslation), &pages))
	assert.Equal(t, []assembly.Block{{Type: assembly.BlockStatement, Text: "Quiet dread."}},
		pages.Hub.Zones.Knowledge.ReaderEffect.Blocks)
}

func TestRun_Render(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{Render: true})
	require.NoError(t, err)
	sr, ok := res.Stage(StageRender)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, sr.Status)
	assert.Zero(t, sr.Warnings, "generated links resolve")

	index, err := os.ReadFile(filepath.Join(h.distDir, "test_book", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "Short version.")
	assert.FileExists(t, filepath.Join(h.distDir, "test_book", "themes", "justice", "index.html"))
	assert.FileExists(t, filepath.Join(h.distDir, "test_book", "essay-guide", "index.html"))

	var manifest struct {
		Slug  string   `json:"slug"`
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal(h.read(t, StageRender), &manifest))
	assert.Equal(t, "test_book", manifest.Slug)
	assert.Len(t, manifest.Files, 4)

	// Rendering is never served from cache.
	res, err = h.orch.Run(context.Background(), h.kernel, RunOptions{Render: true})
	require.NoError(t, err)
	sr, _ = res.Stage(StageRender)
	assert.Equal(t, StatusCompleted, sr.Status)
}

func TestRenderSlug_FromPages(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), h.kernel, RunOptions{StopAfter: StagePages})
	require.NoError(t, err)

	rc := h.orch.RunContextFor("test_book", nil)
	manifest, err := RenderSlug(rc)
	require.NoError(t, err)
	assert.Equal(t, "test_book", manifest.Slug)

	index, err := os.ReadFile(filepath.Join(h.distDir, "test_book", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), "Test Book", "title comes from the extraction")
	assert.Contains(t, string(index), "A child learns the rules of a divided town.")
}

func TestRun_NoDeriver(t *testing.T) {
	h := newHarness(t, WithDeriver(nil))

	res, err := h.orch.Run(context.Background(), h.kernel, RunOptions{})
	require.Error(t, err)
	assert.Equal(t, StatusCompleted, statuses(res)[StageExtraction])
	assert.Equal(t, StatusFailed, statuses(res)[StageThemes])
}

func TestRun_RecordsLedger(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	h := newHarness(t, WithRecorder(l))
	ctx := context.Background()
	res, err := h.orch.Run(ctx, h.kernel, RunOptions{Pipeline: PipelineLayers})
	require.NoError(t, err)

	runs, err := l.History(ctx, "test_book", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, ledger.RunSucceeded, runs[0].Status)
	assert.Equal(t, PipelineLayers, runs[0].Pipeline)

	stages, err := l.Stages(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, StageLayers, stages[1].Stage)
	assert.Equal(t, string(StatusCompleted), stages[1].Status)
}

func TestRevalidate(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Run(context.Background(), h.kernel, RunOptions{StopAfter: StageThemes})
	require.NoError(t, err)

	k, err := kernel.Load(h.kernel)
	require.NoError(t, err)

	report, err := h.orch.Revalidate("test_book", StageThemes, k)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 2, report.References.ExactCount)

	_, err = h.orch.Revalidate("test_book", StageTheses, k)
	var missing *MissingCheckpointError
	assert.True(t, errors.As(err, &missing))

	_, err = h.orch.Revalidate("test_book", StageExtraction, k)
	assert.Error(t, err, "extraction has no validator")
}
