package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"patternpress/internal/checkpoint"
	"patternpress/internal/perception"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testBookKernel = `{
  "metadata": {"title": "Test Book", "author": "A. Writer"},
  "alignment_pattern": {
    "pattern_name": "Innocence Shattered",
    "core_dynamic": "A child learns the rules of a divided town.",
    "reader_effect": "Quiet dread.",
    "device_priorities": ["Foreshadowing", "Symbolism", "Irony"]
  },
  "micro_devices": [
    {"name": "Foreshadowing", "anchor_phrase": "the mockingbird sang", "effect": "builds dread", "assigned_section": "exposition", "chapter": 1},
    {"name": "Symbolism", "anchor_phrase": "a closed door", "effect": "marks exclusion", "assigned_section": "rising_action", "chapter": 5},
    {"name": "Irony", "anchor_phrase": "justice is blind", "effect": "undercuts the court", "assigned_section": "climax", "chapter": 20}
  ]
}`

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// Prompt first lines, used to route fake responses.
const (
	promptThemes     = "You are identifying the major themes"
	promptTheses     = "You are writing example thesis statements"
	promptTranslate  = "Translate this for Year 10-12 students"
	promptAudience   = "You are profiling the audience"
	promptAngles     = "You are deriving message angles"
	promptDrafts     = "You are drafting exploratory copy"
	promptEvaluation = "You are evaluating"
	promptRefined    = "You are refining final channel content"
	promptLayers     = "You are converting a technical literary analysis kernel"
)

const themesResponse = "```json\n" + `{"themes": [
  {"name": "Innocence", "slug": "innocence", "description": "Loss of innocence.", "pattern_connection": "Core of the pattern.",
   "device_examples": [{"device_name": "Foreshadowing", "quote": "\"The mockingbird sang.\"", "effect": "Marks harm."}]},
  {"name": "Justice", "slug": "justice", "description": "Courtroom limits.", "pattern_connection": "The town's rules.",
   "device_examples": [{"device_name": "Irony", "quote": "justice is blind", "effect": "Undercuts the court."}]}
]}` + "\n```"

const thesesResponse = `{"theses": [{"focus": "Theme-focused", "statement": "Lee shows innocence breaking.", "structure_notes": "Three paragraphs"}]}`

const translateResponse = `[{"type": "statement", "text": "Short version."}, {"type": "bullets", "items": ["one", "two"]}]`

const audienceResponse = `{"segments": [{"name": "Students", "awareness_stage": "problem_aware", "pain_point": "Essay panic",
  "search_terms": ["test book themes", "test book essay", "test book irony"],
  "kernel_references": {"devices": ["Irony"], "pattern": "Innocence Shattered"}}]}`

const anglesResponse = `{"angles": [
  {"channel": "social", "message": "Angle one", "pain_point": "Essay panic", "kernel_elements": ["Irony"], "why_this_derives": "Irony drives it."},
  {"channel": "social", "message": "Angle two", "pain_point": "Essay panic", "kernel_elements": ["Symbolism"], "why_this_derives": "Doors."},
  {"channel": "social", "message": "Angle three", "pain_point": "Essay panic", "kernel_elements": ["Foreshadowing"], "why_this_derives": "Dread."}
]}`

const draftsResponse = `{"variations": [{"text": "Variation A", "kernel_references": ["Symbolism"]}, {"text": "Variation B"}]}`

const evaluationResponse = `{"evaluations": [
  {"angle_id": 1, "scores": {"memorable": 8, "differentiating": 8, "pattern_anchored": 8, "funnel_continuous": 8}, "total_score": 32},
  {"angle_id": 2, "scores": {"memorable": 7, "differentiating": 7, "pattern_anchored": 7, "funnel_continuous": 7}, "total_score": 28},
  {"angle_id": 3, "scores": {"memorable": 7, "differentiating": 7, "pattern_anchored": 7, "funnel_continuous": 7}, "total_score": 28}
], "winner": {"angle_id": 1, "total_score": 32, "core_message": "Innocence breaks quietly", "agitation_register": "urgent", "solution_register": "calm"}}`

const refinedResponse = `{"content_blocks": {
  "social": {"final_content": "Post", "constraint_validation": {"job_accomplished": true, "thread_visible": true}, "kernel_references": ["Irony"]},
  "youtube": {"final_content": "Script", "constraint_validation": {"job_accomplished": true, "thread_visible": true}},
  "seo": {"final_content": "Article", "constraint_validation": {"job_accomplished": true, "thread_visible": true}},
  "guide": {"final_content": "Guide", "constraint_validation": {"job_accomplished": true, "thread_visible": true}}
}}`

const layersResponse = `{
  "layer_1_whats_happening": {"who_tells_it": "Scout", "what_we_experience": "A trial", "how_it_feels": "Tense"},
  "layer_2_meaning_by_section": [
    {"section": "Exposition"}, {"section": "Rising Action"}, {"section": "Climax"},
    {"section": "Falling Action"}, {"section": "Resolution"}
  ],
  "layer_3_connections": {"step_1": "a", "step_2": "b", "step_3": "c", "pattern_name": "Innocence Shattered"},
  "layer_4_thesis": {"thesis_sentence": "Lee shows innocence breaking."}
}`

var defaultResponses = map[string]string{
	promptThemes:     themesResponse,
	promptTheses:     thesesResponse,
	promptTranslate:  translateResponse,
	promptAudience:   audienceResponse,
	promptAngles:     anglesResponse,
	promptDrafts:     draftsResponse,
	promptEvaluation: evaluationResponse,
	promptRefined:    refinedResponse,
	promptLayers:     layersResponse,
}

// fakeLLM answers by prompt prefix and counts calls per prefix.
type fakeLLM struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
	prompts   []string
	// override, when it returns true, replaces the canned response.
	override func(prompt string) (string, bool)
	// fail, when it returns an error, fails the call.
	fail func(prompt string) error
}

func newFakeLLM() *fakeLLM {
	responses := make(map[string]string, len(defaultResponses))
	for k, v := range defaultResponses {
		responses[k] = v
	}
	return &fakeLLM{responses: responses, calls: make(map[string]int)}
}

func (f *fakeLLM) Complete(_ context.Context, req perception.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.Prompt)
	for prefix, resp := range f.responses {
		if !strings.HasPrefix(req.Prompt, prefix) {
			continue
		}
		f.calls[prefix]++
		if f.fail != nil {
			if err := f.fail(req.Prompt); err != nil {
				return "", err
			}
		}
		if f.override != nil {
			if out, ok := f.override(req.Prompt); ok {
				return out, nil
			}
		}
		return resp, nil
	}
	f.calls["unknown"]++
	return "", errors.New("no canned response")
}

func (f *fakeLLM) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[prefix]
}

func (f *fakeLLM) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func writeKernel(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type harness struct {
	orch    *Orchestrator
	llm     *fakeLLM
	store   *checkpoint.Store
	kernel  string
	distDir string
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := checkpoint.NewStore(filepath.Join(root, "outputs"))
	require.NoError(t, err)

	llm := newFakeLLM()
	deriver := &perception.Deriver{Client: llm, Policy: perception.RetryPolicy{MaxAttempts: 1}}
	dist := filepath.Join(root, "dist")
	var ids atomic.Int64
	base := []Option{
		WithDeriver(deriver),
		WithDistDir(dist),
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string {
			return fmt.Sprintf("run-%d", ids.Add(1))
		}),
	}
	return &harness{
		orch:    New(store, append(base, opts...)...),
		llm:     llm,
		store:   store,
		kernel:  writeKernel(t, root, "Test_Book_kernel.json", testBookKernel),
		distDir: dist,
	}
}

func (h *harness) read(t *testing.T, stage string) []byte {
	t.Helper()
	data, err := os.ReadFile(h.store.Path("test_book", stage))
	require.NoError(t, err)
	return data
}
