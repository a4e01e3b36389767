package assembly

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternpress/internal/kernel"
)

func extraction() *kernel.Extraction {
	chapters := 31
	return &kernel.Extraction{
		Metadata: kernel.ExtractMetadata{Title: "Test Book", Author: "A. Writer", BookSlug: "test_book"},
		Pattern: kernel.ExtractPattern{
			Name:             "Innocence Shattered",
			CoreDynamic:      "A child learns the rules.",
			ReaderEffect:     "Quiet dread.",
			DevicePriorities: []string{"Foreshadowing", "Symbolism", "Irony", "Motif", "Imagery", "Tone"},
		},
		MacroVariables: kernel.MacroVariables{
			Voice:     kernel.Voice{POVDescription: "Retrospective first person"},
			Structure: kernel.Structure{TotalChapters: &chapters},
			Rhetoric:  kernel.Rhetoric{Tone: "Wry"},
		},
	}
}

var testThemes = []Theme{
	{
		Name: "Innocence", Slug: "innocence", Description: "Loss of innocence.", PatternConnection: "Core of the pattern.",
		DeviceExamples: []DeviceExample{{DeviceName: "Symbolism", Quote: "The mockingbird sang.", Effect: "Marks harm."}},
	},
	{Name: "Justice", Slug: "justice", Description: "Courtroom limits."},
}

var testTheses = []Thesis{{Focus: "Theme-focused", Statement: "Lee shows...", StructureNotes: "Three paragraphs"}}

func TestAssembleHub(t *testing.T) {
	hub, err := AssembleHub(extraction(), testThemes)
	require.NoError(t, err)

	assert.Equal(t, "/test_book/", hub.URL)
	assert.Equal(t, "Foreshadowing + Symbolism + Irony", hub.Zones.Pedagogy.WorkedExample.Formula)
	assert.Equal(t, "31 chapters", hub.Zones.Knowledge.QuickReference.Structure)
	assert.Equal(t, "Wry", hub.Zones.Knowledge.QuickReference.Tone)

	want := []Link{
		{Text: "Innocence", URL: "themes/innocence/"},
		{Text: "Justice", URL: "themes/justice/"},
		{Text: "Build Your Thesis", URL: "essay-guide/", Emphasis: true},
	}
	if diff := cmp.Diff(want, hub.Zones.CTA.Links); diff != "" {
		t.Errorf("hub links mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleHub_Fallbacks(t *testing.T) {
	s1 := extraction()
	s1.Pattern.DevicePriorities = nil
	s1.MacroVariables.Structure.TotalChapters = nil

	hub, err := AssembleHub(s1, nil)
	require.NoError(t, err)
	assert.Equal(t, "Device 1 + Device 2 + Device 3", hub.Zones.Pedagogy.WorkedExample.Formula)
	assert.Equal(t, "Multiple chapters", hub.Zones.Knowledge.QuickReference.Structure)
	assert.Len(t, hub.Zones.CTA.Links, 1)
}

func TestAssembleTheme(t *testing.T) {
	page, err := AssembleTheme(extraction(), testThemes[0], 0)
	require.NoError(t, err)

	assert.Equal(t, "/test_book/themes/innocence/", page.URL)
	assert.Equal(t, "Knowledge: Innocence", page.Zones.Knowledge.Badge)
	want := []Step{
		{Step: 1, Title: "Identify the Pattern's Effect", Content: "Quiet dread."},
		{Step: 2, Title: "Connect Devices to This Effect", Content: "See how Symbolism and other devices create this theme"},
		{Step: 3, Title: "Articulate Theme Meaning", Content: "Loss of innocence."},
	}
	if diff := cmp.Diff(want, page.Zones.Pedagogy.ThreeSteps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	page, err = AssembleTheme(extraction(), testThemes[1], 1)
	require.NoError(t, err)
	assert.Contains(t, page.Zones.Pedagogy.ThreeSteps[1].Content, "the key device")
	assert.NotNil(t, page.Zones.Knowledge.DeviceExamples)
}

func TestAssembleTheme_MissingFields(t *testing.T) {
	_, err := AssembleTheme(extraction(), Theme{Name: "No slug"}, 2)
	var aErr *AssemblyError
	require.True(t, errors.As(err, &aErr))
	assert.Equal(t, "slug", aErr.Field)
	assert.Equal(t, 2, aErr.Index)

	_, err = AssemblePages(extraction(), []Theme{testThemes[0], {Slug: "nameless"}}, nil)
	require.True(t, errors.As(err, &aErr))
	assert.Equal(t, "name", aErr.Field)
	assert.Equal(t, 1, aErr.Index)
}

func TestAssembleEssayGuide(t *testing.T) {
	guide, err := AssembleEssayGuide(extraction(), testThemes, testTheses)
	require.NoError(t, err)

	k := guide.Zones.Knowledge
	assert.Equal(t, "How to Write About Test Book", k.Heading)
	assert.Equal(t, []string{"Innocence", "Justice"}, k.ThesisComponents.Themes)
	assert.Equal(t, []string{"Foreshadowing", "Symbolism", "Irony", "Motif", "Imagery"}, k.ThesisComponents.Devices)
	assert.Equal(t, "How does Innocence Shattered work?", guide.Zones.Pedagogy.FourSteps[2].Content)
	assert.Empty(t, StaticContent.FourSteps[2].Content, "static steps are not mutated")
}

func TestAssemblePages_Deterministic(t *testing.T) {
	a, err := AssemblePages(extraction(), testThemes, testTheses)
	require.NoError(t, err)
	b, err := AssemblePages(extraction(), testThemes, testTheses)
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
	assert.Len(t, a.Themes, 2)
}

func TestContent_JSON(t *testing.T) {
	pages, err := AssemblePages(extraction(), testThemes, testTheses)
	require.NoError(t, err)

	fields := pages.ProseFields()
	require.Len(t, fields, 6)
	assert.Equal(t, "themes.justice.pattern_connection", fields[5].Name)
	fields[0].Content.Blocks = []Block{
		{Type: BlockStatement, Text: "A child learns."},
		{Type: BlockBullets, Items: []string{"rules", "limits"}},
	}

	data, err := json.Marshal(pages)
	require.NoError(t, err)

	var back Pages
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(pages, &back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, back.Hub.Zones.Knowledge.Description.Translated())
	assert.False(t, back.Hub.Zones.Knowledge.ReaderEffect.Translated())
}

func TestContent_RejectsObjects(t *testing.T) {
	var c Content
	assert.Error(t, json.Unmarshal([]byte(`{"type":"statement"}`), &c))
}
