package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func TestExtract_TestBook(t *testing.T) {
	path := writeKernel(t, t.TempDir(), "Test_Book_kernel.json", testBookKernel)
	k, err := Load(path)
	require.NoError(t, err)

	x, notes := Extract(k, fixedNow)
	assert.Empty(t, notes)
	assert.Equal(t, "1.0", x.SchemaVersion)
	assert.Equal(t, "2025-03-14T09:30:00Z", x.ExtractionDate)
	assert.Equal(t, "Test_Book_kernel.json", x.SourceKernel)
	assert.Equal(t, ExtractMetadata{Title: "Test Book", BookSlug: "test_book"}, x.Metadata)
	assert.Equal(t, ExtractPattern{Name: "P", CoreDynamic: "D", ReaderEffect: "E", DevicePriorities: []string{"Foreshadowing"}}, x.Pattern)
	require.Len(t, x.MicroDevices, 1)
	assert.Equal(t, "exposition", x.MicroDevices[0].Section)
	require.NotNil(t, x.MicroDevices[0].Chapter)
	assert.Equal(t, 1, *x.MicroDevices[0].Chapter)
	assert.Nil(t, x.MacroVariables.Structure.TotalChapters)
	assert.Equal(t, ExtractCheck{PatternPresent: true, DeviceCount: 1, SectionsCovered: []string{"exposition"}, QuotesAvailable: true}, x.Validation)
}

func TestExtract_DerivesPriorities(t *testing.T) {
	k, err := Parse([]byte(`{
	  "metadata": {"title": "Counted"},
	  "alignment_pattern": {"pattern_name": "P"},
	  "text_structure": {"total_chapters_estimate": 27},
	  "micro_devices": [
	    {"name": "Irony"}, {"name": "Imagery"}, {"name": "Imagery"},
	    {"name": "Motif"}, {"name": "Irony"}, {"name": "Simile"},
	    {"name": "Tone"}, {"name": "Dialogue", "anchor_phrase": "x"}
	  ]
	}`))
	require.NoError(t, err)

	x, notes := Extract(k, fixedNow)
	assert.Equal(t, []string{"device_priorities derived from micro_devices counts"}, notes)
	assert.Equal(t, []string{"Irony", "Imagery", "Motif", "Simile", "Tone"}, x.Pattern.DevicePriorities)
	assert.Equal(t, "", x.SourceKernel)
	require.NotNil(t, x.MacroVariables.Structure.TotalChapters)
	assert.Equal(t, 27, *x.MacroVariables.Structure.TotalChapters)
	assert.False(t, x.Validation.QuotesAvailable)
	assert.Empty(t, x.Validation.SectionsCovered)
}

func TestTopDevices_Empty(t *testing.T) {
	k := FromMap(map[string]any{})
	assert.Empty(t, TopDevices(k, 5))

	x, _ := Extract(k, fixedNow)
	assert.NotNil(t, x.Pattern.DevicePriorities)
	assert.NotNil(t, x.MicroDevices)
}
