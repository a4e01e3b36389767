package kernel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBookKernel = `{
  "metadata": {"title": "Test Book"},
  "alignment_pattern": {
    "pattern_name": "P",
    "core_dynamic": "D",
    "reader_effect": "E",
    "device_priorities": ["Foreshadowing"]
  },
  "micro_devices": [
    {"name": "Foreshadowing", "anchor_phrase": "q", "effect": "e", "assigned_section": "exposition", "chapter": 1}
  ]
}`

func writeKernel(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDeriveSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"The Giver", "the_giver"},
		{"  Bridge to Terabithia! ", "bridge_to_terabithia"},
		{"Test Book", "test_book"},
		{"Harry Potter & the Sorcerer's Stone", "harry_potter_the_sorcerers_stone"},
		{"Hatchet -- A Novel", "hatchet_a_novel"},
		// Separators at either end are trimmed, never kept as "title_".
		{"Title -", "title"},
		{"_Leading Underscore", "leading_underscore"},
		{"snake_case__title", "snake_case_title"},
		{"Cien años de soledad", "cien_años_de_soledad"},
		{"1984", "1984"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSlug(tt.title))
		})
	}
}

func TestDeriveSlug_Idempotent(t *testing.T) {
	titles := []string{
		"The Giver", "  Bridge to Terabithia! ", "A - B _ C", "-leading and trailing-",
		"Tabs\tand\nnewlines", "Ünïcödé Tïtlé", "___", "x",
	}
	for _, title := range titles {
		once := DeriveSlug(title)
		assert.Equal(t, once, DeriveSlug(once), "title %q", title)
	}
}

func TestSafeTitle(t *testing.T) {
	assert.Equal(t, "The_Giver", SafeTitle("The Giver"))
	assert.Equal(t, "Bridge_to_Terabithia", SafeTitle("  Bridge to Terabithia! "))
	assert.Equal(t, "Harry_Potter__the_Sorcerers_Stone", SafeTitle("Harry Potter & the Sorcerer's Stone"))
}

func TestLoad(t *testing.T) {
	path := writeKernel(t, t.TempDir(), "Test_Book_kernel.json", testBookKernel)

	k, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, k.Path)
	assert.Equal(t, "Test Book", k.Title())
	assert.Equal(t, "test_book", k.Slug())
	assert.Equal(t, "P", k.PatternName())
	assert.Equal(t, "D", k.CoreDynamic())
	assert.Equal(t, "E", k.ReaderEffect())
	assert.Equal(t, []string{"Foreshadowing"}, k.DevicePriorities())
	assert.Equal(t, []Device{{
		Name: "Foreshadowing", AnchorPhrase: "q", Effect: "e", AssignedSection: "exposition", Chapter: 1,
	}}, k.Devices())
	assert.Empty(t, k.Author())
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()

	for name, body := range map[string]string{
		"not_json_kernel.json": "{not json",
		"array_kernel.json":    `["a", "b"]`,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeKernel(t, dir, name, body)
			_, err := Load(path)
			var mErr *MalformedInputError
			require.True(t, errors.As(err, &mErr), "got %v", err)
			assert.Equal(t, path, mErr.Path)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLookup(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{
			"b":     "value",
			"empty": "",
			"list":  []any{},
			"obj":   map[string]any{},
			"null":  nil,
			"zero":  float64(0),
			"flag":  false,
		},
		"top": "x",
	}

	v, ok := Lookup(doc, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	for _, path := range []string{"a.empty", "a.list", "a.obj", "a.null", "a.missing", "top.child", "", "nope"} {
		_, ok := Lookup(doc, path)
		assert.False(t, ok, "path %q should be missing", path)
	}

	// Zero values other than the empty ones are present.
	_, ok = Lookup(doc, "a.zero")
	assert.True(t, ok)
	_, ok = Lookup(doc, "a.flag")
	assert.True(t, ok)
}

func TestValidateRequired_ReportsAllMissing(t *testing.T) {
	k, err := Parse([]byte(`{"metadata":{"title":""},"alignment_pattern":{"pattern_name":"P"}}`))
	require.NoError(t, err)

	missing := ValidateRequired(k, DefaultRequiredPaths)
	assert.Equal(t, []string{
		"metadata.title",
		"alignment_pattern.core_dynamic",
		"alignment_pattern.reader_effect",
		"micro_devices",
	}, missing)

	err = RequireFields(k, DefaultRequiredPaths)
	var mErr *MissingRequiredFieldError
	require.True(t, errors.As(err, &mErr))
	assert.Len(t, mErr.Paths, 4)
	assert.Contains(t, err.Error(), "micro_devices")
}

func TestValidateRequired_TestBookPasses(t *testing.T) {
	k, err := Parse([]byte(testBookKernel))
	require.NoError(t, err)

	assert.Empty(t, ValidateRequired(k, DefaultRequiredPaths))
	assert.NoError(t, RequireFields(k, DefaultRequiredPaths))

	optional := CheckOptional(k, DefaultOptionalPaths)
	assert.Contains(t, optional, "metadata.author")
	assert.NotContains(t, optional, "alignment_pattern.device_priorities")
}

func TestDeviceNames_DistinctInOrder(t *testing.T) {
	k := FromMap(map[string]any{
		"micro_devices": []any{
			map[string]any{"name": "Irony"},
			map[string]any{"name": "Symbolism"},
			"not an object",
			map[string]any{"name": "Irony"},
			map[string]any{"name": ""},
		},
	})
	assert.Equal(t, []string{"Irony", "Symbolism"}, k.DeviceNames())
	assert.Len(t, k.Devices(), 4)
}

func TestFindLatest(t *testing.T) {
	dir := t.TempDir()
	older := writeKernel(t, dir, "The_Giver_kernel_v1.json", testBookKernel)
	newer := writeKernel(t, dir, "The_Giver_kernel_v2.json", testBookKernel)
	writeKernel(t, dir, "Hatchet_kernel.json", testBookKernel)

	now := time.Now()
	require.NoError(t, os.Chtimes(older, now, now))
	require.NoError(t, os.Chtimes(newer, now.Add(-time.Hour), now.Add(-time.Hour)))

	got, err := FindLatest(dir, "The Giver")
	require.NoError(t, err)
	assert.Equal(t, older, got, "newest mtime wins, not lexical order")
}

func TestFindLatest_NotFound(t *testing.T) {
	_, err := FindLatest(t.TempDir(), "Missing Title")
	assert.True(t, errors.Is(err, ErrKernelNotFound))

	_, err = FindLatest(t.TempDir(), "!!!")
	assert.True(t, errors.Is(err, ErrKernelNotFound))
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeKernel(t, dir, "b_kernel.json", testBookKernel)
	writeKernel(t, dir, "a_kernel_v2.json", testBookKernel)
	writeKernel(t, dir, "notes.json", "{}")

	found, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a_kernel_v2.json", filepath.Base(found[0]))
	assert.Equal(t, "b_kernel.json", filepath.Base(found[1]))

	assert.True(t, IsKernelFile(found[0]))
	assert.False(t, IsKernelFile(filepath.Join(dir, "notes.json")))
}
