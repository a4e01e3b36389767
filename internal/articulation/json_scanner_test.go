package articulation

import (
	"strings"
	"testing"
)

func TestFindJSONCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple",
			input: `prefix {"key": "value"} suffix`,
			want:  []string{`{"key": "value"}`},
		},
		{
			name:  "nested",
			input: `start {"a": {"b": "c"}} end`,
			want:  []string{`{"a": {"b": "c"}}`},
		},
		{
			name:  "multiple",
			input: `obj1 {"id": 1} obj2 {"id": 2}`,
			want:  []string{`{"id": 1}`, `{"id": 2}`},
		},
		{
			name:  "array",
			input: `Here you go: [{"a": 1}, {"b": 2}] done`,
			want:  []string{`[{"a": 1}, {"b": 2}]`},
		},
		{
			name:  "string_with_braces",
			input: `{"key": "value with } inside"}`,
			want:  []string{`{"key": "value with } inside"}`},
		},
		{
			name:  "escaped_quote",
			input: `{"key": "value with \" inside"}`,
			want:  []string{`{"key": "value with \" inside"}`},
		},
		{
			name:  "quotes_in_prose",
			input: `The "themes" you asked for: {"themes": []} and that's it.`,
			want:  []string{`{"themes": []}`},
		},
		{
			name:  "incomplete",
			input: `prefix { incomplete`,
			want:  nil,
		},
		{
			name:  "malformed_braces",
			input: `} { valid } {`,
			want:  []string{`{ valid }`},
		},
		{
			name:  "escaped_backslash",
			input: `{"key": "value with \\ inside"}`,
			want:  []string{`{"key": "value with \\ inside"}`},
		},
		{
			name:  "unicode_near_quotes",
			input: `→ {"emoji": "🙂\"}", "ñ": "é"} ←`,
			want:  []string{`{"emoji": "🙂\"}", "ñ": "é"}`},
		},
		{
			name:  "empty_object",
			input: `{}`,
			want:  []string{`{}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findJSONCandidates(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d candidates (%q), want %d", len(got), got, len(tt.want))
			}
			for i, cand := range got {
				if cand != tt.want[i] {
					t.Errorf("candidate[%d] = %q, want %q", i, cand, tt.want[i])
				}
			}
		})
	}
}

func TestFindJSONCandidates_DeepNesting(t *testing.T) {
	input := strings.Repeat("{", 2000) + strings.Repeat("}", 2000)
	got := findJSONCandidates(input)
	if len(got) != 1 || len(got[0]) != 4000 {
		t.Fatalf("expected one 4000-byte candidate, got %d", len(got))
	}
}

func BenchmarkFindJSONCandidates(b *testing.B) {
	var sb strings.Builder
	sb.WriteString("Here are the message angles you asked for.\n```json\n")
	sb.WriteString(`{"angles": [`)
	for i := 0; i < 2000; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"channel": "social", "hook_type": "question", "message": "Why does {the pattern} matter?"}`)
	}
	sb.WriteString("]}\n```\nLet me know if you want more.")
	input := sb.String()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if len(findJSONCandidates(input)) == 0 {
			b.Fatal("no candidates found")
		}
	}
}
