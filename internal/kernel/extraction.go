package kernel

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ExtractionSchemaVersion is written into every stage1 extraction.
const ExtractionSchemaVersion = "1.0"

// Extraction is the normalised kernel view produced by stage1_extraction.
// Every later stage reads the kernel through it.
type Extraction struct {
	SchemaVersion   string          `json:"schema_version"`
	ExtractionDate  string          `json:"extraction_date"`
	SourceKernel    string          `json:"source_kernel"`
	Metadata        ExtractMetadata `json:"metadata"`
	Pattern         ExtractPattern  `json:"pattern"`
	MacroVariables  MacroVariables  `json:"macro_variables"`
	DeviceMediation DeviceMediation `json:"device_mediation"`
	MicroDevices    []ExtractDevice `json:"micro_devices"`
	Validation      ExtractCheck    `json:"validation"`
}

type ExtractMetadata struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	BookSlug string `json:"book_slug"`
}

type ExtractPattern struct {
	Name             string   `json:"name"`
	CoreDynamic      string   `json:"core_dynamic"`
	ReaderEffect     string   `json:"reader_effect"`
	DevicePriorities []string `json:"device_priorities"`
}

type MacroVariables struct {
	Voice     Voice     `json:"voice"`
	Structure Structure `json:"structure"`
	Rhetoric  Rhetoric  `json:"rhetoric"`
}

type Voice struct {
	POV                     string `json:"pov"`
	POVDescription          string `json:"pov_description"`
	Focalization            string `json:"focalization"`
	FocalizationDescription string `json:"focalization_description"`
}

type Structure struct {
	// TotalChapters is nil when the kernel has no estimate.
	TotalChapters    *int   `json:"total_chapters"`
	Chronology       string `json:"chronology"`
	Pacing           string `json:"pacing"`
	ChapterStructure string `json:"chapter_structure"`
}

type Rhetoric struct {
	Tone     string `json:"tone"`
	Register string `json:"register"`
	Stance   string `json:"stance"`
}

type DeviceMediation struct {
	Summary string `json:"summary"`
}

type ExtractDevice struct {
	Name         string `json:"name"`
	AnchorPhrase string `json:"anchor_phrase"`
	Effect       string `json:"effect"`
	Section      string `json:"section"`
	Chapter      *int   `json:"chapter"`
}

type ExtractCheck struct {
	PatternPresent  bool     `json:"pattern_present"`
	DeviceCount     int      `json:"device_count"`
	SectionsCovered []string `json:"sections_covered"`
	QuotesAvailable bool     `json:"quotes_available"`
}

// Extract builds the stage1 view of k. now stamps extraction_date. The
// second result lists non-fatal notes such as a derived priority list.
func Extract(k *Kernel, now time.Time) (*Extraction, []string) {
	var notes []string

	priorities := k.DevicePriorities()
	if len(priorities) == 0 {
		priorities = TopDevices(k, 5)
		notes = append(notes, "device_priorities derived from micro_devices counts")
	}
	if priorities == nil {
		priorities = []string{}
	}

	source := ""
	if k.Path != "" {
		source = filepath.Base(k.Path)
	}
	title := strings.TrimSpace(k.Title())
	x := &Extraction{
		SchemaVersion:  ExtractionSchemaVersion,
		ExtractionDate: now.Format(time.RFC3339),
		SourceKernel:   source,
		Metadata: ExtractMetadata{
			Title:    title,
			Author:   strings.TrimSpace(k.Author()),
			BookSlug: DeriveSlug(title),
		},
		Pattern: ExtractPattern{
			Name:             k.PatternName(),
			CoreDynamic:      k.CoreDynamic(),
			ReaderEffect:     k.ReaderEffect(),
			DevicePriorities: priorities,
		},
		MacroVariables: MacroVariables{
			Voice: Voice{
				POV:                     k.String("macro_variables.narrative.voice.pov"),
				POVDescription:          k.String("macro_variables.narrative.voice.pov_description"),
				Focalization:            k.String("macro_variables.narrative.voice.focalization"),
				FocalizationDescription: k.String("macro_variables.narrative.voice.focalization_description"),
			},
			Structure: Structure{
				TotalChapters:    k.intAt("text_structure.total_chapters_estimate"),
				Chronology:       k.String("macro_variables.narrative.structure.chronology"),
				Pacing:           k.String("macro_variables.narrative.structure.pacing"),
				ChapterStructure: k.String("macro_variables.narrative.structure.chapter_structure"),
			},
			Rhetoric: Rhetoric{
				Tone:     k.String("macro_variables.rhetoric.voice.tone"),
				Register: k.String("macro_variables.rhetoric.voice.register"),
				Stance:   k.String("macro_variables.rhetoric.voice.stance"),
			},
		},
		DeviceMediation: DeviceMediation{Summary: k.String("macro_variables.device_mediation.summary")},
	}

	sections := make(map[string]bool)
	quotes := true
	x.MicroDevices = []ExtractDevice{}
	for _, d := range k.Devices() {
		ed := ExtractDevice{
			Name:         d.Name,
			AnchorPhrase: d.AnchorPhrase,
			Effect:       d.Effect,
			Section:      d.AssignedSection,
		}
		if d.Chapter != 0 {
			ch := d.Chapter
			ed.Chapter = &ch
		}
		if d.AssignedSection != "" {
			sections[d.AssignedSection] = true
		}
		if d.AnchorPhrase == "" {
			quotes = false
		}
		x.MicroDevices = append(x.MicroDevices, ed)
	}

	covered := make([]string, 0, len(sections))
	for s := range sections {
		covered = append(covered, s)
	}
	sort.Strings(covered)
	x.Validation = ExtractCheck{
		PatternPresent:  x.Pattern.Name != "",
		DeviceCount:     len(x.MicroDevices),
		SectionsCovered: covered,
		QuotesAvailable: quotes,
	}
	return x, notes
}

// TopDevices returns up to n device names ordered by occurrence count.
// Ties keep first-seen order.
func TopDevices(k *Kernel, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, d := range k.Devices() {
		if d.Name == "" {
			continue
		}
		if counts[d.Name] == 0 {
			order = append(order, d.Name)
		}
		counts[d.Name]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func (k *Kernel) intAt(path string) *int {
	v, ok := Lookup(k.Doc, path)
	if !ok {
		return nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	n := int(f)
	return &n
}
