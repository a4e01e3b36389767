// Package kernel loads literary-analysis kernels and derives the run slug
// every stage keys its checkpoints on.
//
// A kernel is held as a generic JSON tree so fields this package does not
// know about survive a round trip into later stages.
package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"patternpress/internal/logging"
)

// Kernel is a loaded kernel document.
type Kernel struct {
	Path string
	Doc  map[string]any
}

// Device is one entry of micro_devices.
type Device struct {
	Name            string `json:"name"`
	AnchorPhrase    string `json:"anchor_phrase"`
	Effect          string `json:"effect"`
	AssignedSection string `json:"assigned_section"`
	Chapter         int    `json:"chapter"`
}

// Load reads and parses a kernel file.
func Load(path string) (*Kernel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel: %w", err)
	}
	k, err := Parse(data)
	if err != nil {
		if mErr, ok := err.(*MalformedInputError); ok {
			mErr.Path = path
		}
		return nil, err
	}
	k.Path = path
	logging.KernelDebug("Loaded kernel %s (title=%q, devices=%d)", filepath.Base(path), k.Title(), len(k.Devices()))
	return k, nil
}

// Parse decodes kernel bytes. The root must be a JSON object.
func Parse(data []byte) (*Kernel, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &MalformedInputError{Err: err}
	}
	doc, ok := root.(map[string]any)
	if !ok {
		return nil, &MalformedInputError{Err: fmt.Errorf("root is %T, want object", root)}
	}
	return &Kernel{Doc: doc}, nil
}

// FromMap wraps an already decoded document.
func FromMap(doc map[string]any) *Kernel {
	return &Kernel{Doc: doc}
}

// String returns the value at a dotted path when it is a string.
func (k *Kernel) String(path string) string {
	v, ok := Lookup(k.Doc, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Strings returns the string elements of the list at a dotted path.
func (k *Kernel) Strings(path string) []string {
	v, ok := Lookup(k.Doc, path)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns the object at a dotted path, or nil.
func (k *Kernel) Map(path string) map[string]any {
	v, ok := Lookup(k.Doc, path)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func (k *Kernel) Title() string        { return k.String("metadata.title") }
func (k *Kernel) Author() string       { return k.String("metadata.author") }
func (k *Kernel) PatternName() string  { return k.String("alignment_pattern.pattern_name") }
func (k *Kernel) CoreDynamic() string  { return k.String("alignment_pattern.core_dynamic") }
func (k *Kernel) ReaderEffect() string { return k.String("alignment_pattern.reader_effect") }

// DevicePriorities returns alignment_pattern.device_priorities in kernel order.
func (k *Kernel) DevicePriorities() []string {
	return k.Strings("alignment_pattern.device_priorities")
}

// Slug is DeriveSlug applied to the kernel title.
func (k *Kernel) Slug() string {
	return DeriveSlug(k.Title())
}

// Devices decodes micro_devices. Entries that are not objects are skipped.
func (k *Kernel) Devices() []Device {
	v, ok := Lookup(k.Doc, "micro_devices")
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	devices := make([]Device, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		d := Device{
			Name:            stringField(m, "name"),
			AnchorPhrase:    stringField(m, "anchor_phrase"),
			Effect:          stringField(m, "effect"),
			AssignedSection: stringField(m, "assigned_section"),
		}
		if n, ok := m["chapter"].(float64); ok {
			d.Chapter = int(n)
		}
		devices = append(devices, d)
	}
	return devices
}

// DeviceNames returns the distinct device names in first-seen order.
func (k *Kernel) DeviceNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range k.Devices() {
		if d.Name == "" || seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		names = append(names, d.Name)
	}
	return names
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
