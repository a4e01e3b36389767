package config

// PipelineConfig selects the stage list and kernel field requirements.
type PipelineConfig struct {
	Name   string `yaml:"name"`   // content, marketing, layers
	Strict bool   `yaml:"strict"` // validation warnings fail the stage

	// RequiredPaths overrides the kernel's required dotted paths when non-empty.
	RequiredPaths []string `yaml:"required_paths"`
	// OptionalPaths overrides the kernel's optional dotted paths when non-empty.
	OptionalPaths []string `yaml:"optional_paths"`

	// BatchConcurrency is the number of kernels a batch run processes at once.
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// ValidationConfig holds the fuzzy-matching thresholds. They are tuned by
// trial, not derived.
type ValidationConfig struct {
	SnippetRadius   int `yaml:"snippet_radius"`
	MinOverlapWords int `yaml:"min_overlap_words"`
	WeakThreshold   int `yaml:"weak_threshold"`
}
