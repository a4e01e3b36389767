// Package pipeline runs the stage lists that turn a kernel into study pages,
// marketing copy or layered summaries. Every stage output is checkpointed, so
// a run resumes where the last one stopped.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"patternpress/internal/checkpoint"
	"patternpress/internal/kernel"
	"patternpress/internal/validation"
)

// Kind classifies what a stage does.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindDerivation Kind = "derivation"
	KindAssembly   Kind = "assembly"
	KindRendering  Kind = "rendering"
)

// Status is the outcome of one stage in one run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Pipeline names.
const (
	PipelineContent   = "content"
	PipelineMarketing = "marketing"
	PipelineLayers    = "layers"
)

// ErrUnknownStage is returned for a stage name that is not in the pipeline.
var ErrUnknownStage = errors.New("unknown stage")

// ErrUnknownPipeline is returned for a pipeline name that does not exist.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Stage is one step of a pipeline.
type Stage interface {
	Name() string
	Kind() Kind
	Run(ctx context.Context, rc *RunContext) (any, error)
}

// Checker is implemented by stages whose output has a validator.
type Checker interface {
	Check(rc *RunContext, doc any) *validation.Report
}

// Deriver is the LLM call surface the stages use. *perception.Deriver
// implements it.
type Deriver interface {
	Derive(ctx context.Context, template string, subs map[string]string) (string, error)
	DeriveObject(ctx context.Context, template string, subs map[string]string) (map[string]any, string, error)
}

// RunContext is what a stage sees of its run.
type RunContext struct {
	RunID      string
	Slug       string
	KernelPath string
	Kernel     *kernel.Kernel
	Store      *checkpoint.Store
	Deriver    Deriver
	Validator  *validation.Validator
	DistDir    string
	Now        func() time.Time

	extraction *kernel.Extraction
}

// Load decodes an earlier stage's checkpoint into dst. A missing checkpoint
// is an error naming the stage.
func (rc *RunContext) Load(stage string, dst any) error {
	ok, err := rc.Store.ReadInto(rc.Slug, stage, dst)
	if err != nil {
		return err
	}
	if !ok {
		return &MissingCheckpointError{Stage: stage}
	}
	return nil
}

// Extraction returns the stage1 output of this run.
func (rc *RunContext) Extraction() (*kernel.Extraction, error) {
	if rc.extraction != nil {
		return rc.extraction, nil
	}
	var x kernel.Extraction
	if err := rc.Load(StageExtraction, &x); err != nil {
		return nil, err
	}
	rc.extraction = &x
	return rc.extraction, nil
}

// MissingCheckpointError names a stage whose output a later stage needs.
type MissingCheckpointError struct {
	Stage string
}

func (e *MissingCheckpointError) Error() string {
	return fmt.Sprintf("missing checkpoint %s", e.Stage)
}

// StageResult records one stage of a run.
type StageResult struct {
	Stage    string             `json:"stage"`
	Status   Status             `json:"status"`
	Duration time.Duration      `json:"duration"`
	Warnings int                `json:"warnings"`
	Report   *validation.Report `json:"report,omitempty"`
	Err      error              `json:"-"`
}

// RunResult is the outcome of one Orchestrator.Run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Slug       string        `json:"slug"`
	KernelPath string        `json:"kernel_path"`
	Pipeline   string        `json:"pipeline"`
	Stages     []StageResult `json:"stages"`
}

// Failed reports whether any stage failed.
func (r *RunResult) Failed() bool {
	return r.Err() != nil
}

// Err returns the error of the first failed stage.
func (r *RunResult) Err() error {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return s.Err
		}
	}
	return nil
}

// Stage returns the result for name, if that stage was reached.
func (r *RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// stage is the catalogue's Stage implementation.
type stage struct {
	name  string
	kind  Kind
	run   func(ctx context.Context, rc *RunContext) (any, error)
	check func(rc *RunContext, doc any) *validation.Report
}

func (s *stage) Name() string { return s.name }
func (s *stage) Kind() Kind   { return s.kind }

func (s *stage) Run(ctx context.Context, rc *RunContext) (any, error) {
	return s.run(ctx, rc)
}

func (s *stage) Check(rc *RunContext, doc any) *validation.Report {
	if s.check == nil {
		return nil
	}
	return s.check(rc, doc)
}

// decode converts a stage output to the generic form validators read.
func decode(data json.RawMessage) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// convert re-decodes a generic document into a typed one.
func convert(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
