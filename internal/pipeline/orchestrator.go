package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"patternpress/internal/checkpoint"
	"patternpress/internal/config"
	"patternpress/internal/kernel"
	"patternpress/internal/ledger"
	"patternpress/internal/logging"
	"patternpress/internal/perception"
	"patternpress/internal/validation"
)

// Recorder receives run and stage results. *ledger.Ledger implements it.
type Recorder interface {
	StartRun(ctx context.Context, r ledger.Run) error
	RecordStage(ctx context.Context, s ledger.StageRecord) error
	FinishRun(ctx context.Context, runID, status string, at time.Time) error
}

// RunOptions selects what part of a pipeline a run covers.
type RunOptions struct {
	Pipeline   string
	ResumeFrom string
	StopAfter  string
	Render     bool
	Strict     bool
}

// Orchestrator runs pipelines against one checkpoint store.
type Orchestrator struct {
	store     *checkpoint.Store
	locker    checkpoint.Locker
	deriver   Deriver
	validator *validation.Validator
	recorder  Recorder
	mode      validation.Mode
	distDir   string
	required  []string
	optional  []string
	now       func() time.Time
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLocker(l checkpoint.Locker) Option { return func(o *Orchestrator) { o.locker = l } }

func WithDeriver(d Deriver) Option { return func(o *Orchestrator) { o.deriver = d } }

func WithValidator(v *validation.Validator) Option { return func(o *Orchestrator) { o.validator = v } }

func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

func WithMode(m validation.Mode) Option { return func(o *Orchestrator) { o.mode = m } }

func WithDistDir(dir string) Option { return func(o *Orchestrator) { o.distDir = dir } }

// WithRequiredPaths replaces the kernel paths a run requires.
func WithRequiredPaths(paths []string) Option { return func(o *Orchestrator) { o.required = paths } }

// WithOptionalPaths replaces the kernel paths a run warns about.
func WithOptionalPaths(paths []string) Option { return func(o *Orchestrator) { o.optional = paths } }

// WithClock injects the time source used for extraction dates and durations.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithRunIDs injects the run ID generator.
func WithRunIDs(newID func() string) Option { return func(o *Orchestrator) { o.newID = newID } }

// New creates an orchestrator over store.
func New(store *checkpoint.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		locker:    checkpoint.NopLocker{},
		validator: validation.New(),
		distDir:   "dist",
		required:  kernel.DefaultRequiredPaths,
		optional:  kernel.DefaultOptionalPaths,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig builds an orchestrator from configuration. The returned
// close func releases the lock backend.
func NewFromConfig(cfg *config.Config, deriver Deriver, recorder Recorder) (*Orchestrator, func() error, error) {
	store, err := checkpoint.NewStore(cfg.Paths.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return nil }

	var locker checkpoint.Locker
	switch cfg.Lock.Backend {
	case "", "file":
		locker = checkpoint.NewFileLocker(cfg.Paths.OutputDir, cfg.GetLockTTL())
	case "redis":
		rl, err := checkpoint.NewRedisLocker(cfg.Lock.RedisAddr, cfg.GetLockTTL())
		if err != nil {
			return nil, nil, err
		}
		locker, closeFn = rl, rl.Close
	case "none":
		locker = checkpoint.NopLocker{}
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}

	mode := validation.ModeAdvisory
	if cfg.Pipeline.Strict {
		mode = validation.ModeStrict
	}
	opts := []Option{
		WithLocker(locker),
		WithValidator(validation.NewFromConfig(cfg.Validation)),
		WithMode(mode),
		WithDistDir(cfg.Paths.DistDir),
	}
	if deriver != nil {
		opts = append(opts, WithDeriver(deriver))
	}
	if recorder != nil {
		opts = append(opts, WithRecorder(recorder))
	}
	if len(cfg.Pipeline.RequiredPaths) > 0 {
		opts = append(opts, WithRequiredPaths(cfg.Pipeline.RequiredPaths))
	}
	if len(cfg.Pipeline.OptionalPaths) > 0 {
		opts = append(opts, WithOptionalPaths(cfg.Pipeline.OptionalPaths))
	}
	return New(store, opts...), closeFn, nil
}

// Store returns the checkpoint store.
func (o *Orchestrator) Store() *checkpoint.Store { return o.store }

// DistDir returns the directory sites are rendered into.
func (o *Orchestrator) DistDir() string { return o.distDir }

// Validator returns the stage validator.
func (o *Orchestrator) Validator() *validation.Validator { return o.validator }

// Run loads the kernel at kernelPath and runs the selected stages. Stage
// failures end the run and are returned both in the result and as the
// error. Errors before the first stage (unreadable kernel, missing fields,
// unknown stage, missing resume prerequisites) return a nil result.
func (o *Orchestrator) Run(ctx context.Context, kernelPath string, opts RunOptions) (*RunResult, error) {
	k, err := kernel.Load(kernelPath)
	if err != nil {
		return nil, err
	}
	if err := kernel.RequireFields(k, o.required); err != nil {
		logging.PipelineError("%s: %v", kernelPath, err)
		return nil, err
	}
	for _, p := range kernel.CheckOptional(k, o.optional) {
		logging.KernelWarn("%s: optional field %s missing, using fallback", kernelPath, p)
	}

	slug := k.Slug()
	if slug == "" {
		return nil, fmt.Errorf("title %q gives an empty slug", k.Title())
	}

	pipelineName := opts.Pipeline
	if pipelineName == "" {
		pipelineName = PipelineContent
	}
	stages, err := Stages(pipelineName)
	if err != nil {
		return nil, err
	}
	start, stop := 0, len(stages)-1
	if opts.ResumeFrom != "" {
		if start, err = stageIndex(stages, opts.ResumeFrom); err != nil {
			return nil, fmt.Errorf("resume from: %w", err)
		}
	}
	if opts.StopAfter != "" {
		if stop, err = stageIndex(stages, opts.StopAfter); err != nil {
			return nil, fmt.Errorf("stop after: %w", err)
		}
	}
	if stop < start {
		return nil, fmt.Errorf("stop after %s comes before resume from %s", opts.StopAfter, opts.ResumeFrom)
	}
	for _, st := range stages[:start] {
		ok, err := o.store.Has(slug, st.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("resume from %s: %w", opts.ResumeFrom, &MissingCheckpointError{Stage: st.Name()})
		}
	}

	mode := o.mode
	if opts.Strict {
		mode = validation.ModeStrict
	}
	res := &RunResult{RunID: o.newID(), Slug: slug, KernelPath: kernelPath, Pipeline: pipelineName}
	rc := &RunContext{
		RunID:      res.RunID,
		Slug:       slug,
		KernelPath: kernelPath,
		Kernel:     k,
		Store:      o.store,
		Deriver:    o.deriver,
		Validator:  o.validator,
		DistDir:    o.distDir,
		Now:        o.now,
	}

	logging.Pipeline("Run %s: %s pipeline for %s (%s mode)", res.RunID, pipelineName, slug, mode)
	o.record(func(ctx context.Context) error {
		return o.recorder.StartRun(ctx, ledger.Run{
			ID: res.RunID, Slug: slug, KernelPath: kernelPath, Pipeline: pipelineName, StartedAt: o.now(),
		})
	})

	for i, st := range stages {
		var sr StageResult
		switch {
		case i < start || i > stop:
			sr = StageResult{Stage: st.Name(), Status: StatusSkipped}
		case st.Kind() == KindRendering && !opts.Render:
			sr = StageResult{Stage: st.Name(), Status: StatusSkipped}
		default:
			sr = o.runStage(ctx, rc, st, mode)
		}
		res.Stages = append(res.Stages, sr)
		o.recordStage(res.RunID, sr)
		if sr.Status == StatusFailed {
			break
		}
	}

	status := ledger.RunSucceeded
	if res.Failed() {
		status = ledger.RunFailed
	}
	o.record(func(ctx context.Context) error {
		return o.recorder.FinishRun(ctx, res.RunID, status, o.now())
	})
	logging.Pipeline("Run %s: %s", res.RunID, status)
	return res, res.Err()
}

func (o *Orchestrator) runStage(ctx context.Context, rc *RunContext, st Stage, mode validation.Mode) (sr StageResult) {
	name := st.Name()
	sr.Stage = name
	began := o.now()
	defer func() { sr.Duration = o.now().Sub(began) }()

	fail := func(err error) StageResult {
		logging.PipelineError("%s/%s: %v", rc.Slug, name, err)
		sr.Status = StatusFailed
		sr.Err = fmt.Errorf("%s: %w", name, err)
		return sr
	}

	if st.Kind() == KindDerivation && rc.Deriver == nil {
		// A cached checkpoint needs no client.
		if ok, _ := rc.Store.Has(rc.Slug, name); !ok {
			return fail(errors.New("no LLM client configured"))
		}
	}

	release, err := o.locker.Acquire(ctx, rc.Slug)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if rerr := release(); rerr != nil {
			logging.PipelineWarn("%s/%s: release lock: %v", rc.Slug, name, rerr)
		}
	}()

	ctx = perception.WithTraceContext(ctx, perception.TraceContext{RunID: rc.RunID, Slug: rc.Slug, Stage: name})
	produced := false
	var data json.RawMessage
	if st.Kind() == KindRendering {
		// Rendering always runs; its checkpoint is a record, not a cache.
		produced = true
		v, err := st.Run(ctx, rc)
		if err != nil {
			return fail(err)
		}
		if err := rc.Store.Write(rc.Slug, name, v); err != nil {
			return fail(err)
		}
		if data, err = json.Marshal(v); err != nil {
			return fail(err)
		}
	} else {
		data, err = rc.Store.RunOrLoad(ctx, rc.Slug, name, func(ctx context.Context) (any, error) {
			produced = true
			logging.Pipeline("%s: running %s", rc.Slug, name)
			return st.Run(ctx, rc)
		})
		if err != nil {
			return fail(err)
		}
	}
	sr.Status = StatusCompleted
	if !produced {
		sr.Status = StatusCached
	}

	checker, ok := st.(Checker)
	if !ok {
		return sr
	}
	doc, err := decode(data)
	if err != nil {
		return fail(err)
	}
	report := checker.Check(rc, doc)
	if report == nil {
		return sr
	}
	sr.Report = report
	sr.Warnings = report.Issues()
	for _, v := range report.Violations {
		logging.PipelineWarn("%s/%s: %s", rc.Slug, name, v)
	}
	if err := report.Err(mode); err != nil {
		return fail(err)
	}
	return sr
}

func (o *Orchestrator) recordStage(runID string, sr StageResult) {
	rec := ledger.StageRecord{
		RunID:    runID,
		Stage:    sr.Stage,
		Status:   string(sr.Status),
		Duration: sr.Duration,
		Warnings: sr.Warnings,
		At:       o.now(),
	}
	if sr.Err != nil {
		rec.Err = sr.Err.Error()
	}
	o.record(func(ctx context.Context) error { return o.recorder.RecordStage(ctx, rec) })
}

// record writes to the ledger when one is configured. Ledger failures are
// logged and never fail a run.
func (o *Orchestrator) record(fn func(ctx context.Context) error) {
	if o.recorder == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		logging.PipelineWarn("ledger: %v", err)
	}
}

// RunContextFor builds a context for work outside a run, such as rendering
// or re-validating an existing checkpoint.
func (o *Orchestrator) RunContextFor(slug string, k *kernel.Kernel) *RunContext {
	return &RunContext{
		Slug:      slug,
		Kernel:    k,
		Store:     o.store,
		Deriver:   o.deriver,
		Validator: o.validator,
		DistDir:   o.distDir,
		Now:       o.now,
	}
}

// Revalidate runs the validator of stageName against its existing checkpoint.
func (o *Orchestrator) Revalidate(slug, stageName string, k *kernel.Kernel) (*validation.Report, error) {
	pipelineName, err := FindPipeline(stageName)
	if err != nil {
		return nil, err
	}
	stages, _ := Stages(pipelineName)
	idx, _ := stageIndex(stages, stageName)
	checker, ok := stages[idx].(Checker)
	if !ok {
		return nil, fmt.Errorf("stage %s has no validator", stageName)
	}
	rc := o.RunContextFor(slug, k)
	var doc any
	if err := rc.Load(stageName, &doc); err != nil {
		return nil, err
	}
	report := checker.Check(rc, doc)
	if report == nil {
		return nil, fmt.Errorf("stage %s has no validator", stageName)
	}
	return report, nil
}
