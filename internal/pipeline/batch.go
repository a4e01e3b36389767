package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"patternpress/internal/logging"
)

// BatchItem is the outcome of one kernel in a batch.
type BatchItem struct {
	KernelPath string
	Result     *RunResult
	Err        error
}

// Batch runs many kernels through one orchestrator.
type Batch struct {
	orch  *Orchestrator
	limit int
}

// NewBatch runs at most limit kernels at a time. A limit below 1 runs them
// one after another.
func NewBatch(orch *Orchestrator, limit int) *Batch {
	if limit < 1 {
		limit = 1
	}
	return &Batch{orch: orch, limit: limit}
}

// RunAll runs every kernel with opts. One kernel failing does not stop the
// others; each item carries its own error. Items are in input order.
func (b *Batch) RunAll(ctx context.Context, kernels []string, opts RunOptions) []BatchItem {
	items := make([]BatchItem, len(kernels))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.limit)
	for i, path := range kernels {
		items[i].KernelPath = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			res, err := b.orch.Run(ctx, path, opts)
			items[i].Result, items[i].Err = res, err
			if err != nil {
				logging.PipelineError("Batch: %s: %v", path, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	logging.Pipeline("Batch finished: %d kernels, %d failed", len(items), failed)
	return items
}
