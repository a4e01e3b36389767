package perception

import (
	"context"
	"time"

	"patternpress/internal/logging"
)

// Trace records one completion call for the run ledger.
type Trace struct {
	RunID       string
	Slug        string
	Stage       string
	PromptLen   int
	ResponseLen int
	Duration    time.Duration
	Err         string
	At          time.Time
}

// TraceStore persists traces. The run ledger implements it.
type TraceStore interface {
	RecordTrace(ctx context.Context, t Trace) error
}

type traceKey struct{}

// TraceContext attributes calls made with ctx to a run and stage.
type TraceContext struct {
	RunID string
	Slug  string
	Stage string
}

// WithTraceContext attaches attribution to ctx.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

func traceContextFrom(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceKey{}).(TraceContext)
	return tc
}

// TracingClient wraps an LLMClient and records every attempt, including
// failed ones, so retries show up in the ledger.
type TracingClient struct {
	underlying LLMClient
	store      TraceStore
	now        func() time.Time
}

// NewTracingClient creates a tracing wrapper around client.
func NewTracingClient(client LLMClient, store TraceStore) *TracingClient {
	return &TracingClient{underlying: client, store: store, now: time.Now}
}

// Complete implements LLMClient.
func (tc *TracingClient) Complete(ctx context.Context, req Request) (string, error) {
	attr := traceContextFrom(ctx)
	start := tc.now()
	logging.APIDebug("LLM call started: run=%s slug=%s stage=%s prompt_len=%d", attr.RunID, attr.Slug, attr.Stage, len(req.Prompt))

	response, err := tc.underlying.Complete(ctx, req)

	t := Trace{
		RunID:       attr.RunID,
		Slug:        attr.Slug,
		Stage:       attr.Stage,
		PromptLen:   len(req.Prompt),
		ResponseLen: len(response),
		Duration:    tc.now().Sub(start),
		At:          start,
	}
	if err != nil {
		t.Err = err.Error()
	}
	if tc.store != nil {
		// Recording must not turn a good completion into a failure.
		if serr := tc.store.RecordTrace(context.WithoutCancel(ctx), t); serr != nil {
			logging.APIWarn("Failed to record trace: %v", serr)
		}
	}
	return response, err
}
