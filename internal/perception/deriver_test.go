package perception

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternpress/internal/articulation"
)

func TestDeriver_Derive(t *testing.T) {
	var got Request
	client := ClientFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "```json\n{\"themes\": [{\"name\": \"Memory\"}]}\n```", nil
	})
	d := &Deriver{Client: client, Policy: RetryPolicy{MaxAttempts: 1}, System: "sys", MaxTokens: 512, Temperature: 0.3}

	obj, raw, err := d.DeriveObject(context.Background(), "Themes for {title}", map[string]string{"title": "The Giver"})
	require.NoError(t, err)
	assert.Contains(t, raw, "```json")
	assert.Equal(t, []any{map[string]any{"name": "Memory"}}, obj["themes"])

	assert.Equal(t, Request{System: "sys", Prompt: "Themes for The Giver", MaxTokens: 512, Temperature: 0.3}, got)
}

func TestDeriver_DeriveObjectKeepsRaw(t *testing.T) {
	client := ClientFunc(func(context.Context, Request) (string, error) {
		return "Sorry, I can't produce JSON today.", nil
	})
	d := &Deriver{Client: client, Policy: RetryPolicy{MaxAttempts: 1}}

	_, raw, err := d.DeriveObject(context.Background(), "x", nil)
	var rErr *articulation.JSONRecoveryError
	require.True(t, errors.As(err, &rErr))
	assert.Equal(t, "Sorry, I can't produce JSON today.", raw)
	assert.Equal(t, raw, rErr.Raw)
}

type memTraceStore struct {
	mu     sync.Mutex
	traces []Trace
}

func (s *memTraceStore) RecordTrace(_ context.Context, t Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, t)
	return nil
}

func TestTracingClient_RecordsEveryAttempt(t *testing.T) {
	store := &memTraceStore{}
	inner := &scriptedClient{results: []error{&TransientError{Err: errors.New("503")}}, text: "ok"}
	client := NewTracingClient(inner, store)

	ctx := WithTraceContext(context.Background(), TraceContext{RunID: "run-1", Slug: "the_giver", Stage: "stage2_themes"})
	sleeper := &recordingSleeper{}
	text, err := CallWithRetry(ctx, client, Request{Prompt: "abc"}, RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, Sleep: sleeper.Sleep})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	require.Len(t, store.traces, 2)
	assert.NotEmpty(t, store.traces[0].Err)
	assert.Empty(t, store.traces[1].Err)
	for _, tr := range store.traces {
		assert.Equal(t, "run-1", tr.RunID)
		assert.Equal(t, "the_giver", tr.Slug)
		assert.Equal(t, "stage2_themes", tr.Stage)
		assert.Equal(t, 3, tr.PromptLen)
	}
	assert.Equal(t, 2, store.traces[1].ResponseLen)
}
