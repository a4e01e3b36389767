package perception

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent"), r.URL.Path)
		assert.Equal(t, "gem-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "derive themes")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\": true}"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "gem-key", BaseURL: srv.URL, Model: "gemini-test"})
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), Request{System: "be precise", Prompt: "derive themes", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, text)
}

func TestGeminiClient_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{Prompt: "p"})
	assert.True(t, IsRateLimit(err), "got %v", err)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

func TestClassifyGeminiError(t *testing.T) {
	assert.True(t, IsRateLimit(classifyGeminiError(genai.APIError{Code: 429})))
	assert.True(t, IsRateLimit(classifyGeminiError(fmt.Errorf("wrapped: %w", genai.APIError{Status: "RESOURCE_EXHAUSTED"}))))
	assert.True(t, IsTransient(classifyGeminiError(genai.APIError{Code: 503})))

	var apiErr *APIError
	assert.True(t, errors.As(classifyGeminiError(genai.APIError{Code: 400, Message: "bad"}), &apiErr))
	assert.Equal(t, 400, apiErr.StatusCode)

	assert.ErrorIs(t, classifyGeminiError(context.Canceled), context.Canceled)
	assert.True(t, errors.As(classifyGeminiError(errors.New("odd")), &apiErr))
}
