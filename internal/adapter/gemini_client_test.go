package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasha9954/photostudio-core/internal/circuitbreaker"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewGeminiClient(&GeminiConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "gemini-2.5-flash-image",
		Timeout: 5 * time.Second,
	}), &calls
}

func imageResponse(data []byte) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"parts": []any{
					map[string]any{"text": "here you go"},
					map[string]any{"inlineData": map[string]any{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(data),
					}},
				},
			},
		}},
	}
}

func TestGeminiClient_GenerateAsset(t *testing.T) {
	client, calls := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash-image:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		assert.Contains(t, req.Contents[0].Parts[0].Text, "studio light")

		_ = json.NewEncoder(w).Encode(imageResponse([]byte("png-bytes")))
	})

	res := client.GenerateAsset(context.Background(), AssetSpec{
		ResourceKey: "FULL",
		Prompt:      "studio light",
		Shots:       []ShotSpec{{Prompt: "front"}, {Prompt: "back"}},
		Format:      "9:16",
	})

	require.True(t, res.OK, res.Message)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, "shot-1", res.Artifacts[0].ID)
	assert.Equal(t, "shot-2", res.Artifacts[1].ID)
	assert.Equal(t, "image/png", res.Artifacts[0].MIMEType)
	assert.Equal(t, []byte("png-bytes"), res.Artifacts[0].Data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeminiClient_HTTPErrorIsResultNotPanic(t *testing.T) {
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid prompt"}}`))
	})

	res := client.GenerateAsset(context.Background(), AssetSpec{Shots: []ShotSpec{{Prompt: "x"}}, Debug: true})
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "invalid prompt")
	assert.Equal(t, circuitbreaker.StateClosed, client.breaker.GetState(), "client errors do not trip the breaker")
}

func TestGeminiClient_MessageHidesCauseWithoutDebug(t *testing.T) {
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"secret detail"}}`))
	})

	res := client.GenerateAsset(context.Background(), AssetSpec{Shots: []ShotSpec{{Prompt: "x"}}})
	assert.False(t, res.OK)
	assert.NotContains(t, res.Message, "secret detail")
}

func TestGeminiClient_BreakerOpensOnServerErrors(t *testing.T) {
	client, calls := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	spec := AssetSpec{Shots: []ShotSpec{{Prompt: "x"}}}
	for i := 0; i < 5; i++ {
		assert.False(t, client.GenerateAsset(context.Background(), spec).OK)
	}
	assert.Equal(t, circuitbreaker.StateOpen, client.breaker.GetState())

	before := calls.Load()
	res := client.GenerateAsset(context.Background(), spec)
	assert.False(t, res.OK)
	assert.Equal(t, "generation provider temporarily unavailable", res.Message)
	assert.Equal(t, before, calls.Load(), "open breaker must not reach the provider")
}

func TestGeminiClient_NoImage(t *testing.T) {
	client, _ := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"sorry"}]}}]}`))
	})

	res := client.GenerateAsset(context.Background(), AssetSpec{Shots: []ShotSpec{{Prompt: "x"}}})
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "no image")
}

func TestGeminiClient_MissingKey(t *testing.T) {
	client := NewGeminiClient(&GeminiConfig{Model: "m"})
	res := client.GenerateAsset(context.Background(), AssetSpec{Shots: []ShotSpec{{}}})
	assert.False(t, res.OK)
	assert.Equal(t, "GEMINI_API_KEY is empty", res.Message)
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "base\n\nshot", buildPrompt(AssetSpec{Prompt: " base "}, ShotSpec{Prompt: "shot"}))
	assert.Equal(t, "shot", buildPrompt(AssetSpec{}, ShotSpec{Prompt: "shot"}))
}
