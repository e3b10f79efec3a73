package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sasha9954/photostudio-core/internal/circuitbreaker"
	apperrors "github.com/sasha9954/photostudio-core/internal/errors"
	"github.com/sasha9954/photostudio-core/internal/logging"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxErrorBody         = 2000
	maxMessageLen        = 300
)

// GeminiConfig holds Gemini client configuration
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Debug   bool
}

// GeminiClient generates images through the Gemini generateContent REST endpoint
type GeminiClient struct {
	apiKey  string
	baseURL string
	model   string
	debug   bool
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// providerError is an HTTP or transport failure from the provider
type providerError struct {
	Status int
	Body   string
}

func (e *providerError) Error() string {
	if e.Status == 0 {
		return "request failed: " + e.Body
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// countsAgainstProvider keeps bad prompts and auth errors from tripping the breaker
func countsAgainstProvider(err error) bool {
	var pe *providerError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= 500
}

// NewGeminiClient creates a Gemini client guarded by a circuit breaker
func NewGeminiClient(cfg *GeminiConfig) *GeminiClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	cbCfg := circuitbreaker.DefaultConfig("gemini")
	cbCfg.IsFailure = countsAgainstProvider

	return &GeminiClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		debug:   cfg.Debug,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewCircuitBreaker(cbCfg),
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateAsset makes one generateContent call per shot; the first failure fails the job
func (c *GeminiClient) GenerateAsset(ctx context.Context, spec AssetSpec) Result {
	if c.apiKey == "" {
		return Result{Message: "GEMINI_API_KEY is empty"}
	}
	if len(spec.Shots) == 0 {
		return Result{Message: "no shots requested"}
	}

	logger := logging.FromContext(ctx).WithFields(map[string]any{
		"model":        c.model,
		"resource_key": spec.ResourceKey,
		"shots":        len(spec.Shots),
	})

	artifacts := make([]GeneratedArtifact, 0, len(spec.Shots))
	for i, shot := range spec.Shots {
		var images []GeneratedArtifact
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			images, err = c.generateShot(ctx, buildPrompt(spec, shot), spec.Format)
			return err
		})
		if err != nil {
			logger.WithError(err).WithField("shot", i+1).Warn("gemini generation failed")
			return Result{Message: c.failureMessage(spec, i, err)}
		}
		if len(images) == 0 {
			return Result{Message: fmt.Sprintf("shot %d: provider returned no image", i+1)}
		}
		for j, img := range images {
			img.ID = fmt.Sprintf("shot-%d", i+1)
			if j > 0 {
				img.ID = fmt.Sprintf("shot-%d-%d", i+1, j+1)
			}
			artifacts = append(artifacts, img)
		}
	}

	logger.WithField("artifacts", len(artifacts)).Debug("gemini generation finished")
	return Result{OK: true, Artifacts: artifacts}
}

func (c *GeminiClient) failureMessage(spec AssetSpec, shot int, err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return "generation provider temporarily unavailable"
	}
	if c.debug || spec.Debug {
		return fmt.Sprintf("shot %d: %s", shot+1, apperrors.DebugCause(err, maxMessageLen))
	}
	return fmt.Sprintf("shot %d: generation failed", shot+1)
}

func buildPrompt(spec AssetSpec, shot ShotSpec) string {
	parts := make([]string, 0, 2)
	if p := strings.TrimSpace(spec.Prompt); p != "" {
		parts = append(parts, p)
	}
	if p := strings.TrimSpace(shot.Prompt); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n")
}

func (c *GeminiClient) generateShot(ctx context.Context, prompt, format string) ([]GeneratedArtifact, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: map[string]any{
			"responseModalities": []string{"IMAGE"},
		},
	}
	if format != "" {
		reqBody.GenerationConfig["imageConfig"] = map[string]string{"aspectRatio": format}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &providerError{Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providerError{Status: resp.StatusCode, Body: "failed to read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		text := string(body)
		var eb geminiErrorBody
		if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
			text = eb.Error.Message
		}
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &providerError{Status: resp.StatusCode, Body: text}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("bad JSON response: %w", err)
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("prompt blocked: %s", parsed.PromptFeedback.BlockReason)
	}

	var images []GeneratedArtifact
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("bad inline image data: %w", err)
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			images = append(images, GeneratedArtifact{MIMEType: mime, Data: data})
		}
	}
	return images, nil
}
