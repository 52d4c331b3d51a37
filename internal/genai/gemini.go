package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
)

// Gemini calls the Generative Language REST API for one model.
type Gemini struct {
	http  *resty.Client
	model string
}

// NewGemini creates a generator bound to model (e.g. "models/gemini-1.5-flash").
func NewGemini(cfg *config.GenAIConfig, model string) *Gemini {
	return &Gemini{http: newHTTPClient(cfg), model: qualify(model)}
}

// Model implements Generator.
func (g *Gemini) Model() string { return g.model }

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	var (
		out    generateResponse
		apiErr apiError
	)
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1beta/" + g.model + ":generateContent")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w: %v", g.model, ErrServiceUnavailable, err)
	}
	if resp.IsError() {
		return "", statusError(g.model, resp.StatusCode(), apiErr)
	}

	if out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%s: prompt blocked: %s", g.model, out.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	for _, c := range out.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%s: empty response", g.model)
	}
	return sb.String(), nil
}

// ListModels returns every model the key can see.
func ListModels(ctx context.Context, cfg *config.GenAIConfig) ([]Model, error) {
	client := newHTTPClient(cfg)
	var (
		models    []Model
		pageToken string
	)
	for {
		var (
			out    listModelsResponse
			apiErr apiError
		)
		req := client.R().SetContext(ctx).SetResult(&out).SetError(&apiErr).SetQueryParam("pageSize", "100")
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}
		resp, err := req.Get("/v1beta/models")
		if err != nil {
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		if resp.IsError() {
			return nil, statusError("models", resp.StatusCode(), apiErr)
		}
		models = append(models, out.Models...)
		if out.NextPageToken == "" {
			return models, nil
		}
		pageToken = out.NextPageToken
	}
}

func newHTTPClient(cfg *config.GenAIConfig) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(time.Duration(cfg.Timeout)*time.Second).
		SetQueryParam("key", cfg.APIKey).
		SetHeader("Content-Type", "application/json")
}

func statusError(model string, status int, apiErr apiError) error {
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusNotFound, status >= 500:
		return fmt.Errorf("%s: %w: %d %s", model, ErrServiceUnavailable, status, msg)
	default:
		return fmt.Errorf("%s: request rejected: %d %s", model, status, msg)
	}
}

func qualify(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// IsUnavailable reports whether err should trigger a fallback to another model.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
