package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
)

// RankModels orders the preferred models by preference, keeping only those the listing
// shows as able to generate. When the listing is empty (it failed or the key cannot
// list) the preferred models are returned unchanged. When the listing offers none of them,
// the last preferred model is kept as the default.
func RankModels(available []Model, preferred []string) []string {
	if len(available) == 0 {
		out := make([]string, 0, len(preferred))
		for _, p := range preferred {
			out = append(out, qualify(p))
		}
		return out
	}

	usable := make(map[string]bool, len(available))
	for _, m := range available {
		if m.SupportsGenerate() {
			usable[m.Name] = true
		}
	}
	var out []string
	for _, p := range preferred {
		if usable[qualify(p)] {
			out = append(out, qualify(p))
		}
	}
	if len(out) == 0 && len(preferred) > 0 {
		out = append(out, qualify(preferred[len(preferred)-1]))
	}
	return out
}

// Fallback tries each generator in order, moving on when one is unavailable.
type Fallback []Generator

// NewFallback lists the available models once and builds generators for the usable
// preferred models.
func NewFallback(ctx context.Context, cfg *config.GenAIConfig) (Fallback, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrServiceUnavailable)
	}
	available, err := ListModels(ctx, cfg)
	if err != nil {
		slog.Warn("model listing failed, using configured models", "error", err)
	}
	ranked := RankModels(available, cfg.Models)
	if len(ranked) == 0 {
		return nil, fmt.Errorf("%w: no models configured", ErrServiceUnavailable)
	}

	fb := make(Fallback, 0, len(ranked))
	for _, m := range ranked {
		fb = append(fb, NewGemini(cfg, m))
	}
	slog.Debug("commentary models", "models", ranked)
	return fb, nil
}

// Model implements Generator, naming the first choice.
func (f Fallback) Model() string {
	if len(f) == 0 {
		return ""
	}
	return f[0].Model()
}

// Generate implements Generator.
func (f Fallback) Generate(ctx context.Context, prompt string) (string, error) {
	if len(f) == 0 {
		return "", fmt.Errorf("%w: no models configured", ErrServiceUnavailable)
	}
	var errs *multierror.Error
	for _, g := range f {
		text, err := g.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !IsUnavailable(err) {
			return "", err
		}
		slog.Warn("model unavailable, falling back", "model", g.Model(), "error", err)
		errs = multierror.Append(errs, err)
	}
	return "", fmt.Errorf("all models failed: %w", errs.ErrorOrNil())
}

// Prompt builds the beginner-oriented delivery commentary request for one stock.
// A missing price is rendered as N/A.
func Prompt(symbol string, deliveryPercent decimal.Decimal, closePrice decimal.NullDecimal) string {
	price := "N/A"
	if closePrice.Valid {
		price = closePrice.Decimal.String()
	}
	return fmt.Sprintf("Analyze the Indian stock %s. "+
		"It has a Delivery Percentage of %s%% at a price of %s. "+
		"Explain to a beginner investor: Does this indicate 'Smart Money' accumulation? "+
		"What are the risks? Keep it short and professional.",
		symbol, deliveryPercent.String(), price)
}
