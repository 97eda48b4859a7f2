package provider

import (
	"context"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

const geminiDefaultModel = "gemini-2.0-flash"

// Gemini drives the Gemini API with JSON response forcing.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, model string) (*Gemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, domain.NewEngineError(domain.ErrProviderUnavailable.Code, "GEMINI_API_KEY is not set")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "gemini client init", err)
	}
	if strings.TrimSpace(model) == "" {
		model = geminiDefaultModel
	}
	return &Gemini{client: c, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Propose(ctx context.Context, prompt string, p Params) (Proposal, error) {
	temp := float32(p.Temperature)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temp,
	}
	if p.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(p.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return Proposal{}, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "gemini generate", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Proposal{}, domain.NewEngineError(domain.ErrUnparseableResponse.Code, "gemini: empty response")
	}

	raw := resp.Candidates[0].Content.Parts[0].Text
	var tokens int64
	if resp.UsageMetadata != nil {
		tokens = int64(resp.UsageMetadata.TotalTokenCount)
	}

	action, err := ParseAction(raw)
	if err != nil {
		return Proposal{Raw: raw, Tokens: tokens}, err
	}
	return Proposal{Action: action, Raw: raw, Tokens: tokens}, nil
}

// GenerateJSON asks for a free-form JSON document instead of a tool
// call. The evolution reasoner uses this to request config deltas.
func (g *Gemini) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "gemini generate json", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", domain.NewEngineError(domain.ErrUnparseableResponse.Code, "gemini: empty json response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
