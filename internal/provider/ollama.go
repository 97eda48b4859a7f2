package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

const ollamaDefaultModel = "qwen2.5-coder:14b"

// Ollama drives a local Ollama server. Responses are requested in JSON
// format mode so salvage parsing is rarely needed.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama connects using OLLAMA_HOST when set, falling back to the
// configured host and then the default local port.
func NewOllama(host, model string) (*Ollama, error) {
	c, err := api.ClientFromEnvironment()
	if err != nil {
		if host == "" {
			host = "http://localhost:11434"
		}
		u, uerr := url.Parse(host)
		if uerr != nil {
			return nil, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "bad ollama host", uerr)
		}
		c = api.NewClient(u, nil)
	}
	if strings.TrimSpace(model) == "" {
		model = ollamaDefaultModel
	}
	return &Ollama{client: c, model: model}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Propose(ctx context.Context, prompt string, p Params) (Proposal, error) {
	stream := false
	opts := map[string]any{"temperature": p.Temperature}
	if p.MaxTokens > 0 {
		opts["num_predict"] = p.MaxTokens
	}
	req := &api.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Format:  json.RawMessage(`"json"`),
		Stream:  &stream,
		Options: opts,
	}

	var out strings.Builder
	var tokens int64
	err := o.client.Generate(ctx, req, func(gr api.GenerateResponse) error {
		out.WriteString(gr.Response)
		tokens += int64(gr.EvalCount + gr.PromptEvalCount)
		return nil
	})
	if err != nil {
		return Proposal{}, domain.WrapEngineError(domain.ErrProviderUnavailable.Code, "ollama generate", err)
	}

	raw := out.String()
	action, err := ParseAction(raw)
	if err != nil {
		return Proposal{Raw: raw, Tokens: tokens}, err
	}
	return Proposal{Action: action, Raw: raw, Tokens: tokens}, nil
}
