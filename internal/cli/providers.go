package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/config"
	"github.com/anthropics/hillclimber-engine/internal/evolve"
	"github.com/anthropics/hillclimber-engine/internal/provider"
)

// gateMaxBackoff caps the retry gate's doubling backoff.
const gateMaxBackoff = 10 * time.Second

func newGate(cfg *config.Config, logger *slog.Logger) *provider.Gate {
	return provider.NewGate(
		cfg.RetryAttempts,
		time.Duration(cfg.RetryBaseMS)*time.Millisecond,
		gateMaxBackoff,
		logger,
	)
}

// buildActor constructs the configured backends, registers them, and
// selects the per-turn action backend by name.
func buildActor(ctx context.Context, pc config.ProviderConfig) (provider.Provider, error) {
	reg := provider.NewRegistry()

	if ol, err := provider.NewOllama(pc.OllamaHost, pc.Model); err == nil {
		if err := reg.Register(ol); err != nil {
			return nil, err
		}
	}
	if gm, err := provider.NewGemini(ctx, pc.Model); err == nil {
		if err := reg.Register(gm); err != nil {
			return nil, err
		}
	}

	p, err := reg.Get(pc.Backend)
	if err != nil {
		return nil, fmt.Errorf("actor backend %q unavailable (have %v): %w", pc.Backend, reg.List(), err)
	}
	return p, nil
}

// buildReasoner constructs the evolution reasoner. Only backends with
// free-form structured generation qualify.
func buildReasoner(ctx context.Context, pc config.ProviderConfig) (evolve.Reasoner, error) {
	if pc.Backend != "gemini" {
		return nil, fmt.Errorf("reasoner backend %q does not support structured generation, use gemini", pc.Backend)
	}
	g, err := provider.NewGemini(ctx, pc.Model)
	if err != nil {
		return nil, err
	}
	return &evolve.ModelReasoner{Gen: g}, nil
}
