// Package provider abstracts the inference backends that drive the
// actor and the evolution reasoner. Backends return raw text; decoding
// into engine actions lives in parse.go so every backend is parsed the
// same way.
package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Params are the per-request knobs the orchestrator controls.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// RawAction is the decoded tool call before the orchestrator validates
// it against the closed action set.
type RawAction struct {
	Name string
	Args map[string]string
}

// Proposal is one actor response: the decoded action plus the raw text
// it was salvaged from, kept for logging and token accounting.
type Proposal struct {
	Action RawAction
	Raw    string
	Tokens int64
}

// Provider generates a single proposal for a prompt.
type Provider interface {
	Name() string
	Propose(ctx context.Context, prompt string, p Params) (Proposal, error)
}

// Registry is a thread-safe registry of inference backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Provider)}
}

// Register adds a backend. Registering the same name twice is a
// configuration bug and returns ErrProviderDuplicate.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[p.Name()]; exists {
		return domain.ErrProviderDuplicate
	}
	r.backends[p.Name()] = p
	return nil
}

// Get returns the named backend, or ErrProviderUnavailable.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.backends[name]
	if !ok {
		return nil, domain.ErrProviderUnavailable
	}
	return p, nil
}

// List returns all registered backend names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
