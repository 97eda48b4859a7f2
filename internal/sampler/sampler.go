// Package sampler fans one decision point out into N concurrently
// generated and verified candidates, merging only the winner back into
// the authoritative workspace.
package sampler

import (
	"context"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/provider"
	"github.com/anthropics/hillclimber-engine/internal/sandbox"
)

// GenerateFunc produces one proposal under the given sampling params.
type GenerateFunc func(ctx context.Context, p provider.Params) (provider.Proposal, error)

// ApplyFunc materializes a proposal's action into a candidate
// workspace. It must only touch the given workspace.
type ApplyFunc func(ctx context.Context, workspace string, prop provider.Proposal) error

// VerifyFunc scores a candidate workspace.
type VerifyFunc func(ctx context.Context, workspace string) (domain.VerificationResult, error)

// Request describes one sampling round.
type Request struct {
	Workspace string
	Width     int
	TempBase  float64
	TempStep  float64
	Generate  GenerateFunc
	Apply     ApplyFunc
	Verify    VerifyFunc
}

// Winner is the selected candidate of a round. TokensTotal counts every
// candidate's usage, not just the winner's, since all of it was spent.
type Winner struct {
	Proposal    provider.Proposal
	Result      domain.VerificationResult
	Temperature float64
	TokensTotal int64
}

type candidate struct {
	index       int
	temperature float64
	workspace   string
	proposal    provider.Proposal
	result      domain.VerificationResult
	err         error
}

// Sampler runs sampling rounds. The zero value is usable.
type Sampler struct {
	Logger *slog.Logger
}

// Round generates Width candidates on a temperature ladder, verifies
// each in its own workspace copy, and merges the best one back. Partial
// failures are tolerated; a round where every candidate fails returns
// ErrRoundFailed. A cancelled round merges nothing.
func (s *Sampler) Round(ctx context.Context, req Request) (Winner, error) {
	if req.Width < 1 {
		req.Width = 1
	}

	cands := make([]candidate, req.Width)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < req.Width; i++ {
		c := &cands[i]
		c.index = i
		c.temperature = req.TempBase + float64(i)*req.TempStep
		g.Go(func() error {
			c.err = s.runCandidate(gctx, req, c)
			return nil // per-candidate failure never aborts the round
		})
	}
	_ = g.Wait()
	defer func() {
		for i := range cands {
			if cands[i].workspace != "" {
				os.RemoveAll(cands[i].workspace)
			}
		}
	}()

	if ctx.Err() != nil {
		return Winner{}, domain.WrapEngineError(domain.ErrRoundCancelled.Code, "sampling round", ctx.Err())
	}

	var tokens int64
	var best *candidate
	for i := range cands {
		c := &cands[i]
		tokens += c.proposal.Tokens
		if c.err != nil {
			if s.Logger != nil {
				s.Logger.Warn("candidate failed", "index", c.index, "temperature", c.temperature, "error", c.err)
			}
			continue
		}
		if best == nil || better(c, best) {
			best = c
		}
	}
	if best == nil {
		return Winner{TokensTotal: tokens}, domain.ErrRoundFailed
	}

	if err := sandbox.CopyTree(best.workspace, req.Workspace); err != nil {
		return Winner{TokensTotal: tokens}, err
	}
	return Winner{
		Proposal:    best.proposal,
		Result:      best.result,
		Temperature: best.temperature,
		TokensTotal: tokens,
	}, nil
}

func (s *Sampler) runCandidate(ctx context.Context, req Request, c *candidate) error {
	ws, err := os.MkdirTemp("", "candidate-*")
	if err != nil {
		return domain.WrapEngineError(domain.ErrWorkspaceCopy.Code, "candidate workspace", err)
	}
	c.workspace = ws
	if err := sandbox.CopyTree(req.Workspace, ws); err != nil {
		return err
	}

	prop, err := req.Generate(ctx, provider.Params{Temperature: c.temperature})
	c.proposal = prop // tokens count even when generation fails
	if err != nil {
		return err
	}
	if err := req.Apply(ctx, ws, prop); err != nil {
		return err
	}

	res, err := req.Verify(ctx, ws)
	if err != nil {
		return err
	}
	c.result = res
	return nil
}

// better prefers higher progress, then lower token usage.
func better(a, b *candidate) bool {
	if a.result.Progress != b.result.Progress {
		return a.result.Progress > b.result.Progress
	}
	return a.proposal.Tokens < b.proposal.Tokens
}
