package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// toolchainExit is the script exit code reserved for a failed test
// toolchain install. It must not collide with pytest exit codes.
const toolchainExit = 97

// Runner executes verification commands in an ephemeral container,
// falling back to direct local execution when no runtime is present.
type Runner struct {
	Resolver *Resolver
	Logger   *slog.Logger

	execShell   func(ctx context.Context, name string, args ...string) ([]byte, int, error)
	probeDocker func(ctx context.Context) bool
}

func NewRunner(resolver *Resolver, logger *slog.Logger) *Runner {
	return &Runner{
		Resolver:    resolver,
		Logger:      logger,
		execShell:   runShell,
		probeDocker: dockerAvailable,
	}
}

// Verify copies the workspace aside, runs the task's verification
// command, and shapes the output into a boundary-safe result. A
// non-nil error means the sandbox itself is unusable; a result with
// TestsTotal 0 means the command ran but produced no checks.
func (r *Runner) Verify(ctx context.Context, workspace string, task domain.TaskDefinition, prov domain.Provenance) (domain.VerificationResult, error) {
	spec, err := LoadImageSpec(task.ImageSpecPath)
	if err != nil {
		return domain.VerificationResult{}, domain.WrapEngineError(domain.ErrSandboxUnavailable.Code, "image spec", err)
	}

	staging, err := os.MkdirTemp("", "verify-*")
	if err != nil {
		return domain.VerificationResult{}, domain.WrapEngineError(domain.ErrWorkspaceCopy.Code, "staging dir", err)
	}
	defer os.RemoveAll(staging)
	if err := CopyTree(workspace, staging); err != nil {
		return domain.VerificationResult{}, err
	}

	script := verifyScript(task.VerifyCommand)
	runCtx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	start := time.Now()
	var out []byte
	var exit int
	sandboxed := r.probeDocker(ctx)
	if sandboxed {
		image, rerr := r.Resolver.Resolve(ctx, spec)
		if rerr != nil {
			return domain.VerificationResult{}, rerr
		}
		name := "verify-" + uuid.NewString()[:8]
		out, exit, err = r.execShell(runCtx, "docker", dockerRunArgs(name, staging, image, spec, script)...)
		if runCtx.Err() != nil {
			// Killing the docker client leaves the container running;
			// remove it by name so it cannot outlive the run.
			rmCtx, rmCancel := context.WithTimeout(context.Background(), 15*time.Second)
			_, _, _ = r.execShell(rmCtx, "docker", "rm", "-f", name)
			rmCancel()
		}
	} else {
		if r.Logger != nil {
			r.Logger.Warn("container runtime unavailable, running verification locally", "task", task.ID)
		}
		out, exit, err = r.execShell(runCtx, "sh", "-c", "cd "+shellQuote(staging)+" && "+script)
	}
	elapsed := time.Since(start)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return domain.VerificationResult{
			TestsTotal: 0,
			Feedback:   fmt.Sprintf("verification timed out after %s", spec.Timeout()),
			ExitCode:   -1,
			Duration:   elapsed,
			Sandboxed:  sandboxed,
			Provenance: prov,
		}, nil
	}
	if err != nil {
		return domain.VerificationResult{}, domain.WrapEngineError(domain.ErrSandboxUnavailable.Code, "verification exec", err)
	}
	if exit == toolchainExit {
		return domain.VerificationResult{}, domain.WrapEngineError(domain.ErrToolchainInstall.Code, task.ID, errors.New(tail(string(out), 400)))
	}

	return shapeResult(ParseOutput(string(out)), exit, elapsed, sandboxed, prov), nil
}

// shapeResult applies the information boundary: counts, names, and
// generic feedback for every provenance; expected/actual detail only
// for self-generated checks.
func shapeResult(c Counts, exit int, elapsed time.Duration, sandboxed bool, prov domain.Provenance) domain.VerificationResult {
	res := domain.VerificationResult{
		TestsPassing: c.Passing,
		TestsTotal:   c.Total,
		FailingNames: c.FailingNames,
		ExitCode:     exit,
		Duration:     elapsed,
		Sandboxed:    sandboxed,
		Provenance:   prov,
	}
	if c.Total > 0 {
		res.Progress = float64(c.Passing) / float64(c.Total)
		res.Passed = c.Passing == c.Total
	}

	switch {
	case c.Total == 0:
		res.Feedback = "verification produced no test results"
	case res.Passed:
		res.Feedback = "all checks passing"
	default:
		res.Feedback = fmt.Sprintf("%d of %d checks failing", c.Total-c.Passing, c.Total)
	}

	if prov == domain.ProvenanceSelf && len(c.Messages) > 0 {
		set := &domain.FailureDetailSet{}
		for _, name := range c.FailingNames {
			if msg, ok := c.Messages[name]; ok {
				set.Failures = append(set.Failures, domain.FailureDetail{Name: name, Message: msg})
			}
		}
		if len(set.Failures) > 0 {
			res.Detail = set
		}
	}
	return res
}

// verifyScript ensures pytest exists, emits the output marker, then
// runs the task command. The install is re-probed so a failed install
// can never silently fall through to the verification step.
func verifyScript(verifyCmd string) string {
	ensure := fmt.Sprintf(
		"if ! command -v pytest >/dev/null 2>&1; then pip install --quiet pytest || exit %d; fi; "+
			"command -v pytest >/dev/null 2>&1 || exit %d",
		toolchainExit, toolchainExit)
	return ensure + "; echo " + outputMarker + "; " + verifyCmd
}

func dockerRunArgs(name, workdir, image string, spec ImageSpec, script string) []string {
	return []string{
		"run", "--rm",
		"--name", name,
		"--network", "none",
		"--memory", fmt.Sprintf("%dm", spec.MemoryMB),
		"--cpus", fmt.Sprintf("%.2f", spec.CPUs),
		"-v", workdir + ":/work",
		"-w", "/work",
		image,
		"sh", "-c", script,
	}
}

// runShell executes a command, returning output and exit code. The
// error is non-nil only when the process could not run at all.
func runShell(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), nil
	}
	return out, -1, err
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	probe, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(probe, "docker", "version", "--format", "{{.Server.Version}}").Run() == nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
