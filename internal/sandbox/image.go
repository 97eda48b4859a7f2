package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

// Default resource limits applied when the task spec does not set them.
const (
	defaultCPUs         = 1.0
	defaultMemoryMB     = 512
	defaultTimeoutSec   = 120
	defaultBuildTimeout = 600
)

// ImageSpec is the per-task execution environment description, loaded
// from the task's INI spec file.
type ImageSpec struct {
	Reference string // pinned image, used as-is when it resolves
	Recipe    string // path to a build recipe, relative to the task dir
	Baseline  string // explicit fallback image

	CPUs            float64
	MemoryMB        int
	TimeoutSec      int
	BuildTimeoutSec int
}

// Timeout returns the verification wall-clock limit.
func (s ImageSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// LoadImageSpec reads a task image spec. A missing file yields the
// zero spec with default resource limits, which resolves to baseline.
func LoadImageSpec(path string) (ImageSpec, error) {
	spec := ImageSpec{
		CPUs:            defaultCPUs,
		MemoryMB:        defaultMemoryMB,
		TimeoutSec:      defaultTimeoutSec,
		BuildTimeoutSec: defaultBuildTimeout,
	}
	if path == "" {
		return spec, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return spec, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return spec, fmt.Errorf("load image spec %s: %w", path, err)
	}

	img := f.Section("image")
	spec.Reference = img.Key("reference").String()
	spec.Recipe = img.Key("recipe").String()
	spec.Baseline = img.Key("baseline").String()
	if spec.Recipe != "" && !filepath.IsAbs(spec.Recipe) {
		spec.Recipe = filepath.Join(filepath.Dir(path), spec.Recipe)
	}

	res := f.Section("resources")
	spec.CPUs = res.Key("cpus").MustFloat64(defaultCPUs)
	spec.MemoryMB = res.Key("memory_mb").MustInt(defaultMemoryMB)
	spec.TimeoutSec = res.Key("timeout_sec").MustInt(defaultTimeoutSec)
	spec.BuildTimeoutSec = res.Key("build_timeout_sec").MustInt(defaultBuildTimeout)
	return spec, nil
}

// runCmd abstracts docker CLI invocation so resolution is testable
// without a container runtime.
type runCmd func(ctx context.Context, args ...string) ([]byte, error)

func dockerExec(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "docker", args...).CombinedOutput()
}

// Resolver picks the execution image for a task: pinned reference
// first, recipe build second, baseline last.
type Resolver struct {
	Baseline string // engine-wide default image
	run      runCmd
}

func NewResolver(baseline string) *Resolver {
	return &Resolver{Baseline: baseline, run: dockerExec}
}

// Resolve returns the image to run the task in. Tier failures fall
// through; only a missing baseline at the end is fatal.
func (r *Resolver) Resolve(ctx context.Context, spec ImageSpec) (string, error) {
	if spec.Reference != "" {
		if _, err := r.run(ctx, "image", "inspect", spec.Reference); err == nil {
			return spec.Reference, nil
		}
		if _, err := r.run(ctx, "pull", spec.Reference); err == nil {
			return spec.Reference, nil
		}
	}

	if spec.Recipe != "" {
		tag := recipeTag(spec.Recipe)
		buildCtx, cancel := context.WithTimeout(ctx, time.Duration(spec.BuildTimeoutSec)*time.Second)
		defer cancel()
		_, err := r.run(buildCtx, "build", "-t", tag, "-f", spec.Recipe, filepath.Dir(spec.Recipe))
		if err == nil {
			return tag, nil
		}
	}

	if spec.Baseline != "" {
		return spec.Baseline, nil
	}
	if r.Baseline != "" {
		return r.Baseline, nil
	}
	return "", domain.ErrImageUnresolvable
}

// recipeTag derives a stable local tag from the recipe path so repeat
// runs of the same task reuse the built image.
func recipeTag(recipe string) string {
	sum := sha256.Sum256([]byte(recipe))
	return "hillclimber-task:" + hex.EncodeToString(sum[:6])
}
