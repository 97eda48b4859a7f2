package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/hillclimber-engine/internal/domain"
)

func TestShapeResult_ProvenanceGatesDetail(t *testing.T) {
	counts := Counts{
		Passing:      1,
		Total:        3,
		FailingNames: []string{"t::a", "t::b"},
		Messages:     map[string]string{"t::a": "AssertionError: want 2 got 3"},
	}

	self := shapeResult(counts, 1, time.Second, true, domain.ProvenanceSelf)
	if self.Detail == nil || len(self.Detail.Failures) != 1 {
		t.Fatalf("self provenance should carry detail: %+v", self.Detail)
	}
	if self.Detail.Failures[0].Message != "AssertionError: want 2 got 3" {
		t.Errorf("detail message = %q", self.Detail.Failures[0].Message)
	}

	prot := shapeResult(counts, 1, time.Second, true, domain.ProvenanceProtected)
	if prot.Detail != nil {
		t.Error("protected provenance must never carry detail")
	}
	if len(prot.FailingNames) != 2 {
		t.Errorf("protected provenance keeps failing names: %v", prot.FailingNames)
	}
	if prot.Feedback != "2 of 3 checks failing" {
		t.Errorf("Feedback = %q", prot.Feedback)
	}
}

func TestShapeResult_VerifierBroken(t *testing.T) {
	res := shapeResult(Counts{}, 2, time.Second, true, domain.ProvenanceProtected)
	if res.Passed {
		t.Error("no counts must not pass")
	}
	if !res.VerifierBroken() {
		t.Error("zero-total result must report verifier broken")
	}
	if res.Progress != 0 {
		t.Errorf("Progress = %f, want 0", res.Progress)
	}
}

func TestShapeResult_AllPassing(t *testing.T) {
	res := shapeResult(Counts{Passing: 5, Total: 5}, 0, time.Second, false, domain.ProvenanceProtected)
	if !res.Passed || res.Progress != 1.0 {
		t.Errorf("result = %+v, want passed with progress 1.0", res)
	}
	if res.Sandboxed {
		t.Error("local run must report Sandboxed=false")
	}
}

func TestVerify_LocalFallbackParsesOutput(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "solution.py"), []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner(NewResolver("python:3.12-slim"), nil)
	r.probeDocker = func(ctx context.Context) bool { return false }
	r.execShell = func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		if name != "sh" {
			t.Errorf("local fallback should exec sh, got %q", name)
		}
		out := outputMarker + "\n== 2 passed, 1 failed in 0.1s ==\nFAILED t.py::test_x - boom\n"
		return []byte(out), 1, nil
	}

	res, err := r.Verify(context.Background(), ws, domain.TaskDefinition{ID: "t", VerifyCommand: "pytest -q"}, domain.ProvenanceProtected)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Sandboxed {
		t.Error("Sandboxed must be false for local fallback")
	}
	if res.TestsPassing != 2 || res.TestsTotal != 3 {
		t.Errorf("counts = %d/%d", res.TestsPassing, res.TestsTotal)
	}
	if res.Passed {
		t.Error("result must not pass with failures")
	}
}

func TestVerify_CancellationRemovesContainer(t *testing.T) {
	fd := &fakeDocker{}
	r := NewRunner(&Resolver{Baseline: "python:3.12-slim", run: fd.run}, nil)
	r.probeDocker = func(ctx context.Context) bool { return true }

	var calls [][]string
	r.execShell = func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		calls = append(calls, append([]string{name}, args...))
		if args[0] == "run" {
			<-ctx.Done()
			return nil, -1, ctx.Err()
		}
		return nil, 0, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Verify(ctx, t.TempDir(), domain.TaskDefinition{ID: "t", VerifyCommand: "pytest"}, domain.ProvenanceProtected)
	if err == nil {
		t.Fatal("cancelled verification should report a sandbox error")
	}

	if len(calls) != 2 {
		t.Fatalf("docker calls = %d, want run then rm", len(calls))
	}
	runArgs := calls[0]
	var name string
	for i, a := range runArgs {
		if a == "--name" && i+1 < len(runArgs) {
			name = runArgs[i+1]
		}
	}
	if !strings.HasPrefix(name, "verify-") {
		t.Fatalf("container not named: %v", runArgs)
	}
	rm := calls[1]
	if rm[1] != "rm" || rm[2] != "-f" || rm[3] != name {
		t.Errorf("cleanup call = %v, want docker rm -f %s", rm, name)
	}
}

func TestVerify_ToolchainInstallFailureIsFatal(t *testing.T) {
	r := NewRunner(NewResolver("python:3.12-slim"), nil)
	r.probeDocker = func(ctx context.Context) bool { return false }
	r.execShell = func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		return []byte("pip: no network"), toolchainExit, nil
	}

	_, err := r.Verify(context.Background(), t.TempDir(), domain.TaskDefinition{ID: "t", VerifyCommand: "pytest"}, domain.ProvenanceProtected)
	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != domain.ErrToolchainInstall.Code {
		t.Errorf("err = %v, want toolchain install error", err)
	}
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "pkg", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg", "a.py"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg", ".git", "HEAD"), []byte("ref"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if err := CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "pkg", "a.py")); err != nil {
		t.Errorf("file not copied: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "pkg", ".git")); !os.IsNotExist(err) {
		t.Error(".git must be skipped")
	}
	info, err := os.Stat(filepath.Join(dst, "run.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Error("executable bit not preserved")
	}
}
