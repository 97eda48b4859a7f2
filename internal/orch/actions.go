package orch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/anthropics/hillclimber-engine/internal/domain"
	"github.com/anthropics/hillclimber-engine/internal/ledger"
	"github.com/anthropics/hillclimber-engine/internal/provider"
)

// commandTimeout bounds a single run_command action.
const commandTimeout = 30 * time.Second

// observationCap bounds how much action output the next prompt carries.
const observationCap = 2000

// decodeAction maps a raw provider tool call onto the closed action
// set. Unrecognized names become ActionUnknown with the raw name kept
// for the rejection message.
func decodeAction(raw provider.RawAction) domain.Action {
	a := domain.Action{
		Name:    raw.Name,
		Path:    raw.Args["path"],
		Content: raw.Args["content"],
		Command: raw.Args["command"],
	}
	switch domain.ActionKind(raw.Name) {
	case domain.ActionReadFile:
		a.Kind = domain.ActionReadFile
	case domain.ActionWriteFile:
		a.Kind = domain.ActionWriteFile
	case domain.ActionRunCommand:
		a.Kind = domain.ActionRunCommand
	case domain.ActionVerify:
		a.Kind = domain.ActionVerify
	case domain.ActionDone:
		a.Kind = domain.ActionDone
	default:
		a.Kind = domain.ActionUnknown
	}
	return a
}

// signature identifies an action for the repeat heuristic: the same
// action with the same arguments three times is a completion signal.
func signature(a domain.Action) string {
	return strings.Join([]string{string(a.Kind), a.Path, a.Command, a.Content}, "\x00")
}

// resolvePath joins a workspace-relative path, rejecting escapes.
func resolvePath(workspace, rel string) (string, error) {
	if rel == "" {
		return "", domain.NewEngineError(domain.ErrActionRejected.Code, "empty path")
	}
	abs := filepath.Join(workspace, rel)
	clean := filepath.Clean(abs)
	if clean != workspace && !strings.HasPrefix(clean, workspace+string(filepath.Separator)) {
		return "", domain.ErrPathEscape
	}
	return clean, nil
}

// executeAction applies a read/write/run action to the workspace and
// returns the ledger step plus any observation text for the next
// prompt. Failures are step-level: recorded, never fatal.
func executeAction(ctx context.Context, workspace string, a domain.Action) (ledger.Step, string) {
	switch a.Kind {
	case domain.ActionReadFile:
		return readFile(workspace, a)
	case domain.ActionWriteFile:
		return writeFile(workspace, a)
	case domain.ActionRunCommand:
		return runCommand(ctx, workspace, a)
	default:
		return ledger.Step{Tool: a.Name, Note: "unsupported action kind"}, ""
	}
}

func readFile(workspace string, a domain.Action) (ledger.Step, string) {
	step := ledger.Step{Tool: string(a.Kind), Path: a.Path}
	path, err := resolvePath(workspace, a.Path)
	if err != nil {
		step.Note = err.Error()
		return step, ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		step.Note = fmt.Sprintf("read failed: %v", err)
		return step, ""
	}
	step.Success = true
	step.Lines = strings.Count(string(data), "\n")
	return step, capObservation(string(data))
}

func writeFile(workspace string, a domain.Action) (ledger.Step, string) {
	step := ledger.Step{Tool: string(a.Kind), Path: a.Path}
	path, err := resolvePath(workspace, a.Path)
	if err != nil {
		step.Note = err.Error()
		return step, ""
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		step.Note = fmt.Sprintf("mkdir failed: %v", err)
		return step, ""
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		step.Note = fmt.Sprintf("write failed: %v", err)
		return step, ""
	}
	step.Success = true
	step.Bytes = len(a.Content)
	return step, ""
}

func runCommand(ctx context.Context, workspace string, a domain.Action) (ledger.Step, string) {
	step := ledger.Step{Tool: string(a.Kind), Command: a.Command}
	if strings.TrimSpace(a.Command) == "" {
		step.Note = "empty command"
		return step, ""
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", a.Command)
	cmd.Dir = workspace
	out, err := cmd.CombinedOutput()

	step.ExitCode = 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			step.ExitCode = exitErr.ExitCode()
		} else {
			step.ExitCode = -1
			step.Note = err.Error()
		}
	}
	step.Success = step.ExitCode == 0
	return step, capObservation(string(out))
}

func capObservation(s string) string {
	if len(s) <= observationCap {
		return s
	}
	cut := observationCap
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n...(truncated)"
}
