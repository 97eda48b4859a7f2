package domain

import "fmt"

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// ---- Orchestrator errors (-33010 to -33039) ----

var (
	ErrInvalidTransition = &EngineError{Code: -33010, Message: "invalid orchestrator state transition"}
	ErrRunAlreadyDone    = &EngineError{Code: -33011, Message: "run already completed"}
	ErrNoSubtasks        = &EngineError{Code: -33012, Message: "decomposition produced no subtasks"}
	ErrActionRejected    = &EngineError{Code: -33013, Message: "action rejected"}
	ErrPathEscape        = &EngineError{Code: -33014, Message: "path escapes the workspace"}
)

// ---- Sandbox / verifier errors (-33040 to -33069) ----

var (
	ErrSandboxUnavailable = &EngineError{Code: -33040, Message: "container runtime unavailable"}
	ErrImageUnresolvable  = &EngineError{Code: -33041, Message: "no execution image could be resolved"}
	ErrToolchainInstall   = &EngineError{Code: -33042, Message: "verification toolchain install failed"}
	ErrSandboxTimeout     = &EngineError{Code: -33043, Message: "sandbox execution timed out"}
	ErrWorkspaceCopy      = &EngineError{Code: -33044, Message: "workspace copy failed"}
)

// ---- Provider / reasoner errors (-33070 to -33099) ----

var (
	ErrProviderUnavailable = &EngineError{Code: -33070, Message: "inference provider unavailable"}
	ErrProviderTimeout     = &EngineError{Code: -33071, Message: "inference request timed out"}
	ErrUnparseableResponse = &EngineError{Code: -33072, Message: "actor response could not be parsed"}
	ErrRetryExhausted      = &EngineError{Code: -33073, Message: "retry attempts exhausted"}
	ErrProviderDuplicate   = &EngineError{Code: -33074, Message: "provider already registered"}
)

// ---- Sampler errors (-33100 to -33129) ----

var (
	ErrRoundFailed    = &EngineError{Code: -33100, Message: "all sampled candidates failed"}
	ErrRoundCancelled = &EngineError{Code: -33101, Message: "sampling round cancelled"}
)

// ---- Store errors (-33130 to -33159) ----

var (
	ErrStoreInit      = &EngineError{Code: -33130, Message: "failed to initialize store"}
	ErrStoreQuery     = &EngineError{Code: -33131, Message: "store query failed"}
	ErrStoreWrite     = &EngineError{Code: -33132, Message: "store write failed"}
	ErrConfigNotFound = &EngineError{Code: -33133, Message: "configuration not found"}
	ErrRunNotFound    = &EngineError{Code: -33134, Message: "run not found"}
	ErrConfigInvalid  = &EngineError{Code: -33135, Message: "invalid configuration"}
)

// ---- Evolution errors (-33160 to -33189) ----

var (
	ErrProposalRejected  = &EngineError{Code: -33160, Message: "configuration proposal rejected"}
	ErrReasonerExhausted = &EngineError{Code: -33161, Message: "reasoner unavailable after retries"}
)
