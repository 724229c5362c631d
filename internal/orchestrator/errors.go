// Package orchestrator implements the Core Orchestrator (spec §4.10):
// the single entry point that routes a request, resolves skills, composes
// an execution plan, drives the Agent Driver, and post-processes the
// result into a BotResult.
package orchestrator

import "fmt"

// Kind is the closed error-kind taxonomy from spec §7. Every error the
// orchestrator surfaces to a caller is one of these kinds.
type Kind string

const (
	// KindRouterMiss means no category matched. Informational only —
	// never surfaces in a BotResult; the orchestrator falls through to
	// skill resolution instead.
	KindRouterMiss Kind = "router_miss"

	// KindAuthError means the model provider rejected credentials.
	KindAuthError Kind = "auth_error"

	// KindToolError mirrors agent.ToolError's sub-kinds but is
	// recovered inside the Agent Driver and handed back to the model —
	// it never reaches the orchestrator's own error surface directly.
	KindToolError Kind = "tool_error"

	// KindStalledError means the Stale-Loop Guard aborted the run.
	KindStalledError Kind = "stalled_error"

	// KindBudgetExceeded means the iteration or token budget was hit;
	// the run still succeeds with truncated=true.
	KindBudgetExceeded Kind = "budget_exceeded"

	// KindCacheCorruption means the router manifest or task store
	// failed to parse; the core discards the file and proceeds as if
	// absent.
	KindCacheCorruption Kind = "cache_corruption"

	// KindCancelled means the caller raised the cancellation signal.
	KindCancelled Kind = "cancelled"

	// KindInternalError is the catch-all.
	KindInternalError Kind = "internal_error"
)

// Error is the orchestrator's typed error, carrying a Kind for
// errors.As-based dispatch plus a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}
