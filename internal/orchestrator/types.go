package orchestrator

import (
	"context"

	"github.com/haasonsaas/nexus-core/internal/ledger"
)

// Complexity is the Analysis step's coarse cost estimate (spec §4.10
// step 4). Ordered cheapest-to-most-expensive.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// onDeviceToolSet is the fixed capability set the on_device and
// direct_answer tiers are restricted to (spec §3 Plan invariant ii).
var onDeviceToolSet = map[string]bool{"bash": true, "write_file": true, "read_file": true}

// Analysis is the Core Orchestrator's step-4 output: a cheap, cacheable
// estimate of what a request will take, used to size the Plan and to
// gate the on-device attempt.
type Analysis struct {
	Complexity       Complexity `json:"complexity"`
	EstimatedSteps   int        `json:"estimated_steps"`
	RequiresBash     bool       `json:"requires_bash"`
	RequiresFileOps  bool       `json:"requires_file_ops"`
	DefinitionOfDone string     `json:"definition_of_done"`
	PotentialTools   []string   `json:"potential_tools"`

	// SkillMatched/SkillName implement the skill fast-path predicate
	// (spec §8 testable property 9): true iff some skill's
	// relevanceScore(request) >= skills.HighConfidenceThreshold.
	SkillMatched bool   `json:"skill_matched"`
	SkillName    string `json:"skill_name,omitempty"`
}

// PermitsOnDevice reports whether this analysis allows the on-device
// attempt (spec §4.10 step 5): complexity must be simple and every
// potential tool must fall inside the on-device capability set.
func (a *Analysis) PermitsOnDevice() bool {
	if a == nil || a.Complexity != ComplexitySimple {
		return false
	}
	for _, t := range a.PotentialTools {
		if !onDeviceToolSet[t] {
			return false
		}
	}
	return true
}

// BotResult is the orchestrator's single user-visible return shape
// (spec §7): on success Answer is always populated, on failure Error
// is always populated.
type BotResult struct {
	Success      bool           `json:"success"`
	Answer       string         `json:"answer,omitempty"`
	Error        string         `json:"error,omitempty"`
	Iterations   int            `json:"iterations"`
	ToolCalls    []string       `json:"tool_calls"`
	TokenUsage   ledger.Totals  `json:"token_usage"`
	Analysis     *Analysis      `json:"analysis,omitempty"`
	Ledger       *ledger.Ledger `json:"-"`
	CreatedFiles []string       `json:"created_files,omitempty"`
	Truncated    bool           `json:"truncated,omitempty"`
}

// RunContext carries the per-run state the orchestrator exclusively
// owns for the duration of one run (spec §3 "Ownership", §5a): the
// Token Ledger and the cancellation signal. The Conversation and
// Stale-Loop Guard live inside the Agent Driver call for this run (it
// constructs and discards its own instance of each per invocation) —
// threading them here as well would duplicate state without adding a
// second owner, since nothing outside a single Driver.Run call ever
// observes them.
//
// Callers (the Scheduler, the CLI's serve command) each construct a
// fresh RunContext per call to Run; it is never shared across runs or
// goroutines.
type RunContext struct {
	Ledger *ledger.Ledger
	Ctx    context.Context
	Cancel context.CancelFunc
}

// NewRunContext creates a RunContext with a fresh, empty ledger and a
// cancellable child of parent (context.Background() if parent is nil).
func NewRunContext(parent context.Context, prices *ledger.PriceTable) *RunContext {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &RunContext{
		Ledger: ledger.New(prices),
		Ctx:    ctx,
		Cancel: cancel,
	}
}
