package agent

import (
	"log/slog"
	"time"
)

// DriverOptions configures the Agent Driver's tool-execution behavior.
// Unlike the teacher's RuntimeOptions, this carries no approval,
// async-job, or multi-tenant policy concerns — those belonged to the
// teacher's channel/session runtime, which this module's Conversation
// model (per-run, in-memory, owned exclusively by the Core
// Orchestrator) has no analogue for.
type DriverOptions struct {
	// MaxIterations limits tool-use iterations per run.
	MaxIterations int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for tool execution.
	ToolMaxAttempts int

	// ToolRetryBackoff waits between retry attempts.
	ToolRetryBackoff time.Duration

	// IterationSummaryEvery controls how often an iteration_summary
	// progress event is emitted.
	IterationSummaryEvery int

	// Logger receives driver diagnostics.
	Logger *slog.Logger
}

// DefaultDriverOptions returns the baseline driver options.
func DefaultDriverOptions() DriverOptions {
	return DriverOptions{
		MaxIterations:         10,
		ToolTimeout:           30 * time.Second,
		ToolMaxAttempts:       2,
		ToolRetryBackoff:      100 * time.Millisecond,
		IterationSummaryEvery: 3,
		Logger:                slog.Default(),
	}
}

func mergeDriverOptions(base, override DriverOptions) DriverOptions {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if override.ToolMaxAttempts > 0 {
		merged.ToolMaxAttempts = override.ToolMaxAttempts
	}
	if override.ToolRetryBackoff > 0 {
		merged.ToolRetryBackoff = override.ToolRetryBackoff
	}
	if override.IterationSummaryEvery > 0 {
		merged.IterationSummaryEvery = override.IterationSummaryEvery
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	return merged
}

// ApplyToPlan folds the driver options' iteration/tool budgets into a
// Plan, used when the orchestrator's composed plan should be clamped
// by process-wide operator defaults.
func (o DriverOptions) ApplyToPlan(plan *Plan) *Plan {
	plan = plan.withDefaults()
	if o.MaxIterations > 0 {
		plan.MaxIterations = o.MaxIterations
	}
	if o.IterationSummaryEvery > 0 {
		plan.IterationSummaryEvery = o.IterationSummaryEvery
	}
	return plan
}

// ApplyToExecutor folds the driver options' tool timeout/retry
// settings into an ExecutorConfig.
func (o DriverOptions) ApplyToExecutor(cfg *ExecutorConfig) *ExecutorConfig {
	if cfg == nil {
		cfg = DefaultExecutorConfig()
	}
	out := *cfg
	if o.ToolTimeout > 0 {
		out.DefaultTimeout = o.ToolTimeout
	}
	if o.ToolMaxAttempts > 0 {
		out.DefaultRetries = o.ToolMaxAttempts - 1
	}
	if o.ToolRetryBackoff > 0 {
		out.RetryBackoff = o.ToolRetryBackoff
	}
	return &out
}
