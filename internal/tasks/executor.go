package tasks

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Runner executes a scheduled task's command. OrchestratorRunner is the
// production implementation; tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, command string) error
}

// OrchestratorRunner runs a task's command through the Core
// Orchestrator, exactly as spec §4.11 step 2 requires
// ("invoke orchestrator.run(task.command)").
type OrchestratorRunner struct {
	Orchestrator *orchestrator.Orchestrator
}

// Run invokes the orchestrator and turns a failed BotResult into an
// error so the scheduler can record it uniformly.
func (r *OrchestratorRunner) Run(ctx context.Context, command string) error {
	if r.Orchestrator == nil {
		return fmt.Errorf("no orchestrator configured")
	}
	result := r.Orchestrator.Run(ctx, command, models.NullProgressSink{})
	if result == nil {
		return fmt.Errorf("orchestrator produced no result")
	}
	if !result.Success {
		return fmt.Errorf("orchestrator run failed: %s", result.Error)
	}
	return nil
}
