package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/compaction"
	"github.com/haasonsaas/nexus-core/internal/ledger"
	"github.com/haasonsaas/nexus-core/internal/smallmodel"
	"github.com/haasonsaas/nexus-core/internal/staleguard"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// PlanTier selects which model class (and which loop implementation)
// the Agent Driver uses for a run.
type PlanTier string

const (
	// TierDirectAnswer is handled entirely by the router/orchestrator —
	// the Agent Driver never runs for it; it exists here only so Plan
	// and RouteResult share one tier vocabulary across packages.
	TierDirectAnswer PlanTier = "direct_answer"
	TierCloudStrong  PlanTier = "cloud_strong"
	TierCloudFast    PlanTier = "cloud_fast"
	TierOnDevice     PlanTier = "on_device"
)

// Plan is the Core Orchestrator's composed execution plan for one run:
// model tier, iteration/token budgets, and the (possibly skill-derived)
// system prompt addendum. The orchestrator builds one of these per
// request; the Agent Driver only consumes it.
type Plan struct {
	Tier  PlanTier
	Model string

	MaxIterations int
	MaxTokens     int

	// CompactionHighWaterMark is the token count (default 80,000,
	// i.e. the spec's virtual limit) above which the Context Compactor
	// is invoked before the next model call.
	CompactionHighWaterMark int

	// CompactionLowWaterMark is the fraction of CompactionHighWaterMark
	// the compactor targets after compacting (default 0.5).
	CompactionLowWaterMark float64

	// ContextWindow is the model's declared context window, used by
	// the compactor to judge oversized messages.
	ContextWindow int

	// ToolResultSummaryThreshold is the character count above which a
	// tool result is condensed via the Small-Model Client before being
	// folded back into history.
	ToolResultSummaryThreshold int

	// IterationSummaryEvery controls how often (in iterations) an
	// iteration_summary progress event is emitted (default 3).
	IterationSummaryEvery int

	// TailMessages is the number of most-recent messages the compactor
	// always preserves untouched (default enough to retain the last
	// tool call and its result).
	TailMessages int

	// SkillPrompt is condensed or full skill instructions already
	// composed by the orchestrator, appended to the system prompt.
	SkillPrompt string
}

// DefaultPlan returns a Plan with the spec's default budgets.
func DefaultPlan() *Plan {
	return &Plan{
		Tier:                       TierCloudStrong,
		MaxIterations:              10,
		MaxTokens:                  4096,
		CompactionHighWaterMark:    80000,
		CompactionLowWaterMark:     0.5,
		ContextWindow:              compaction.DefaultContextWindow,
		ToolResultSummaryThreshold: 4000,
		IterationSummaryEvery:      3,
		TailMessages:               4,
	}
}

func (p *Plan) withDefaults() *Plan {
	if p == nil {
		return DefaultPlan()
	}
	cfg := *p
	def := DefaultPlan()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.CompactionHighWaterMark <= 0 {
		cfg.CompactionHighWaterMark = def.CompactionHighWaterMark
	}
	if cfg.CompactionLowWaterMark <= 0 || cfg.CompactionLowWaterMark > 1 {
		cfg.CompactionLowWaterMark = def.CompactionLowWaterMark
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = def.ContextWindow
	}
	if cfg.ToolResultSummaryThreshold <= 0 {
		cfg.ToolResultSummaryThreshold = def.ToolResultSummaryThreshold
	}
	if cfg.IterationSummaryEvery <= 0 {
		cfg.IterationSummaryEvery = def.IterationSummaryEvery
	}
	if cfg.TailMessages <= 0 {
		cfg.TailMessages = def.TailMessages
	}
	return &cfg
}

// RunResult is the Agent Driver's unchanged public return value.
type RunResult struct {
	Success    bool
	Answer     string
	Iterations int
	ToolCalls  int
	// ToolNames records, in call order, the name of every tool invoked
	// during the run — the orchestrator's BotResult.ToolCalls surfaces
	// this list rather than just the count.
	ToolNames  []string
	Tokens     int64
	Truncated  bool
	Err        error
}

// Driver is the Agent Driver: it wraps an LLM provider (or, for the
// on_device tier, a Small-Model Client) in a React loop, executing
// tool calls strictly sequentially and halting on stall detection.
//
// Grounded on internal/agent/loop.go's AgenticLoop from the teacher,
// with session/branch persistence and parallel tool dispatch removed:
// the Conversation here is purely per-run and in-memory (the
// Orchestrator owns it for the run's lifetime only), and tool calls
// are executed one at a time via Executor.Execute, never ExecuteAll.
type Driver struct {
	Provider   LLMProvider
	Registry   *ToolRegistry
	Executor   *Executor
	SmallModel smallmodel.Client
	Ledger     *ledger.Ledger

	// BashToolName names the shell-execution tool the on-device loop's
	// fixed capability set refers to as "bash".
	BashToolName string
}

// NewDriver creates an Agent Driver. A nil ledger gets its own fresh
// ledger.Ledger; a nil registry gets an empty ToolRegistry.
func NewDriver(provider LLMProvider, registry *ToolRegistry, small smallmodel.Client, led *ledger.Ledger) *Driver {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if led == nil {
		led = ledger.New(nil)
	}
	return &Driver{
		Provider:     provider,
		Registry:     registry,
		Executor:     NewExecutor(registry, DefaultExecutorConfig()),
		SmallModel:   small,
		Ledger:       led,
		BashToolName: "bash",
	}
}

func emit(sink models.ProgressSink, stage models.ProgressStage, message string) {
	if sink == nil {
		return
	}
	sink.Emit(models.ProgressEvent{Stage: stage, Message: message})
}

// Run executes the Agent Driver's loop for the given plan, dispatching
// to the cloud loop (§4.9.1) or the on-device loop (§4.9.2) by tier.
func (d *Driver) Run(ctx context.Context, plan *Plan, systemPrompt, userPrompt string, tools []Tool, sink models.ProgressSink) *RunResult {
	plan = plan.withDefaults()

	emit(sink, models.StageAgentStart, "agent run starting")

	var result *RunResult
	if plan.Tier == TierOnDevice {
		result = d.runOnDevice(ctx, plan, systemPrompt, userPrompt, sink)
	} else {
		result = d.runCloud(ctx, plan, systemPrompt, userPrompt, tools, sink)
	}

	if result == nil {
		emit(sink, models.StageError, "run returned no result")
		return &RunResult{Success: false, Err: fmt.Errorf("agent driver produced no result")}
	}

	if result.Success {
		emit(sink, models.StageAgentComplete, "agent run complete")
	} else if result.Err != nil {
		emit(sink, models.StageError, result.Err.Error())
	}
	return result
}

// runCloud implements §4.9.1: the cloud React loop against the
// configured LLMProvider.
func (d *Driver) runCloud(ctx context.Context, plan *Plan, systemPrompt, userPrompt string, tools []Tool, sink models.ProgressSink) *RunResult {
	if d.Provider == nil {
		return &RunResult{Success: false, Err: ErrNoProvider}
	}

	system := systemPrompt
	if plan.SkillPrompt != "" {
		system = strings.TrimSpace(system + "\n\n" + plan.SkillPrompt)
	}

	guard := staleguard.New(staleguard.Config{})
	messages := []models.Message{{Role: models.RoleUser, Content: userPrompt, CreatedAt: time.Now()}}

	totalToolCalls := 0
	var toolNames []string
	var lastText string

	for iteration := 1; iteration <= plan.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return &RunResult{Success: false, Iterations: iteration - 1, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: ctx.Err()}
		default:
		}

		if saved := d.compactIfNeeded(ctx, &messages, plan, sink); saved > 0 {
			d.Ledger.Record(d.Provider.Name(), plan.Model, ledger.PurposeCompaction, 0, 0, saved)
		}

		emit(sink, models.StageIteration, fmt.Sprintf("iteration %d", iteration))

		req := &CompletionRequest{
			Model:     plan.Model,
			System:    system,
			Messages:  toCompletionMessages(messages),
			Tools:     tools,
			MaxTokens: plan.MaxTokens,
		}

		chunks, err := d.Provider.Complete(ctx, req)
		if err != nil {
			return &RunResult{Success: false, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: err}
		}

		var text strings.Builder
		var toolCalls []models.ToolCall
		var inputTokens, outputTokens int
		for chunk := range chunks {
			if chunk.Error != nil {
				return &RunResult{Success: false, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: chunk.Error}
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				inputTokens = chunk.InputTokens
				outputTokens = chunk.OutputTokens
			}
		}

		d.Ledger.Record(d.Provider.Name(), plan.Model, ledger.PurposeAgentLoop, int64(inputTokens), int64(outputTokens), 0)
		lastText = text.String()

		if len(toolCalls) == 0 {
			messages = append(messages, models.Message{Role: models.RoleAssistant, Content: lastText, CreatedAt: time.Now()})
			overall := d.Ledger.OverallTotals()
			return &RunResult{
				Success:    true,
				Answer:     lastText,
				Iterations: iteration,
				ToolCalls:  totalToolCalls,
				ToolNames:  toolNames,
				Tokens:     overall.Total(),
			}
		}

		messages = append(messages, models.Message{Role: models.RoleAssistant, Content: lastText, ToolCalls: toolCalls, CreatedAt: time.Now()})
		totalToolCalls += len(toolCalls)

		for _, call := range toolCalls {
			toolNames = append(toolNames, call.Name)
			stage := models.StageTool
			if call.Name == d.BashToolName {
				stage = models.StageBashCall
			}
			emit(sink, stage, call.Name)

			toolResult, wasError := d.executeOne(ctx, call, plan, sink)
			isEmpty := isEmptyToolCall(call.Name, d.BashToolName, call.Input)

			messages = append(messages, models.Message{Role: models.RoleTool, ToolResults: []models.ToolResult{toolResult}, CreatedAt: time.Now()})

			if stallErr := guard.Record(call.Name, call.Input, wasError, isEmpty); stallErr != nil {
				overall := d.Ledger.OverallTotals()
				return &RunResult{
					Success:    false,
					Iterations: iteration,
					ToolCalls:  totalToolCalls,
					ToolNames:  toolNames,
					Tokens:     overall.Total(),
					Err:        stallErr,
				}
			}
		}

		if iteration%plan.IterationSummaryEvery == 0 {
			d.emitIterationSummary(ctx, iteration, messages, sink)
		}
	}

	overall := d.Ledger.OverallTotals()
	return &RunResult{
		Success:    true,
		Answer:     lastText,
		Iterations: plan.MaxIterations,
		ToolCalls:  totalToolCalls,
		ToolNames:  toolNames,
		Tokens:     overall.Total(),
		Truncated:  true,
	}
}

// executeOne runs a single tool call through the Executor (never
// ExecuteAll — spec §5 mandates strictly sequential tool dispatch
// within a run), optionally condensing an oversized result via the
// Small-Model Client before it is folded back into history.
func (d *Driver) executeOne(ctx context.Context, call models.ToolCall, plan *Plan, sink models.ProgressSink) (models.ToolResult, bool) {
	execResult := d.Executor.Execute(ctx, call)

	var res models.ToolResult
	wasError := false
	switch {
	case execResult.Error != nil:
		res = models.ToolResult{ToolCallID: call.ID, Content: execResult.Error.Error(), IsError: true}
		wasError = true
	case execResult.Result != nil:
		res = models.ToolResult{ToolCallID: call.ID, Content: execResult.Result.Content, IsError: execResult.Result.IsError}
		wasError = execResult.Result.IsError
	default:
		res = models.ToolResult{ToolCallID: call.ID, Content: "tool execution produced no result", IsError: true}
		wasError = true
	}

	if !wasError && d.SmallModel != nil && len(res.Content) > plan.ToolResultSummaryThreshold {
		if digest, ok := smallmodel.SummariseToolResult(ctx, d.SmallModel, call.Name, res.Content, plan.ToolResultSummaryThreshold); ok {
			res.Content = digest
		}
	}

	return res, wasError
}

// compactIfNeeded invokes the Context Compactor when the conversation
// exceeds the plan's high-water mark, mutating messages in place.
// Returns the bytes saved (0 if no compaction occurred).
func (d *Driver) compactIfNeeded(ctx context.Context, messages *[]models.Message, plan *Plan, sink models.ProgressSink) int64 {
	current := *messages
	total := compaction.EstimateMessagesTokens(toCompactionMessages(current))
	if total <= plan.CompactionHighWaterMark {
		return 0
	}

	tail := plan.TailMessages
	if tail >= len(current) {
		return 0
	}
	prefix := current[:len(current)-tail]
	keep := current[len(current)-tail:]

	emit(sink, models.StageSummaryBefore, fmt.Sprintf("compacting %d messages", len(prefix)))

	prefixC := toCompactionMessages(prefix)
	originalSize := len(compaction.FormatMessagesForSummary(prefixC))

	cfg := compaction.DefaultSummarizationConfig()
	cfg.ContextWindow = plan.ContextWindow

	var summaryMsg models.Message
	var bytesSaved int64

	if d.SmallModel != nil && d.SmallModel.Available(ctx) {
		summarizer := smallmodel.NewSummarizer(d.SmallModel)
		if text, err := compaction.SummarizeWithFallback(ctx, prefixC, summarizer, cfg); err == nil && strings.TrimSpace(text) != "" {
			summaryMsg = models.Message{Role: models.RoleAssistant, Content: text, CreatedAt: time.Now()}
			if originalSize > len(text) {
				bytesSaved = int64(originalSize - len(text))
			}
		}
	}

	if summaryMsg.Content == "" {
		truncated, saved := fallbackTruncate(prefix)
		*messages = append(truncated, keep...)
		emit(sink, models.StageSummaryAfter, "compacted via deterministic truncation")
		return saved
	}

	*messages = append([]models.Message{summaryMsg}, keep...)
	emit(sink, models.StageSummaryAfter, "compacted via small-model summary")
	return bytesSaved
}

// fallbackTruncate implements the compactor's deterministic fallback:
// drop the middle half of the prefix and insert a fixed marker,
// keeping the outer quarters untouched. Never invoked on the tail
// (the latest user message and latest tool result are never dropped).
func fallbackTruncate(prefix []models.Message) ([]models.Message, int64) {
	n := len(prefix)
	if n <= 2 {
		return prefix, 0
	}
	keepEach := n / 4
	if keepEach < 1 {
		keepEach = 1
	}
	head := prefix[:keepEach]
	dropped := prefix[keepEach : n-keepEach]
	tail := prefix[n-keepEach:]

	var bytesSaved int64
	for _, m := range dropped {
		bytesSaved += int64(len(m.Content))
	}

	out := make([]models.Message, 0, len(head)+1+len(tail))
	out = append(out, head...)
	out = append(out, models.Message{Role: models.RoleAssistant, Content: "[earlier context omitted]", CreatedAt: time.Now()})
	out = append(out, tail...)
	return out, bytesSaved
}

// emitIterationSummary condenses the run's progress so far via the
// Small-Model Client and emits it as an iteration_summary progress
// event. Best-effort: the event carries a generic message when the
// small model is unavailable.
func (d *Driver) emitIterationSummary(ctx context.Context, iteration int, messages []models.Message, sink models.ProgressSink) {
	message := fmt.Sprintf("iteration %d in progress", iteration)
	if d.SmallModel != nil && d.SmallModel.Available(ctx) {
		recent := messages
		if len(recent) > 8 {
			recent = recent[len(recent)-8:]
		}
		if text, ok := d.SmallModel.Generate(ctx, "Summarise the agent's progress so far in one short sentence.", compaction.FormatMessagesForSummary(toCompactionMessages(recent)), 128); ok && strings.TrimSpace(text) != "" {
			message = strings.TrimSpace(text)
		}
	}
	emit(sink, models.StageIterationSummary, message)
}

// runOnDevice implements §4.9.2: the constrained on-device loop driven
// by the Small-Model Client instead of a full LLMProvider. Tool
// capabilities are fixed to {bash, write_file, read_file}. Any null
// model response or tool error aborts the run with Success=false so
// the orchestrator can re-execute at a higher tier — this is not a
// failure of the Agent Driver contract, just a signal to escalate.
func (d *Driver) runOnDevice(ctx context.Context, plan *Plan, systemPrompt, userPrompt string, sink models.ProgressSink) *RunResult {
	if d.SmallModel == nil || !d.SmallModel.Available(ctx) {
		return &RunResult{Success: false, Err: fmt.Errorf("small model unavailable")}
	}

	const onDeviceProtocol = `Respond with a single JSON object, no prose. ` +
		`To call a tool: {"action":"tool","tool":"bash|write_file|read_file","input":{...}}. ` +
		`To give the final answer: {"action":"final","answer":"..."}.`

	system := strings.TrimSpace(systemPrompt + "\n\n" + onDeviceProtocol)
	if plan.SkillPrompt != "" {
		system = strings.TrimSpace(system + "\n\n" + plan.SkillPrompt)
	}

	allowed := map[string]bool{"bash": true, "write_file": true, "read_file": true}
	guard := staleguard.New(staleguard.Config{})

	var transcript strings.Builder
	transcript.WriteString("Request: ")
	transcript.WriteString(userPrompt)

	totalToolCalls := 0
	var toolNames []string

	for iteration := 1; iteration <= plan.MaxIterations; iteration++ {
		emit(sink, models.StageIteration, fmt.Sprintf("on-device iteration %d", iteration))

		text, ok := d.SmallModel.Generate(ctx, system, transcript.String(), plan.MaxTokens)
		if !ok {
			return &RunResult{Success: false, Iterations: iteration - 1, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: fmt.Errorf("on-device model returned null")}
		}

		var step struct {
			Action string          `json:"action"`
			Answer string          `json:"answer"`
			Tool   string          `json:"tool"`
			Input  json.RawMessage `json:"input"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &step); err != nil {
			// Non-conforming output is treated as the final answer,
			// matching the driver's conservative degrade-gracefully style.
			return &RunResult{Success: true, Answer: text, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames}
		}

		if step.Action == "final" || step.Tool == "" {
			return &RunResult{Success: true, Answer: step.Answer, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames}
		}

		if !allowed[step.Tool] {
			return &RunResult{Success: false, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: fmt.Errorf("on-device tool %q outside capability set", step.Tool)}
		}

		call := models.ToolCall{ID: fmt.Sprintf("ondevice-%d", iteration), Name: step.Tool, Input: step.Input}
		emit(sink, models.StageBashCall, step.Tool)

		execResult := d.Executor.Execute(ctx, call)
		totalToolCalls++
		toolNames = append(toolNames, step.Tool)

		if execResult.Error != nil || (execResult.Result != nil && execResult.Result.IsError) {
			return &RunResult{Success: false, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: fmt.Errorf("on-device tool call failed")}
		}

		content := ""
		if execResult.Result != nil {
			content = execResult.Result.Content
		}
		isEmpty := isEmptyToolCall(step.Tool, "bash", step.Input)
		if stallErr := guard.Record(step.Tool, step.Input, false, isEmpty); stallErr != nil {
			return &RunResult{Success: false, Iterations: iteration, ToolCalls: totalToolCalls, ToolNames: toolNames, Err: stallErr}
		}

		transcript.WriteString(fmt.Sprintf("\nTool %s result: %s", step.Tool, content))
	}

	return &RunResult{Success: true, Iterations: plan.MaxIterations, ToolCalls: totalToolCalls, ToolNames: toolNames, Truncated: true}
}

// isEmptyToolCall implements the Stale-Loop Guard's per-tool
// is-empty predicate (§4.8): bash keys on its trimmed command, file
// writes key on a missing path or content, everything else keys on an
// empty input map.
func isEmptyToolCall(toolName, bashToolName string, input json.RawMessage) bool {
	switch toolName {
	case bashToolName:
		var in struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return true
		}
		return strings.TrimSpace(in.Command) == ""
	case "write_file":
		var in struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return true
		}
		return strings.TrimSpace(in.Path) == "" || in.Content == ""
	default:
		var m map[string]any
		if err := json.Unmarshal(input, &m); err != nil {
			return len(input) == 0
		}
		return len(m) == 0
	}
}

func toCompletionMessages(messages []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
			Attachments: m.Attachments,
		})
	}
	return out
}

func toCompactionMessages(messages []models.Message) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(messages))
	for _, m := range messages {
		cm := &compaction.Message{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt.Unix(),
		}
		if len(m.ToolCalls) > 0 {
			if data, err := json.Marshal(m.ToolCalls); err == nil {
				cm.ToolCalls = string(data)
			}
		}
		if len(m.ToolResults) > 0 {
			if data, err := json.Marshal(m.ToolResults); err == nil {
				cm.ToolResults = string(data)
			}
		}
		out = append(out, cm)
	}
	return out
}
