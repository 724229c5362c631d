package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/ledger"
	"github.com/haasonsaas/nexus-core/internal/registry"
	"github.com/haasonsaas/nexus-core/internal/router"
	"github.com/haasonsaas/nexus-core/internal/skills"
	"github.com/haasonsaas/nexus-core/internal/smallmodel"
	exectools "github.com/haasonsaas/nexus-core/internal/tools/exec"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// onDeviceToolNames lists the fixed on-device capability set in a
// stable order, mirroring the Agent Driver's §4.9.2 whitelist.
var onDeviceToolNames = []string{"bash", "write_file", "read_file"}

// SkillCreator implements skill auto-creation (spec §4.10 step 11).
// Failures from Create are logged and suppressed — they must never
// fail a user-visible run.
type SkillCreator interface {
	Create(ctx context.Context, request string, result *agent.RunResult, analysis *Analysis) error
}

// Orchestrator is the Core Orchestrator (spec §4.10): the single entry
// point tying the Cached Router, Skill Manifest, Agent Driver, Router
// Cache, and Token Ledger together into one request/response call.
//
// The teacher has no single component of this shape — its closest
// analogue, the gateway package, is channel-routing infrastructure
// dropped as out of scope (see DESIGN.md). Orchestrator is grounded
// instead on the teacher's AgenticLoop.Run top-level method for its
// failure-containment convention: every step is wrapped so a panic or
// error inside it becomes a BotResult{Success:false}, never a
// propagated panic or unhandled error.
type Orchestrator struct {
	Router     *router.Router
	Cache      *router.Cache
	Classifier router.Classifier

	Skills   *skills.Manager
	Registry *registry.Registry

	SmallModel   smallmodel.Client
	Provider     agent.LLMProvider // cloud_strong / cloud_fast provider
	FastProvider agent.LLMProvider // optional distinct fast-tier provider; falls back to Provider

	ExecManager *exectools.Manager

	Prices *ledger.PriceTable
	Logger *slog.Logger

	// AllowContinuation enables a single re-invocation of the Agent
	// Driver when a run truncates on its iteration budget (spec §8 E5).
	// The continuation re-runs with a fresh Conversation seeded only by
	// a short recap, not the original transcript — see DESIGN.md for why
	// full conversation-preserving continuation is out of scope here.
	AllowContinuation bool

	SkillCreator SkillCreator
}

// New creates an Orchestrator with a DefaultClassifier if none is
// supplied.
func New(o Orchestrator) *Orchestrator {
	if o.Classifier == nil {
		o.Classifier = NewDefaultClassifier()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &o
}

// Run executes the full eleven-step pipeline for one request. It never
// panics or returns a nil result: any internal failure is caught and
// surfaced as BotResult{Success:false, Error:...} (spec §7).
func (o *Orchestrator) Run(ctx context.Context, request string, sink models.ProgressSink) (result *BotResult) {
	rc := NewRunContext(ctx, o.Prices)
	defer rc.Cancel()

	defer func() {
		if r := recover(); r != nil {
			result = &BotResult{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	emit(sink, models.StageStart, request)

	// Step 1: route.
	var route *router.RouteResult
	if o.Router != nil {
		route = o.Router.Route(request)
	}
	if route != nil {
		emit(sink, models.StageRouted, string(route.Tier))
	}

	// Step 2: early exit on direct_answer.
	if route != nil && route.Tier == agent.TierDirectAnswer {
		return &BotResult{Success: true, Answer: route.Answer, Iterations: 0, ToolCalls: []string{}}
	}

	// Step 3: skill resolution.
	var ranked []skills.ResolvedSkill
	if o.Skills != nil {
		ranked = o.Skills.ResolveWithRelevanceFilter(rc.Ctx, o.SmallModel, request)
	}
	emit(sink, models.StageSkills, fmt.Sprintf("%d candidates", len(ranked)))

	// Step 4: analysis.
	analysis := o.analyse(rc.Ctx, route, ranked, request)
	emit(sink, models.StageAnalyzed, string(analysis.Complexity))

	// Step 5: on-device attempt.
	if analysis.PermitsOnDevice() {
		if res := o.attemptOnDevice(rc, analysis, request, sink); res != nil {
			return res
		}
	}

	// Step 6: merge router skill hints not already resolved.
	ranked = o.mergeRouterSkills(route, ranked)

	// Step 7: compose plan.
	plan := o.composePlan(route, analysis, ranked)

	// Step 8: compose system prompt.
	system := o.composeSystemPrompt(rc.Ctx, analysis, ranked, request)

	// Step 9: select tools.
	tools := o.selectTools(route, analysis, ranked)

	emit(sink, models.StageExecuting, string(plan.Tier))

	// Step 10: execute.
	driver := o.newDriver(rc.Ledger, tools...)
	runResult := driver.Run(rc.Ctx, plan, system, request, tools, sink)
	if runResult == nil {
		return &BotResult{Success: false, Error: "agent driver produced no result"}
	}

	// Step 11: post-process.
	if runResult.Truncated && o.AllowContinuation && runResult.Err == nil {
		runResult = o.continueRun(rc, plan, system, request, tools, runResult, sink)
	}

	o.maybeCreateSkill(rc.Ctx, request, runResult, analysis)
	o.syncRouterCache(ranked)

	return o.toBotResult(runResult, analysis, rc)
}

// analyse implements spec §4.10 step 4's three branches in priority
// order: a router-supplied Category's analysis, the skill fast-path
// (testable property 9), then an LLM-based analysis with a
// deterministic heuristic fallback.
func (o *Orchestrator) analyse(ctx context.Context, route *router.RouteResult, ranked []skills.ResolvedSkill, request string) *Analysis {
	if route != nil && route.Category != nil {
		return analysisFromCategory(route.Category)
	}
	if len(ranked) > 0 && ranked[0].HighConfidence() {
		return fastPathAnalysis(ranked[0])
	}
	if a, ok := llmAnalysis(ctx, o.SmallModel, request); ok {
		return a
	}
	return heuristicAnalysis(request)
}

// attemptOnDevice runs the on-device loop and returns a BotResult only
// on success; a nil return tells Run to fall through to the cloud
// path, matching spec step 5's "on success return, on null continue".
func (o *Orchestrator) attemptOnDevice(rc *RunContext, analysis *Analysis, request string, sink models.ProgressSink) *BotResult {
	plan := &agent.Plan{Tier: agent.TierOnDevice, MaxIterations: 6, MaxTokens: 1024}
	system := "You are an on-device assistant restricted to bash, read_file, and write_file."

	onDeviceTools := o.onDeviceTools()
	driver := o.newDriver(rc.Ledger, onDeviceTools...)
	res := driver.Run(rc.Ctx, plan, system, request, onDeviceTools, sink)
	if res == nil || !res.Success {
		return nil
	}
	return o.toBotResult(res, analysis, rc)
}

func (o *Orchestrator) onDeviceTools() []agent.Tool {
	if o.Registry == nil {
		return nil
	}
	var out []agent.Tool
	for _, name := range onDeviceToolNames {
		if t, ok := o.Registry.Get(name); ok {
			out = append(out, t)
		}
	}
	return out
}

// mergeRouterSkills adds any skill the router pinned via its
// Category's SkillsHint that resolve() didn't already surface,
// re-checked against the Skill Relevance Filter per step 6 so a stale
// hint pointing at a now-irrelevant skill doesn't force its way in.
func (o *Orchestrator) mergeRouterSkills(route *router.RouteResult, ranked []skills.ResolvedSkill) []skills.ResolvedSkill {
	if route == nil || route.Category == nil || len(route.Category.SkillsHint) == 0 || o.Skills == nil {
		return ranked
	}
	present := make(map[string]bool, len(ranked))
	for _, r := range ranked {
		present[r.Skill.Name] = true
	}
	for _, name := range route.Category.SkillsHint {
		if present[name] {
			continue
		}
		skill, ok := o.Skills.GetEligible(name)
		if !ok {
			continue
		}
		ranked = append(ranked, skills.ResolvedSkill{Skill: skill, Score: skills.HighConfidenceThreshold})
		present[name] = true
	}
	return ranked
}

// composePlan sizes iteration/token budgets from the analysis'
// complexity, widening both when a skill is in play (skills routinely
// need an extra round-trip to load instructions/scripts).
func (o *Orchestrator) composePlan(route *router.RouteResult, analysis *Analysis, ranked []skills.ResolvedSkill) *agent.Plan {
	if route != nil && route.Plan != nil {
		return route.Plan
	}
	plan := agent.DefaultPlan()
	plan.Tier = agent.TierCloudFast

	switch analysis.Complexity {
	case ComplexitySimple:
		plan.MaxIterations = 4
		plan.MaxTokens = 2048
	case ComplexityModerate:
		plan.MaxIterations = 8
		plan.MaxTokens = 4096
	case ComplexityComplex:
		plan.Tier = agent.TierCloudStrong
		plan.MaxIterations = 16
		plan.MaxTokens = 8192
	}
	if len(ranked) > 0 {
		plan.MaxIterations += 2
	}
	return plan
}

// composeSystemPrompt builds the base system prompt (a tiered template
// stand-in, since the spec leaves prompt templating to configuration)
// plus the top-resolved skill's instructions — condensed via the
// Small-Model Client for simple requests, loaded in full otherwise, per
// step 8.
func (o *Orchestrator) composeSystemPrompt(ctx context.Context, analysis *Analysis, ranked []skills.ResolvedSkill, request string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous execution agent. ")
	b.WriteString("Use the available tools to satisfy the request, then give a concise final answer.")
	if analysis.DefinitionOfDone != "" {
		b.WriteString(" Definition of done: ")
		b.WriteString(analysis.DefinitionOfDone)
	}

	if len(ranked) == 0 || o.Skills == nil {
		return b.String()
	}

	top := ranked[0]
	content, err := o.Skills.LoadContent(top.Skill.Name)
	if err != nil || strings.TrimSpace(content) == "" {
		return b.String()
	}

	if analysis.Complexity == ComplexitySimple {
		content = smallmodel.OptimiseSkillPrompt(ctx, o.SmallModel, request, content)
	}

	b.WriteString("\n\n---\nSkill: ")
	b.WriteString(top.Skill.Name)
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

// selectTools implements step 9: a router-pinned tool_set (widened to
// the minimum-viable on-device set so a cloud escalation never loses
// basic capability), or, absent a router hint, every core tool plus
// every resolved skill's tools for complex requests and just the
// minimum-viable set plus the top skill's tools otherwise.
func (o *Orchestrator) selectTools(route *router.RouteResult, analysis *Analysis, ranked []skills.ResolvedSkill) []agent.Tool {
	seen := make(map[string]bool)
	var out []agent.Tool
	add := func(t agent.Tool) {
		if t == nil || seen[t.Name()] {
			return
		}
		seen[t.Name()] = true
		out = append(out, t)
	}

	if route != nil && route.Category != nil && len(route.Category.ToolsHint) > 0 && o.Registry != nil {
		for _, name := range route.Category.ToolsHint {
			if t, ok := o.Registry.Get(name); ok {
				add(t)
			}
		}
	}
	for _, t := range o.onDeviceTools() {
		add(t)
	}

	if analysis.Complexity == ComplexityComplex && o.Registry != nil {
		for _, t := range o.Registry.All() {
			add(t)
		}
	}

	for i, r := range ranked {
		if analysis.Complexity != ComplexityComplex && i > 0 {
			break
		}
		for _, t := range skills.BuildSkillTools(r.Skill, o.ExecManager) {
			add(t)
		}
	}
	return out
}

// newDriver builds a fresh Agent Driver for one call; the Orchestrator
// never reuses a Driver across runs since each run owns its own
// Conversation and Stale-Loop Guard for its lifetime only. tools are
// registered into the Driver's per-run ToolRegistry so its Executor
// can dispatch calls the LLM makes against them.
func (o *Orchestrator) newDriver(led *ledger.Ledger, tools ...agent.Tool) *agent.Driver {
	reg := agent.NewToolRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	return agent.NewDriver(o.Provider, reg, o.SmallModel, led)
}

// continueRun re-invokes the Agent Driver once with a short recap of
// the truncated run in place of the original request. This is a
// deliberate simplification of spec §8 E5: a fully conversation-
// preserving continuation would require the orchestrator to own the
// Conversation across calls rather than the Driver owning a fresh one
// per invocation, which is out of scope here (documented in
// DESIGN.md). The recap still lets the run make forward progress
// instead of simply stopping at the budget.
func (o *Orchestrator) continueRun(rc *RunContext, plan *agent.Plan, system, request string, tools []agent.Tool, prior *agent.RunResult, sink models.ProgressSink) *agent.RunResult {
	recap := fmt.Sprintf(
		"Continuing a prior run that reached its iteration budget after %d tool call(s) (%s). "+
			"Original request: %s\nPick up where it left off and finish the task.",
		len(prior.ToolNames), strings.Join(prior.ToolNames, ", "), request,
	)
	driver := o.newDriver(rc.Ledger, tools...)
	cont := driver.Run(rc.Ctx, plan, system, recap, tools, sink)
	if cont == nil {
		return prior
	}
	merged := *cont
	merged.Iterations += prior.Iterations
	merged.ToolCalls += prior.ToolCalls
	merged.ToolNames = append(append([]string(nil), prior.ToolNames...), cont.ToolNames...)
	return &merged
}

// maybeCreateSkill implements the skill auto-creation predicate (spec
// §4.10 step 11): a run that wasn't already skill-backed and either
// took more than one estimated step or wasn't "simple" is a candidate
// for a reusable skill. Failures are logged and suppressed — they must
// never fail a user-visible run.
func (o *Orchestrator) maybeCreateSkill(ctx context.Context, request string, result *agent.RunResult, analysis *Analysis) {
	if o.SkillCreator == nil || result == nil || !result.Success {
		return
	}
	if analysis.SkillMatched {
		return
	}
	if analysis.Complexity == ComplexitySimple && analysis.EstimatedSteps < 2 {
		return
	}
	if err := o.SkillCreator.Create(ctx, request, result, analysis); err != nil {
		o.Logger.Warn("skill auto-creation failed", "error", err)
	}
}

// syncRouterCache appends categories for any skill/tool the Router
// Cache doesn't yet know about. Failures are logged and suppressed —
// a stale cache degrades to a router miss next time, it never fails
// this run.
func (o *Orchestrator) syncRouterCache(ranked []skills.ResolvedSkill) {
	if o.Cache == nil || o.Skills == nil {
		return
	}
	hints := make([]router.SkillHint, 0, len(ranked))
	for _, r := range ranked {
		hints = append(hints, router.SkillHint{Name: r.Skill.Name, Description: r.Skill.Description, Keywords: r.Skill.Keywords})
	}
	var toolHints []router.ToolHint
	if o.Registry != nil {
		for _, t := range o.Registry.All() {
			toolHints = append(toolHints, router.ToolHint{Name: t.Name(), Description: t.Description()})
		}
	}
	if err := o.Cache.Sync(o.Classifier, hints, toolHints); err != nil {
		o.Logger.Warn("router cache sync failed", "error", err)
	}
}

func (o *Orchestrator) toBotResult(res *agent.RunResult, analysis *Analysis, rc *RunContext) *BotResult {
	totals := rc.Ledger.OverallTotals()
	out := &BotResult{
		Success:    res.Success,
		Answer:     res.Answer,
		Iterations: res.Iterations,
		ToolCalls:  res.ToolNames,
		TokenUsage: totals,
		Analysis:   analysis,
		Ledger:     rc.Ledger,
		Truncated:  res.Truncated,
	}
	if out.ToolCalls == nil {
		out.ToolCalls = []string{}
	}
	if !res.Success && res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func emit(sink models.ProgressSink, stage models.ProgressStage, message string) {
	if sink == nil {
		return
	}
	sink.Emit(models.ProgressEvent{Stage: stage, Message: message})
}
