package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/router"
	"github.com/haasonsaas/nexus-core/internal/skills"
	"github.com/haasonsaas/nexus-core/internal/smallmodel"
)

const analysisPrompt = `Analyse the following request for an autonomous coding/ops agent. ` +
	`Respond with a single JSON object, no prose: ` +
	`{"complexity":"simple|moderate|complex","estimated_steps":<int>,"requires_bash":<bool>,` +
	`"requires_file_ops":<bool>,"definition_of_done":"<short sentence>","potential_tools":["..."]}.`

// analysisFromCategory implements spec §4.10 step 4's first branch: when
// the router matched a (non-direct_answer) Category, its Plan tier
// already pins the execution shape, so no separate analysis call is
// needed.
func analysisFromCategory(cat *router.Category) *Analysis {
	tools := append([]string(nil), cat.ToolsHint...)
	if cat.Plan != nil && cat.Plan.Tier == "on_device" {
		return &Analysis{
			Complexity:     ComplexitySimple,
			EstimatedSteps: 1,
			RequiresBash:   containsTool(tools, "bash"),
			PotentialTools: withDefault(tools, "bash"),
		}
	}
	return &Analysis{
		Complexity:     ComplexityModerate,
		EstimatedSteps: 2,
		PotentialTools: tools,
	}
}

// fastPathAnalysis implements step 4's second branch, and is the
// concrete implementation of the skill fast-path predicate (spec §8
// testable property 9): whenever top.Score >= HighConfidenceThreshold,
// the returned Analysis always has SkillMatched=true and SkillName set,
// independent of anything else about the request.
func fastPathAnalysis(top skills.ResolvedSkill) *Analysis {
	tools := skillToolNames(top.Skill)
	return &Analysis{
		Complexity:      ComplexityModerate,
		EstimatedSteps:  2,
		RequiresFileOps: containsTool(tools, "write_file") || containsTool(tools, "read_file"),
		RequiresBash:    containsTool(tools, "bash"),
		PotentialTools:  tools,
		SkillMatched:    true,
		SkillName:       top.Skill.Name,
	}
}

func skillToolNames(skill *skills.SkillEntry) []string {
	if skill == nil || skill.Metadata == nil {
		return nil
	}
	out := make([]string, 0, len(skill.Metadata.Tools))
	for _, t := range skill.Metadata.Tools {
		out = append(out, t.Name)
	}
	return out
}

// heuristicAnalysis is the deterministic fallback used when no
// small-model client is available (or its response doesn't parse): a
// keyword sniff over the raw request text. This never invokes a model,
// matching resolve()'s "MUST NOT invoke any model" spirit for the
// cheapest rung of analysis.
func heuristicAnalysis(request string) *Analysis {
	lower := strings.ToLower(request)
	requiresBash := containsAny(lower, "run ", "execute", "command", "install", "build", "test", "script", "ls ", "grep ", "git ")
	requiresFileOps := containsAny(lower, "file", "write", "read ", "edit", "create ", "directory", "folder")

	words := len(strings.Fields(request))
	multiStep := containsAny(lower, " then ", "after that", "first,", "next,", " and then")

	var complexity Complexity
	var steps int
	switch {
	case (requiresBash && requiresFileOps) || multiStep || words > 40:
		complexity, steps = ComplexityComplex, 4
	case requiresBash || requiresFileOps:
		complexity, steps = ComplexityModerate, 2
	default:
		complexity, steps = ComplexitySimple, 1
	}

	var tools []string
	if requiresBash || (!requiresFileOps && complexity == ComplexitySimple) {
		tools = append(tools, "bash")
	}
	if requiresFileOps {
		tools = append(tools, "read_file", "write_file")
	}

	return &Analysis{
		Complexity:      complexity,
		EstimatedSteps:  steps,
		RequiresBash:    requiresBash,
		RequiresFileOps: requiresFileOps,
		DefinitionOfDone: "the request is answered or the requested change is made",
		PotentialTools:  tools,
	}
}

// llmAnalysis asks the Small-Model Client (the cheapest tier, per spec
// §4.10 step 4) for a structured analysis. Returns ok=false on any
// unavailable client, null response, or unparseable JSON, so the
// caller can fall back to heuristicAnalysis without ever surfacing a
// model failure as an orchestrator error.
func llmAnalysis(ctx context.Context, client smallmodel.Client, request string) (*Analysis, bool) {
	if client == nil || !client.Available(ctx) {
		return nil, false
	}
	text, ok := client.Generate(ctx, analysisPrompt, request, 256)
	if !ok {
		return nil, false
	}
	var parsed struct {
		Complexity       string   `json:"complexity"`
		EstimatedSteps   int      `json:"estimated_steps"`
		RequiresBash     bool     `json:"requires_bash"`
		RequiresFileOps  bool     `json:"requires_file_ops"`
		DefinitionOfDone string   `json:"definition_of_done"`
		PotentialTools   []string `json:"potential_tools"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return nil, false
	}
	complexity := Complexity(strings.ToLower(strings.TrimSpace(parsed.Complexity)))
	switch complexity {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
	default:
		return nil, false
	}
	if parsed.EstimatedSteps <= 0 {
		parsed.EstimatedSteps = 1
	}
	return &Analysis{
		Complexity:       complexity,
		EstimatedSteps:   parsed.EstimatedSteps,
		RequiresBash:     parsed.RequiresBash,
		RequiresFileOps:  parsed.RequiresFileOps,
		DefinitionOfDone: parsed.DefinitionOfDone,
		PotentialTools:   parsed.PotentialTools,
	}, true
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

func withDefault(tools []string, fallback string) []string {
	if len(tools) == 0 {
		return []string{fallback}
	}
	return tools
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
