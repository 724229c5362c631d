package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/registry"
	"github.com/haasonsaas/nexus-core/internal/router"
	"github.com/haasonsaas/nexus-core/internal/skills"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// fakeSmallModel lets tests steer the analysis branch (heuristic vs
// llmAnalysis) independently of the on-device loop's own calls, by
// inspecting the system prompt it's given.
type fakeSmallModel struct {
	available    bool
	onDeviceStep int
	onDevicePlan []string // JSON payloads returned on successive on-device calls
}

func (f *fakeSmallModel) Available(ctx context.Context) bool { return f.available }

func (f *fakeSmallModel) Generate(ctx context.Context, system, user string, maxTokens int) (string, bool) {
	if strings.Contains(system, "Analyse the following request") {
		return "", false
	}
	if len(f.onDevicePlan) == 0 {
		return `{"action":"final","answer":"ok"}`, true
	}
	idx := f.onDeviceStep
	if idx >= len(f.onDevicePlan) {
		idx = len(f.onDevicePlan) - 1
	}
	f.onDeviceStep++
	return f.onDevicePlan[idx], true
}

// fakeTool is a minimal registry.Tool for driving executor calls in
// tests without shelling out.
type fakeTool struct {
	name    string
	content string
}

func (t *fakeTool) Name() string               { return t.name }
func (t *fakeTool) Description() string        { return "test tool " + t.name }
func (t *fakeTool) Category() string           { return "test" }
func (t *fakeTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*registry.ToolResult, error) {
	return &registry.ToolResult{Content: t.content}, nil
}

// fakeProvider replays a fixed script of tool-call/final-answer
// iterations for the cloud loop.
type fakeProvider struct {
	script []fakeTurn
	call   int
}

type fakeTurn struct {
	text      string
	toolCalls []models.ToolCall
}

func (p *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	turn := p.script[p.call]
	if p.call < len(p.script)-1 {
		p.call++
	}
	ch := make(chan *agent.CompletionChunk, len(turn.toolCalls)+1)
	if turn.text != "" {
		ch <- &agent.CompletionChunk{Text: turn.text}
	}
	for i := range turn.toolCalls {
		ch <- &agent.CompletionChunk{ToolCall: &turn.toolCalls[i]}
	}
	ch <- &agent.CompletionChunk{Done: true, InputTokens: 10, OutputTokens: 5}
	close(ch)
	return ch, nil
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Models() []agent.Model { return nil }
func (p *fakeProvider) SupportsTools() bool   { return true }

func newEmptySkillsManager(t *testing.T) *skills.Manager {
	t.Helper()
	m, err := skills.NewManager(nil, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// TestRun_DirectAnswerIsZeroCost covers testable property P3: a
// direct_answer route short-circuits with Iterations=0 and no tool
// calls, never touching the Agent Driver.
func TestRun_DirectAnswerIsZeroCost(t *testing.T) {
	classifier := &stubClassifier{
		skill: func(h router.SkillHint) *router.Category {
			if h.Name != "greet" {
				return nil
			}
			return &router.Category{
				ID:           "greet",
				Triggers:     [][]string{{"hello"}},
				Plan:         &agent.Plan{Tier: agent.TierDirectAnswer},
				DirectAnswer: "Hi there!",
			}
		},
	}
	cache := router.NewCache(t.TempDir() + "/manifest.json")
	if err := cache.Generate(classifier, []router.SkillHint{{Name: "greet"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	o := New(Orchestrator{
		Router: router.NewRouter(cache),
		Cache:  cache,
	})

	result := o.Run(context.Background(), "hello there", nil)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "Hi there!" {
		t.Errorf("Answer = %q, want %q", result.Answer, "Hi there!")
	}
	if result.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", result.Iterations)
	}
	if len(result.ToolCalls) != 0 {
		t.Errorf("ToolCalls = %v, want empty", result.ToolCalls)
	}
}

type stubClassifier struct {
	skill func(router.SkillHint) *router.Category
	tool  func(router.ToolHint) *router.Category
}

func (c *stubClassifier) ClassifySkill(h router.SkillHint) *router.Category {
	if c.skill == nil {
		return nil
	}
	return c.skill(h)
}

func (c *stubClassifier) ClassifyTool(h router.ToolHint) *router.Category {
	if c.tool == nil {
		return nil
	}
	return c.tool(h)
}

// TestRun_OnDeviceSimpleRequest covers E2: a simple request with no
// router/skill match runs entirely on-device and succeeds without
// escalating to the cloud provider.
func TestRun_OnDeviceSimpleRequest(t *testing.T) {
	reg := registry.New("")
	if err := reg.Register(&fakeTool{name: "bash", content: "4"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	small := &fakeSmallModel{
		available: true,
		onDevicePlan: []string{
			`{"action":"tool","tool":"bash","input":{"command":"echo 4"}}`,
			`{"action":"final","answer":"4"}`,
		},
	}

	o := New(Orchestrator{
		Skills:     newEmptySkillsManager(t),
		Registry:   reg,
		SmallModel: small,
	})

	result := o.Run(context.Background(), "what is 2+2", nil)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "4" {
		t.Errorf("Answer = %q, want %q", result.Answer, "4")
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0] != "bash" {
		t.Errorf("ToolCalls = %v, want [bash]", result.ToolCalls)
	}
}

// TestRun_CloudRunWithToolCall covers E3: a moderate-complexity
// request escalates straight to the cloud tier (on-device is never
// permitted since the heuristic analysis reports "moderate"), runs
// one tool call, then returns a final answer.
func TestRun_CloudRunWithToolCall(t *testing.T) {
	reg := registry.New("")
	if err := reg.Register(&fakeTool{name: "bash", content: "build ok"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	provider := &fakeProvider{script: []fakeTurn{
		{toolCalls: []models.ToolCall{{ID: "1", Name: "bash", Input: json.RawMessage(`{"command":"make build"}`)}}},
		{text: "the build passed"},
	}}

	o := New(Orchestrator{
		Skills:     newEmptySkillsManager(t),
		Registry:   reg,
		SmallModel: &fakeSmallModel{available: false},
		Provider:   provider,
	})

	result := o.Run(context.Background(), "run the build and tell me if it passes", nil)
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "the build passed" {
		t.Errorf("Answer = %q, want %q", result.Answer, "the build passed")
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0] != "bash" {
		t.Errorf("ToolCalls = %v, want [bash]", result.ToolCalls)
	}
	if result.Analysis == nil || result.Analysis.Complexity != ComplexityModerate {
		t.Errorf("Analysis.Complexity = %v, want moderate", result.Analysis)
	}
}

// TestRun_NeverPanics exercises the failure-containment wrapper: a
// nil Router/Skills/Provider must still produce a BotResult, never a
// panic, even though nothing in the pipeline can actually succeed.
func TestRun_NeverPanics(t *testing.T) {
	o := New(Orchestrator{})
	result := o.Run(context.Background(), "do something", nil)
	if result == nil {
		t.Fatal("Run returned nil result")
	}
	if result.Success {
		t.Errorf("expected failure with no provider configured, got success")
	}
}

func TestFastPathAnalysisAlwaysMarksSkillMatched(t *testing.T) {
	skill := &skills.SkillEntry{Name: "deploy-helper"}
	a := fastPathAnalysis(skills.ResolvedSkill{Skill: skill, Score: 0.9})
	if !a.SkillMatched || a.SkillName != "deploy-helper" {
		t.Errorf("fastPathAnalysis() = %+v, want SkillMatched=true SkillName=deploy-helper", a)
	}
}

func TestHeuristicAnalysisComplexityBuckets(t *testing.T) {
	cases := []struct {
		request string
		want    Complexity
	}{
		{"what is the capital of France", ComplexitySimple},
		{"run the test suite", ComplexityModerate},
		{"first, edit the config file, then run the build and then deploy it", ComplexityComplex},
	}
	for _, c := range cases {
		got := heuristicAnalysis(c.request)
		if got.Complexity != c.want {
			t.Errorf("heuristicAnalysis(%q).Complexity = %v, want %v", c.request, got.Complexity, c.want)
		}
	}
}
