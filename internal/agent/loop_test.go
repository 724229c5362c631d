package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/ledger"
	"github.com/haasonsaas/nexus-core/internal/tools/exec"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// fakeProvider replays a fixed script of completions, one per call to
// Complete, so tests can script multi-iteration conversations.
type fakeProvider struct {
	script []CompletionChunk
	calls  int
}

func (p *fakeProvider) Name() string          { return "fake" }
func (p *fakeProvider) Models() []Model       { return nil }
func (p *fakeProvider) SupportsTools() bool   { return true }
func (p *fakeProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	chunk := p.script[idx]
	ch := make(chan *CompletionChunk, 1)
	ch <- &chunk
	close(ch)
	return ch, nil
}

func finalAnswerChunk(text string) CompletionChunk {
	return CompletionChunk{Text: text, Done: true, InputTokens: 10, OutputTokens: 5}
}

func toolCallChunk(toolName, id string, input json.RawMessage) CompletionChunk {
	return CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: toolName, Input: input}, Done: true, InputTokens: 10, OutputTokens: 5}
}

func TestDriverRunCloudNoToolsReturnsFinalAnswer(t *testing.T) {
	provider := &fakeProvider{script: []CompletionChunk{finalAnswerChunk("hello there")}}
	driver := NewDriver(provider, NewToolRegistry(), nil, nil)

	result := driver.Run(context.Background(), DefaultPlan(), "system", "hi", nil, models.NullProgressSink{})
	if !result.Success {
		t.Fatalf("expected success, got err: %v", result.Err)
	}
	if result.Answer != "hello there" {
		t.Fatalf("answer = %q, want %q", result.Answer, "hello there")
	}
	if result.Iterations != 1 {
		t.Fatalf("iterations = %d, want 1", result.Iterations)
	}
}

func TestDriverRunCloudExecutesToolThenAnswers(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(exec.NewExecTool("bash", exec.NewManager(t.TempDir())))

	provider := &fakeProvider{script: []CompletionChunk{
		toolCallChunk("bash", "call-1", json.RawMessage(`{"command":"echo hi"}`)),
		finalAnswerChunk("done"),
	}}
	driver := NewDriver(provider, registry, nil, nil)

	result := driver.Run(context.Background(), DefaultPlan(), "system", "run a command", nil, models.NullProgressSink{})
	if !result.Success {
		t.Fatalf("expected success, got err: %v", result.Err)
	}
	if result.ToolCalls != 1 {
		t.Fatalf("tool calls = %d, want 1", result.ToolCalls)
	}
	if result.Answer != "done" {
		t.Fatalf("answer = %q, want %q", result.Answer, "done")
	}
}

func TestDriverRunCloudHaltsOnStaleLoop(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "bash",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "no match found", IsError: false}, nil
		},
	})

	script := make([]CompletionChunk, 0, 6)
	for i := 0; i < 6; i++ {
		script = append(script, toolCallChunk("bash", fmt.Sprintf("call-%d", i), json.RawMessage(`{"command":"search x"}`)))
	}
	provider := &fakeProvider{script: script}
	driver := NewDriver(provider, registry, nil, nil)

	plan := DefaultPlan()
	plan.MaxIterations = 6
	result := driver.Run(context.Background(), plan, "system", "search repeatedly", nil, models.NullProgressSink{})

	if result.Success {
		t.Fatal("expected stale-loop halt, got success")
	}
	if result.Err == nil {
		t.Fatal("expected a stall error")
	}
}

func TestDriverRunCloudTruncatesAtMaxIterations(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "bash",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		},
	})

	script := []CompletionChunk{
		toolCallChunk("bash", "call-1", json.RawMessage(`{"command":"a"}`)),
		toolCallChunk("bash", "call-2", json.RawMessage(`{"command":"b"}`)),
	}
	provider := &fakeProvider{script: script}
	driver := NewDriver(provider, registry, nil, nil)

	plan := DefaultPlan()
	plan.MaxIterations = 2
	result := driver.Run(context.Background(), plan, "system", "loop forever", nil, models.NullProgressSink{})

	if !result.Success || !result.Truncated {
		t.Fatalf("expected truncated success, got success=%v truncated=%v err=%v", result.Success, result.Truncated, result.Err)
	}
	if result.Iterations != 2 {
		t.Fatalf("iterations = %d, want 2", result.Iterations)
	}
}

func TestDriverRunOnDeviceFinalAnswer(t *testing.T) {
	client := &scriptedSmallModel{responses: []string{`{"action":"final","answer":"42"}`}}
	driver := NewDriver(nil, NewToolRegistry(), client, ledger.New(nil))

	plan := DefaultPlan()
	plan.Tier = TierOnDevice
	result := driver.Run(context.Background(), plan, "system", "what is the answer", nil, models.NullProgressSink{})

	if !result.Success {
		t.Fatalf("expected success, got err: %v", result.Err)
	}
	if result.Answer != "42" {
		t.Fatalf("answer = %q, want %q", result.Answer, "42")
	}
}

func TestDriverRunOnDeviceEscalatesOnNullResponse(t *testing.T) {
	client := &scriptedSmallModel{responses: nil, fail: true}
	driver := NewDriver(nil, NewToolRegistry(), client, ledger.New(nil))

	plan := DefaultPlan()
	plan.Tier = TierOnDevice
	result := driver.Run(context.Background(), plan, "system", "anything", nil, models.NullProgressSink{})

	if result.Success {
		t.Fatal("expected failure signaling escalation")
	}
}

func TestDriverRunOnDeviceRejectsToolOutsideCapabilitySet(t *testing.T) {
	client := &scriptedSmallModel{responses: []string{`{"action":"tool","tool":"http_fetch","input":{}}`}}
	driver := NewDriver(nil, NewToolRegistry(), client, ledger.New(nil))

	plan := DefaultPlan()
	plan.Tier = TierOnDevice
	result := driver.Run(context.Background(), plan, "system", "fetch a url", nil, models.NullProgressSink{})

	if result.Success {
		t.Fatal("expected failure for out-of-capability tool")
	}
}

func TestIsEmptyToolCall(t *testing.T) {
	if !isEmptyToolCall("bash", "bash", json.RawMessage(`{"command":"  "}`)) {
		t.Fatal("expected empty for blank command")
	}
	if isEmptyToolCall("bash", "bash", json.RawMessage(`{"command":"ls"}`)) {
		t.Fatal("expected non-empty for real command")
	}
	if !isEmptyToolCall("write_file", "bash", json.RawMessage(`{"path":""}`)) {
		t.Fatal("expected empty for missing content")
	}
	if isEmptyToolCall("write_file", "bash", json.RawMessage(`{"path":"a","content":"x"}`)) {
		t.Fatal("expected non-empty for complete write_file input")
	}
	if !isEmptyToolCall("search", "bash", json.RawMessage(`{}`)) {
		t.Fatal("expected empty for empty input map")
	}
}

// scriptedSmallModel is a smallmodel.Client test double that replays a
// fixed sequence of responses.
type scriptedSmallModel struct {
	responses []string
	calls     int
	fail      bool
}

func (s *scriptedSmallModel) Available(ctx context.Context) bool { return true }

func (s *scriptedSmallModel) Generate(ctx context.Context, system, user string, maxTokens int) (string, bool) {
	if s.fail {
		return "", false
	}
	if s.calls >= len(s.responses) {
		return "", false
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, true
}
