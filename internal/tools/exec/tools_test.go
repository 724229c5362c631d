package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestExecToolRunsCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("bash", mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "echo hello",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected stdout in result: %s", result.Content)
	}
}

func TestExecToolReportsNonZeroExit(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("bash", mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "exit 3",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError for non-zero exit: %s", result.Content)
	}
}

func TestExecToolRejectsEmptyCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool("bash", mgr)
	params, _ := json.Marshal(map[string]interface{}{
		"command": "",
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error for empty command")
	}
}
