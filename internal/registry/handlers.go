package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// HandlerTag names one of the closed set of persisted-tool handler
// shapes. No arbitrary code evaluation — a persisted tool can only be
// one of these compiled-in executors.
type HandlerTag string

const (
	HandlerShellCommand  HandlerTag = "shell_command_template"
	HandlerHTTPRequest   HandlerTag = "http_request_template"
	HandlerScriptFile    HandlerTag = "script_file_reference"
)

// HandlerSpec is the tagged-variant handler body of a persisted tool.
// Exactly one of the per-tag fields is populated, selected by Tag.
type HandlerSpec struct {
	Tag HandlerTag `json:"tag"`

	ShellCommand *ShellCommandTemplate `json:"shell_command,omitempty"`
	HTTPRequest  *HTTPRequestTemplate  `json:"http_request,omitempty"`
	ScriptFile   *ScriptFileReference  `json:"script_file,omitempty"`
}

// ShellCommandTemplate runs a fixed command, substituting input fields
// named in ArgsFromInput as trailing arguments in order.
type ShellCommandTemplate struct {
	Command       string   `json:"command"`
	ArgsFromInput []string `json:"args_from_input,omitempty"`
	TimeoutSec    int      `json:"timeout_seconds,omitempty"`
}

// HTTPRequestTemplate issues a fixed HTTP call; {{field}} placeholders
// in URLTemplate are substituted from the input map.
type HTTPRequestTemplate struct {
	Method      string            `json:"method"`
	URLTemplate string            `json:"url_template"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutSec  int               `json:"timeout_seconds,omitempty"`
}

// ScriptFileReference executes a pre-approved script already present on
// disk, passing the JSON input on stdin.
type ScriptFileReference struct {
	Path       string `json:"path"`
	TimeoutSec int    `json:"timeout_seconds,omitempty"`
}

// PersistedDef is the on-disk shape of a custom tool: {name,
// description, parameters, handler, category} per the Tool Registry
// persistence contract.
type PersistedDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Schema      json.RawMessage `json:"parameters"`
	Handler     HandlerSpec     `json:"handler"`
}

func (d *PersistedDef) toTool() (Tool, error) {
	switch d.Handler.Tag {
	case HandlerShellCommand:
		if d.Handler.ShellCommand == nil {
			return nil, fmt.Errorf("persisted tool %q: missing shell_command body", d.Name)
		}
	case HandlerHTTPRequest:
		if d.Handler.HTTPRequest == nil {
			return nil, fmt.Errorf("persisted tool %q: missing http_request body", d.Name)
		}
	case HandlerScriptFile:
		if d.Handler.ScriptFile == nil {
			return nil, fmt.Errorf("persisted tool %q: missing script_file body", d.Name)
		}
	default:
		return nil, fmt.Errorf("persisted tool %q: unknown handler tag %q", d.Name, d.Handler.Tag)
	}
	return &persistedTool{def: *d}, nil
}

type persistedTool struct {
	def PersistedDef
}

func (t *persistedTool) Name() string             { return t.def.Name }
func (t *persistedTool) Description() string       { return t.def.Description }
func (t *persistedTool) Category() string          { return t.def.Category }
func (t *persistedTool) Schema() json.RawMessage   { return t.def.Schema }

func (t *persistedTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var input map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
		}
	}

	switch t.def.Handler.Tag {
	case HandlerShellCommand:
		return execShellCommand(ctx, t.def.Handler.ShellCommand, input)
	case HandlerHTTPRequest:
		return execHTTPRequest(ctx, t.def.Handler.HTTPRequest, input)
	case HandlerScriptFile:
		return execScriptFile(ctx, t.def.Handler.ScriptFile, params)
	default:
		return &ToolResult{Content: "unsupported handler tag", IsError: true}, nil
	}
}

func execShellCommand(ctx context.Context, tpl *ShellCommandTemplate, input map[string]any) (*ToolResult, error) {
	timeout := time.Duration(tpl.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(tpl.ArgsFromInput))
	for _, field := range tpl.ArgsFromInput {
		args = append(args, fmt.Sprintf("%v", input[field]))
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", tpl.Command+" \"$@\"", "sh")
	cmd.Args = append(cmd.Args, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		return &ToolResult{Content: strings.TrimSpace(stderr.String() + "\n" + err.Error()), IsError: true}, nil
	}
	return &ToolResult{Content: stdout.String()}, nil
}

func execHTTPRequest(ctx context.Context, tpl *HTTPRequestTemplate, input map[string]any) (*ToolResult, error) {
	url := tpl.URLTemplate
	for k, v := range input {
		url = strings.ReplaceAll(url, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	timeout := time.Duration(tpl.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := tpl.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(runCtx, method, url, nil)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	for k, v := range tpl.Headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: string(body), IsError: resp.StatusCode >= 400}, nil
}

func execScriptFile(ctx context.Context, ref *ScriptFileReference, params json.RawMessage) (*ToolResult, error) {
	timeout := time.Duration(ref.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, ref.Path)
	cmd.Stdin = bytes.NewReader(params)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ToolResult{Content: strings.TrimSpace(stderr.String() + "\n" + err.Error()), IsError: true}, nil
	}
	return &ToolResult{Content: stdout.String()}, nil
}
