// Package smallmodel implements the Small-Model Client: a small/cheap
// model used for derived capabilities (skill relevance filtering,
// tool-result summarisation, context compaction, skill prompt
// optimisation) that do not warrant a full cloud model call. It is
// available-or-not at runtime, never a hard dependency — every caller
// degrades to a deterministic fallback when Available() is false.
package smallmodel

import (
	"context"
	"os/exec"
	"sync"
	"time"
)

// Client is the contract every small-model backend implements.
type Client interface {
	// Available reports whether the client can currently serve
	// requests (e.g. an on-device runtime binary is on $PATH, or a
	// remote endpoint is configured and reachable).
	Available(ctx context.Context) bool

	// Generate produces a short completion for system+user prompts,
	// bounded by maxTokens. ok is false when generation failed or the
	// client was unavailable; callers must fall back deterministically.
	Generate(ctx context.Context, system, user string, maxTokens int) (text string, ok bool)
}

// OnDevice probes for a local model runtime binary on $PATH, mirroring
// the teacher's CheckEligibility binary-requirement probe.
type OnDevice struct {
	BinaryName string
	Run        func(ctx context.Context, binary, system, user string, maxTokens int) (string, error)

	mu       sync.Mutex
	resolved string
	checked  bool
}

// NewOnDevice creates an on-device client that probes for binary on
// $PATH using exec.LookPath, and invokes run to actually generate.
func NewOnDevice(binary string, run func(ctx context.Context, binary, system, user string, maxTokens int) (string, error)) *OnDevice {
	return &OnDevice{BinaryName: binary, Run: run}
}

func (o *OnDevice) Available(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.checked {
		return o.resolved != ""
	}
	o.checked = true
	if path, err := exec.LookPath(o.BinaryName); err == nil {
		o.resolved = path
	}
	return o.resolved != ""
}

func (o *OnDevice) Generate(ctx context.Context, system, user string, maxTokens int) (string, bool) {
	if !o.Available(ctx) || o.Run == nil {
		return "", false
	}
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	text, err := o.Run(runCtx, o.resolved, system, user, maxTokens)
	if err != nil {
		return "", false
	}
	return text, true
}

// GenerateFunc adapts a cloud-fast completion call (e.g. the
// CompletionRequest/CompletionChunk shape used by the Agent Driver's
// ModelClient variants) into the Client contract.
type GenerateFunc func(ctx context.Context, system, user string, maxTokens int) (string, error)

// Remote wraps a cloud-fast model call as a small-model client,
// treating any error (including rate limits and timeouts) as
// unavailable rather than propagating it — the caller's fallback path
// handles degraded operation.
type Remote struct {
	Generate_ GenerateFunc
}

// NewRemote creates a remote small-model client.
func NewRemote(fn GenerateFunc) *Remote {
	return &Remote{Generate_: fn}
}

func (r *Remote) Available(ctx context.Context) bool {
	return r.Generate_ != nil
}

func (r *Remote) Generate(ctx context.Context, system, user string, maxTokens int) (string, bool) {
	if r.Generate_ == nil {
		return "", false
	}
	text, err := r.Generate_(ctx, system, user, maxTokens)
	if err != nil {
		return "", false
	}
	return text, true
}

// Chain tries each client in order, returning the first available
// result. Used to prefer OnDevice and fall back to Remote.
type Chain struct {
	Clients []Client
}

func NewChain(clients ...Client) *Chain {
	return &Chain{Clients: clients}
}

func (c *Chain) Available(ctx context.Context) bool {
	for _, cl := range c.Clients {
		if cl.Available(ctx) {
			return true
		}
	}
	return false
}

func (c *Chain) Generate(ctx context.Context, system, user string, maxTokens int) (string, bool) {
	for _, cl := range c.Clients {
		if !cl.Available(ctx) {
			continue
		}
		if text, ok := cl.Generate(ctx, system, user, maxTokens); ok {
			return text, true
		}
	}
	return "", false
}
