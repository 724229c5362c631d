// Package policy provides tool authorization and access control.
// This file implements edge tool identification and per-edge trust
// tracking, used by the approval workflow in approval.go.
package policy

import (
	"strings"
	"sync"
)

// TrustLevel classifies how much an edge device has earned the right
// to skip the approval workflow.
type TrustLevel int

const (
	// TrustUntrusted is the default for an edge never seen before.
	TrustUntrusted TrustLevel = iota
	// TrustTOFU ("trust on first use") has been seen but not verified.
	TrustTOFU
	// TrustTrusted has been explicitly verified by an operator.
	TrustTrusted
)

// IsEdgeTool returns true if the tool name refers to an edge tool.
func IsEdgeTool(toolName string) bool {
	normalized := strings.ToLower(strings.TrimSpace(toolName))
	return strings.HasPrefix(normalized, "edge:") || strings.HasPrefix(normalized, "edge.")
}

// ParseEdgeToolName extracts the edge ID and tool name from an edge
// tool reference. Returns empty strings if the tool name is not an
// edge tool.
func ParseEdgeToolName(toolName string) (edgeID, tool string) {
	normalized := strings.ToLower(strings.TrimSpace(toolName))

	var trimmed string
	switch {
	case strings.HasPrefix(normalized, "edge:"):
		trimmed = strings.TrimPrefix(normalized, "edge:")
	case strings.HasPrefix(normalized, "edge."):
		trimmed = strings.TrimPrefix(normalized, "edge.")
	default:
		return "", ""
	}

	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// ToolRegistry tracks which edges have registered tools and the trust
// level assigned to each edge, so the approval workflow can decide
// whether a call needs a human in the loop.
type ToolRegistry struct {
	mu    sync.RWMutex
	edges map[string][]string
	trust map[string]TrustLevel
}

// NewToolRegistry creates an empty registry. initial may be nil.
func NewToolRegistry(initial map[string]TrustLevel) *ToolRegistry {
	trust := make(map[string]TrustLevel, len(initial))
	for edgeID, level := range initial {
		trust[edgeID] = level
	}
	return &ToolRegistry{
		edges: make(map[string][]string),
		trust: trust,
	}
}

// RegisterEdgeServer records the tools an edge exposes and the trust
// level it has earned.
func (r *ToolRegistry) RegisterEdgeServer(edgeID string, tools []string, trust TrustLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edges[edgeID] = tools
	r.trust[edgeID] = trust
}

// UnregisterEdgeServer removes an edge and forgets its trust level.
func (r *ToolRegistry) UnregisterEdgeServer(edgeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, edgeID)
	delete(r.trust, edgeID)
}

// GetEdgeTrustLevel returns the trust level recorded for an edge, or
// TrustUntrusted if the edge has never been seen.
func (r *ToolRegistry) GetEdgeTrustLevel(edgeID string) TrustLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trust[edgeID]
}

// SetEdgeTrustLevel updates the trust level for a previously
// registered edge.
func (r *ToolRegistry) SetEdgeTrustLevel(edgeID string, trust TrustLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trust[edgeID] = trust
}

// EdgeTools returns the tools registered for an edge.
func (r *ToolRegistry) EdgeTools(edgeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.edges[edgeID]
}
