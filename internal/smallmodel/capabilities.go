package smallmodel

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/compaction"
)

// Summarizer adapts a Client into compaction.Summarizer, the Context
// Compactor's dependency for turning a message prefix into one
// synthetic summary message.
type Summarizer struct {
	Client Client
}

func NewSummarizer(client Client) *Summarizer {
	return &Summarizer{Client: client}
}

func (s *Summarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	if s.Client == nil || !s.Client.Available(ctx) {
		return "", fmt.Errorf("small model unavailable")
	}
	system := "Summarise the following conversation excerpt concisely, preserving decisions, facts, and open threads."
	if cfg != nil && cfg.CustomInstructions != "" {
		system = cfg.CustomInstructions
	}
	maxTokens := 512
	if cfg != nil && cfg.ReserveTokens > 0 {
		maxTokens = cfg.ReserveTokens
	}
	user := compaction.FormatMessagesForSummary(messages)
	text, ok := s.Client.Generate(ctx, system, user, maxTokens)
	if !ok {
		return "", fmt.Errorf("small model generation failed")
	}
	return text, nil
}

// SummariseToolResult condenses a tool's raw output to a short digest,
// used by the Agent Driver before folding a large tool result back
// into the Conversation.
func SummariseToolResult(ctx context.Context, client Client, toolName, content string, maxChars int) (string, bool) {
	if client == nil || !client.Available(ctx) {
		return "", false
	}
	system := "Summarise this tool output in a few sentences, preserving concrete values (paths, numbers, error messages)."
	user := fmt.Sprintf("Tool: %s\nOutput:\n%s", toolName, content)
	text, ok := client.Generate(ctx, system, user, 256)
	if !ok {
		return "", false
	}
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, true
}

// FilterSkillsByRelevance asks the small model which candidate skill
// names are actually relevant to the request, returning the subset in
// original order. On any failure, returns the full candidate list
// unfiltered (the Skill Manifest's own deterministic resolve() already
// ranked them; this is a precision pass, never the sole gate).
func FilterSkillsByRelevance(ctx context.Context, client Client, request string, candidates []string) []string {
	if client == nil || !client.Available(ctx) || len(candidates) == 0 {
		return candidates
	}
	system := "Given a user request and a list of candidate skill names, return only the names that are clearly relevant, one per line. If none are relevant, return nothing."
	user := fmt.Sprintf("Request: %s\nCandidates:\n%s", request, strings.Join(candidates, "\n"))
	text, ok := client.Generate(ctx, system, user, 256)
	if !ok {
		return candidates
	}
	kept := make(map[string]bool, len(candidates))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			kept[line] = true
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	filtered := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if kept[c] {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return candidates
	}
	return filtered
}

// OptimiseSkillPrompt rewrites a skill's raw body into a tighter
// instruction set for the active request, falling back to the raw
// body unchanged when the small model is unavailable.
func OptimiseSkillPrompt(ctx context.Context, client Client, request, skillBody string) string {
	if client == nil || !client.Available(ctx) {
		return skillBody
	}
	system := "Rewrite the following skill instructions to be maximally relevant to the given request, without adding new capabilities."
	user := fmt.Sprintf("Request: %s\nSkill instructions:\n%s", request, skillBody)
	text, ok := client.Generate(ctx, system, user, 1024)
	if !ok || strings.TrimSpace(text) == "" {
		return skillBody
	}
	return text
}
