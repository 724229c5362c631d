package skills

import (
	"context"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/smallmodel"
)

// HighConfidenceThreshold is the score above which a resolve() match is
// considered high confidence.
const HighConfidenceThreshold = 0.5

// nameWeight, keywordWeight, descriptionWeight are resolve()'s
// per-source overlap weights.
const (
	nameWeight        = 3.0
	keywordWeight     = 2.0
	descriptionWeight = 1.0
	maxWeight         = nameWeight + keywordWeight + descriptionWeight
)

// ResolvedSkill pairs a skill with its resolve() score against a
// particular request.
type ResolvedSkill struct {
	Skill *SkillEntry
	Score float64
}

// HighConfidence reports whether this match clears the high-confidence
// threshold.
func (r ResolvedSkill) HighConfidence() bool {
	return r.Score >= HighConfidenceThreshold
}

// Resolve scores candidates against request using the deterministic
// keyword/scoring function: overlap between normalised request tokens
// and (name-tokens ∪ keywords ∪ description-tokens), weighted by
// source (name 3x, keywords 2x, description 1x). Candidates are
// returned in descending score order, ties broken by the candidates'
// input order (callers pass a stable, deterministic ordering — e.g.
// Manager.ListEligible's alphabetical order stands in for discovery
// insertion order). Resolve never invokes a model.
func Resolve(candidates []*SkillEntry, request string) []ResolvedSkill {
	requestTokens := tokenize(request)
	if len(requestTokens) == 0 {
		return nil
	}

	out := make([]ResolvedSkill, len(candidates))
	for i, skill := range candidates {
		out[i] = ResolvedSkill{Skill: skill, Score: scoreSkill(skill, requestTokens)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// scoreSkill computes a single skill's overlap score in [0,1].
func scoreSkill(skill *SkillEntry, requestTokens []string) float64 {
	nameTokens := tokenSet(strings.FieldsFunc(skill.Name, func(r rune) bool { return r == '-' || r == '_' }))
	keywordTokens := tokenSet(skill.Keywords)
	descriptionTokens := tokenSet(tokenize(skill.Description))

	seen := map[string]bool{}
	var weighted float64
	for _, tok := range requestTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true

		var w float64
		if nameTokens[tok] {
			w += nameWeight
		}
		if keywordTokens[tok] {
			w += keywordWeight
		}
		if descriptionTokens[tok] {
			w += descriptionWeight
		}
		weighted += w
	}

	denom := float64(len(seen)) * maxWeight
	if denom == 0 {
		return 0
	}
	score := weighted / denom
	if score > 1 {
		score = 1
	}
	return score
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// Resolve scores the manager's eligible skills against request.
func (m *Manager) Resolve(request string) []ResolvedSkill {
	return Resolve(m.ListEligible(), request)
}

// ResolveWithRelevanceFilter runs resolve() and, when a small model is
// available, applies it as a precision pass over the high-confidence
// candidates — resolve() stays the deterministic, model-free source of
// truth; the small model only narrows its output further, it never
// adds candidates resolve() didn't already surface.
func (m *Manager) ResolveWithRelevanceFilter(ctx context.Context, client smallmodel.Client, request string) []ResolvedSkill {
	ranked := m.Resolve(request)

	var highConfidence []ResolvedSkill
	byName := make(map[string]ResolvedSkill, len(ranked))
	names := make([]string, 0, len(ranked))
	for _, r := range ranked {
		if r.HighConfidence() {
			highConfidence = append(highConfidence, r)
			byName[r.Skill.Name] = r
			names = append(names, r.Skill.Name)
		}
	}
	if len(highConfidence) == 0 {
		return ranked
	}

	kept := smallmodel.FilterSkillsByRelevance(ctx, client, request, names)
	keptSet := tokenSet(kept)

	filtered := make([]ResolvedSkill, 0, len(ranked))
	for _, r := range ranked {
		if r.HighConfidence() && !keptSet[strings.ToLower(r.Skill.Name)] {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered
}

// Summaries returns name/description pairs for every eligible skill,
// used to present the catalogue without loading skill bodies.
func (m *Manager) Summaries() []*SkillSnapshot {
	return m.ListSnapshots()
}

// Search performs a free-text lookup over eligible skills, reusing the
// same scoring as Resolve but returning only skills with a non-zero
// match, name-first for exact/prefix matches.
func (m *Manager) Search(query string) []*SkillEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	resolved := m.Resolve(query)
	out := make([]*SkillEntry, 0, len(resolved))
	for _, r := range resolved {
		if r.Score > 0 || strings.Contains(strings.ToLower(r.Skill.Name), query) || strings.Contains(strings.ToLower(r.Skill.Description), query) {
			out = append(out, r.Skill)
		}
	}
	return out
}
