// Package router implements the Router Cache and Cached Router: a
// persistent manifest of request categories mapped to pre-baked
// execution plans, and the deterministic matcher that consults it
// before any model call is made.
package router

import (
	"time"

	"github.com/haasonsaas/nexus-core/internal/agent"
)

// Category is one entry in the Router Cache manifest: a set of match
// triggers bound to a pre-baked Plan. Patterns are regular
// expressions; Triggers are keyword groups where every keyword in a
// group must appear in the (normalised) request for that group to
// match. A Category matches if any Pattern matches or any Trigger
// group matches.
type Category struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Patterns []string `json:"patterns,omitempty"`
	Triggers [][]string `json:"triggers,omitempty"`

	Plan *agent.Plan `json:"plan"`

	// DirectAnswer, when non-empty and Plan.Tier is direct_answer,
	// is returned verbatim without any model call.
	DirectAnswer string `json:"direct_answer,omitempty"`

	SkillsHint []string `json:"skills_hint,omitempty"`
	ToolsHint  []string `json:"tools_hint,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// RouteResult is what Router.Route returns on a match.
type RouteResult struct {
	Category *Category
	Tier     agent.PlanTier
	Plan     *agent.Plan
	Answer   string
}

// Manifest is the persisted, ordered sequence of categories plus the
// skill/tool name sets recorded at the last generate/sync, used for
// staleness detection.
type Manifest struct {
	Categories  []*Category `json:"categories"`
	SkillNames  []string    `json:"skill_names"`
	ToolNames   []string    `json:"tool_names"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// SkillHint is the minimal skill description the Classifier needs to
// propose a Category; callers derive it from skills.SkillEntry without
// this package importing internal/skills (the Router Cache has no
// business knowing the Skill Manifest's on-disk shape, only its name/
// description/keywords).
type SkillHint struct {
	Name        string
	Description string
	Keywords    []string
}

// ToolHint is the minimal tool description the Classifier needs.
type ToolHint struct {
	Name        string
	Description string
}

// Classifier proposes Categories for newly-discovered skills and
// tools. generate() and sync() call it once per skill/tool; a nil
// return from either method means "no category warranted".
type Classifier interface {
	ClassifySkill(hint SkillHint) *Category
	ClassifyTool(hint ToolHint) *Category
}
