package orchestrator

import (
	"strings"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/router"
)

// DefaultClassifier implements router.Classifier: it turns a live skill
// or tool into a Router Cache Category. The spec leaves the exact
// classification strategy unspecified (§9 Open Questions covers a
// different ambiguity, the provider auto-detect order — category
// generation itself is implementers' choice), so this follows the
// cheapest deterministic rule that satisfies §4.5's sync invariant
// ("every skill/tool has a corresponding hint in at least one
// Category"): one category per skill/tool, keyed on its own name and
// keywords, never invoking a model.
type DefaultClassifier struct {
	// OnDeviceTools names tools eligible for the on_device tier when a
	// Category matches on a tool hint alone.
	OnDeviceTools map[string]bool
}

// NewDefaultClassifier creates a classifier using the fixed on-device
// capability set from the Agent Driver's on-device loop (spec §4.9.2).
func NewDefaultClassifier() *DefaultClassifier {
	return &DefaultClassifier{OnDeviceTools: map[string]bool{"bash": true, "write_file": true, "read_file": true}}
}

// ClassifySkill builds a Category that matches on the skill's own name
// or any of its keywords, routed at the fast_cloud tier with the skill
// pre-attached as a hint so the orchestrator's "merge router skills"
// step (§4.10 step 6) can pick it up without a fresh resolve() pass.
func (c *DefaultClassifier) ClassifySkill(hint router.SkillHint) *router.Category {
	name := strings.TrimSpace(hint.Name)
	if name == "" {
		return nil
	}
	triggers := [][]string{{strings.ToLower(name)}}
	for _, kw := range hint.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			triggers = append(triggers, []string{kw})
		}
	}
	return &router.Category{
		ID:         "skill:" + name,
		Triggers:   triggers,
		Plan:       &agent.Plan{Tier: agent.TierCloudFast},
		SkillsHint: []string{name},
	}
}

// ClassifyTool builds a Category that matches on the tool's own name,
// routed at on_device when the tool is in the fixed on-device set,
// otherwise at fast_cloud.
func (c *DefaultClassifier) ClassifyTool(hint router.ToolHint) *router.Category {
	name := strings.TrimSpace(hint.Name)
	if name == "" {
		return nil
	}
	tier := agent.TierCloudFast
	if c.OnDeviceTools[name] {
		tier = agent.TierOnDevice
	}
	return &router.Category{
		ID:        "tool:" + name,
		Triggers:  [][]string{{strings.ToLower(name)}},
		Plan:      &agent.Plan{Tier: tier},
		ToolsHint: []string{name},
	}
}
