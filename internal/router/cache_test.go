package router

import (
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/agent"
)

type fakeClassifier struct{}

func (fakeClassifier) ClassifySkill(hint SkillHint) *Category {
	return &Category{
		ID:       "skill:" + hint.Name,
		Patterns: []string{"^" + hint.Name + "$"},
		Plan:     &agent.Plan{Tier: agent.TierCloudFast},
		SkillsHint: []string{hint.Name},
	}
}

func (fakeClassifier) ClassifyTool(hint ToolHint) *Category {
	if hint.Name == "" {
		return nil
	}
	return &Category{
		ID:        "tool:" + hint.Name,
		Triggers:  [][]string{{hint.Name}},
		Plan:      &agent.Plan{Tier: agent.TierOnDevice},
		ToolsHint: []string{hint.Name},
	}
}

func TestCacheGenerateThenLookup(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "router.json"))
	err := cache.Generate(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, []ToolHint{{Name: "bash"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	router := NewRouter(cache)
	result := router.Route("deploy")
	if result == nil {
		t.Fatal("expected a route match")
	}
	if result.Tier != agent.TierCloudFast {
		t.Fatalf("tier = %v, want %v", result.Tier, agent.TierCloudFast)
	}
}

func TestCacheLoadAfterGeneratePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.json")
	cache := NewCache(path)
	if err := cache.Generate(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reloaded := NewCache(path)
	if !reloaded.Load() {
		t.Fatal("expected Load to succeed after Generate persisted")
	}
	if len(reloaded.Categories()) != 1 {
		t.Fatalf("expected 1 category after reload, got %d", len(reloaded.Categories()))
	}
}

func TestCacheLoadMissingFileReturnsFalse(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if cache.Load() {
		t.Fatal("expected Load to fail for a missing file")
	}
}

func TestCacheIsStaleDetectsAddedSkill(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "router.json"))
	if err := cache.Generate(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if cache.IsStale([]SkillHint{{Name: "deploy"}}, nil) {
		t.Fatal("expected not stale when skill set is unchanged")
	}
	if !cache.IsStale([]SkillHint{{Name: "deploy"}, {Name: "rollback"}}, nil) {
		t.Fatal("expected stale when a skill was added")
	}
}

func TestCacheSyncAppendsWithoutRewritingExisting(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "router.json"))
	if err := cache.Generate(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	original := cache.Categories()[0]

	if err := cache.Sync(fakeClassifier{}, []SkillHint{{Name: "deploy"}, {Name: "rollback"}}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	categories := cache.Categories()
	if len(categories) != 2 {
		t.Fatalf("expected 2 categories after sync, got %d", len(categories))
	}
	if categories[0].ID != original.ID {
		t.Fatalf("expected sync to preserve existing category order, got %s first", categories[0].ID)
	}
	if cache.IsStale([]SkillHint{{Name: "deploy"}, {Name: "rollback"}}, nil) {
		t.Fatal("expected sync to clear staleness")
	}
}

func TestCacheSyncDoesNotDuplicateAlreadyCoveredSkill(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "router.json"))
	if err := cache.Generate(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := cache.Sync(fakeClassifier{}, []SkillHint{{Name: "deploy"}}, nil); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(cache.Categories()) != 1 {
		t.Fatalf("expected sync to be a no-op for an already-covered skill, got %d categories", len(cache.Categories()))
	}
}
