package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Cache is the Router Cache: a persistent, process-wide manifest kept
// in sync with the current Skill Manifest and Tool Registry. Callers
// are expected to hold one Cache per process and share it by read;
// mutation (generate/sync) goes through its own single-writer,
// atomic-swap discipline (spec §5).
type Cache struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	manifest *Manifest
}

// NewCache creates a Router Cache backed by path.
func NewCache(path string) *Cache {
	return &Cache{
		path:   path,
		logger: slog.Default().With("component", "router_cache"),
	}
}

// Load reads the manifest from disk. A missing file, an unreadable
// file, or a corrupt (non-JSON) file are all treated as "absent": Load
// returns false and the cache starts empty. A corrupt file is renamed
// aside rather than overwritten, so an operator can inspect it.
func (c *Cache) Load() bool {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return false
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		c.logger.Warn("router cache manifest corrupt, treating as absent", "path", c.path, "error", err)
		backupCorrupt(c.path, c.logger)
		return false
	}

	c.mu.Lock()
	c.manifest = &m
	c.mu.Unlock()
	return true
}

// backupCorrupt renames a corrupt manifest file aside with a
// timestamped suffix instead of silently discarding it.
func backupCorrupt(path string, logger *slog.Logger) {
	backup := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	if err := os.Rename(path, backup); err != nil {
		logger.Warn("failed to back up corrupt router cache manifest", "path", path, "error", err)
	}
}

// Generate builds the manifest from scratch: one candidate Category
// per skill and per tool via classifier, discarding nils, sorted by
// primary pattern length descending (longest-pattern-first, spec §3)
// with ties broken by the order skills/tools were supplied in
// (insertion order). Generate overwrites any existing manifest — it is
// meant to run once, at first boot.
func (c *Cache) Generate(classifier Classifier, skills []SkillHint, tools []ToolHint) error {
	now := time.Now()
	var categories []*Category

	for _, s := range skills {
		if cat := classifier.ClassifySkill(s); cat != nil {
			cat.GeneratedAt = now
			categories = append(categories, cat)
		}
	}
	for _, t := range tools {
		if cat := classifier.ClassifyTool(t); cat != nil {
			cat.GeneratedAt = now
			categories = append(categories, cat)
		}
	}

	sortByLongestPatternFirst(categories)

	c.mu.Lock()
	c.manifest = &Manifest{
		Categories:  categories,
		SkillNames:  skillNames(skills),
		ToolNames:   toolNames(tools),
		GeneratedAt: now,
	}
	c.mu.Unlock()

	return c.persist()
}

// IsStale reports whether the current skill/tool name sets differ
// from those recorded at the last generate/sync (symmetric difference
// non-empty).
func (c *Cache) IsStale(skills []SkillHint, tools []ToolHint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.manifest == nil {
		return true
	}
	return !sameSet(c.manifest.SkillNames, skillNames(skills)) || !sameSet(c.manifest.ToolNames, toolNames(tools))
}

// Sync incrementally appends categories for skills/tools not already
// covered by an existing category's hints, then updates the recorded
// name sets so a subsequent IsStale call returns false. Existing
// categories are never rewritten or reordered — this is an append-only
// operation, per spec §4.5.
func (c *Cache) Sync(classifier Classifier, skills []SkillHint, tools []ToolHint) error {
	c.mu.Lock()
	if c.manifest == nil {
		c.manifest = &Manifest{GeneratedAt: time.Now()}
	}

	covered := make(map[string]bool)
	for _, cat := range c.manifest.Categories {
		for _, s := range cat.SkillsHint {
			covered[skillKey(s)] = true
		}
		for _, t := range cat.ToolsHint {
			covered[toolKey(t)] = true
		}
	}

	var added []*Category
	now := time.Now()
	for _, s := range skills {
		if covered[skillKey(s.Name)] {
			continue
		}
		if cat := classifier.ClassifySkill(s); cat != nil {
			cat.GeneratedAt = now
			added = append(added, cat)
		}
	}
	for _, t := range tools {
		if covered[toolKey(t.Name)] {
			continue
		}
		if cat := classifier.ClassifyTool(t); cat != nil {
			cat.GeneratedAt = now
			added = append(added, cat)
		}
	}

	sortByLongestPatternFirst(added)
	c.manifest.Categories = append(c.manifest.Categories, added...)
	c.manifest.SkillNames = skillNames(skills)
	c.manifest.ToolNames = toolNames(tools)
	c.mu.Unlock()

	return c.persist()
}

// Lookup linearly scans the manifest in declared order and returns the
// first Category whose patterns or triggers match request. compile
// resolves a regex pattern string to a compiled *regexp.Regexp (nil on
// an invalid pattern); callers typically pass a caching compiler.
// Returns nil if nothing matches.
func (c *Cache) Lookup(request string, compile func(string) *regexp.Regexp) *Category {
	normalized := normalize(request)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.manifest == nil {
		return nil
	}
	for _, cat := range c.manifest.Categories {
		if categoryMatches(cat, normalized, compile) {
			return cat
		}
	}
	return nil
}

// Categories returns a snapshot of the manifest's current category
// order.
func (c *Cache) Categories() []*Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.manifest == nil {
		return nil
	}
	out := make([]*Category, len(c.manifest.Categories))
	copy(out, c.manifest.Categories)
	return out
}

func (c *Cache) persist() error {
	c.mu.RLock()
	m := c.manifest
	c.mu.RUnlock()
	return writeJSONAtomic(c.path, m)
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sortByLongestPatternFirst(categories []*Category) {
	sort.SliceStable(categories, func(i, j int) bool {
		return longestPattern(categories[i]) > longestPattern(categories[j])
	})
}

func longestPattern(cat *Category) int {
	longest := 0
	for _, p := range cat.Patterns {
		if len(p) > longest {
			longest = len(p)
		}
	}
	return longest
}

func skillNames(skills []SkillHint) []string {
	out := make([]string, len(skills))
	for i, s := range skills {
		out[i] = s.Name
	}
	return out
}

func toolNames(tools []ToolHint) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func skillKey(name string) string { return "skill:" + name }
func toolKey(name string) string  { return "tool:" + name }

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, v := range a {
		set[v]++
	}
	for _, v := range b {
		set[v]--
	}
	for _, count := range set {
		if count != 0 {
			return false
		}
	}
	return true
}
