package router

import (
	"regexp"
	"strings"
	"sync"
)

// Router is the Cached Router: it matches a request against a Cache's
// manifest and, on a hit, returns a RouteResult carrying the matched
// Category's Plan. It never calls a model.
type Router struct {
	cache *Cache

	reMu    sync.Mutex
	reCache map[string]*regexp.Regexp
}

// NewRouter wraps cache.
func NewRouter(cache *Cache) *Router {
	return &Router{cache: cache, reCache: make(map[string]*regexp.Regexp)}
}

// Route normalises request (strip whitespace, lower-case), then
// linearly scans the manifest for the first matching Category.
// Returns nil if no category matches.
func (r *Router) Route(request string) *RouteResult {
	cat := r.cache.Lookup(request, r.compiledPattern)
	if cat == nil {
		return nil
	}
	result := &RouteResult{Category: cat, Plan: cat.Plan, Answer: cat.DirectAnswer}
	if cat.Plan != nil {
		result.Tier = cat.Plan.Tier
	}
	return result
}

// compiledPattern returns a cached compiled regexp for pattern,
// compiling and caching it on first use. An invalid pattern compiles
// to nil and is cached as a permanent non-match.
func (r *Router) compiledPattern(pattern string) *regexp.Regexp {
	r.reMu.Lock()
	defer r.reMu.Unlock()
	if re, ok := r.reCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(strings.ToLower(pattern))
	if err != nil {
		re = nil
	}
	r.reCache[pattern] = re
	return re
}

func categoryMatches(cat *Category, normalizedRequest string, compile func(string) *regexp.Regexp) bool {
	for _, pattern := range cat.Patterns {
		re := compile(pattern)
		if re != nil && re.MatchString(normalizedRequest) {
			return true
		}
	}
	for _, group := range cat.Triggers {
		if triggerMatches(group, normalizedRequest) {
			return true
		}
	}
	return false
}

func triggerMatches(keywords []string, normalizedRequest string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if !strings.Contains(normalizedRequest, strings.ToLower(strings.TrimSpace(kw))) {
			return false
		}
	}
	return true
}

func normalize(request string) string {
	return strings.ToLower(strings.TrimSpace(request))
}
