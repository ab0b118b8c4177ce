// Package router classifies outbound requests into caching strategies and
// executes them against the cache tiers and the network.
package router

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"example.com/edgeagent/internal/cache"
)

// Strategy is the routing decision for one request.
type Strategy string

const (
	// StrategyBypass sends the request to the network untouched.
	StrategyBypass Strategy = "bypass"
	// StrategyCacheFirst serves a stored entry when present.
	StrategyCacheFirst Strategy = "cache-first"
	// StrategyNetworkFirst serves the network and falls back to the stores.
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyNetworkOnly passes API requests through without caching or fallback.
	StrategyNetworkOnly Strategy = "network-only"
)

// APIPrefix marks the paths served by the domain API.
const APIPrefix = "/api/"

// Rules holds the classification inputs: the static manifest and the
// cacheable-API pattern set.
type Rules struct {
	manifest map[string]struct{}
	patterns []*regexp.Regexp
}

// NewRules compiles the cacheable-API patterns. manifest must already be
// resolved to absolute URLs.
func NewRules(manifest []*url.URL, patterns []string) (Rules, error) {
	rules := Rules{manifest: make(map[string]struct{}, len(manifest))}
	for _, u := range manifest {
		rules.manifest[cache.Key(http.MethodGet, u)] = struct{}{}
	}
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return Rules{}, fmt.Errorf("cache pattern %q: %w", raw, err)
		}
		rules.patterns = append(rules.patterns, re)
	}
	return rules, nil
}

// Classify picks the strategy for req, whose URL must be absolute.
// Rules are applied in priority order; a request matching none of the API
// rules is not an error and falls through to plain network access.
func (r Rules) Classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet || !supportedScheme(req.URL) {
		return StrategyBypass
	}
	if _, ok := r.manifest[cache.Key(http.MethodGet, req.URL)]; ok {
		return StrategyCacheFirst
	}
	if strings.HasPrefix(req.URL.Path, APIPrefix) {
		for _, re := range r.patterns {
			if re.MatchString(req.URL.Path) {
				return StrategyNetworkFirst
			}
		}
		return StrategyNetworkOnly
	}
	return StrategyCacheFirst
}

// InManifest reports whether u is one of the primed static assets.
func (r Rules) InManifest(u *url.URL) bool {
	_, ok := r.manifest[cache.Key(http.MethodGet, u)]
	return ok
}

func supportedScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// IsNavigation reports whether req loads a document in a client window.
func IsNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return req.Method == http.MethodGet && strings.Contains(req.Header.Get("Accept"), "text/html")
}
