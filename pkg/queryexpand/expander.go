// Package queryexpand turns a single raw research query into several
// arXiv-search-friendly variants via an injected language model, falling
// back to a deterministic expansion when the model is unavailable or
// returns something unusable.
package queryexpand

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/paper-app/arxivfetcher/internal/arxiverr"
	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
	"github.com/paper-app/arxivfetcher/pkg/arxivcache"
	"github.com/paper-app/arxivfetcher/pkg/llmrouter"
)

const expansionPromptTemplate = `You are a research query assistant helping search arXiv for
academic papers about quantitative finance and machine learning.

Generate %d unique search query variations for the following research topic:
%q

Requirements:
1. Include synonyms and related technical terms
2. Include common abbreviations (e.g., "NN" for "neural network")
3. Include related concepts and methodologies
4. Use arXiv search-friendly syntax (all: for full text search)
5. Each query should maximize recall while staying relevant

Output format (JSON array only, no other text):
["query 1", "query 2", "query 3"]
`

var fencedJSON = regexp.MustCompile("(?s)^```(?:json)?\\s*|\\s*```$")
var nonWord = regexp.MustCompile(`[^\w\s]`)

// Expander expands raw queries into arXiv search strings.
type Expander struct {
	router        llmrouter.Router
	cache         *arxivcache.Manager
	maxExpansions int
	temperature   float64
	logger        *log.Logger
}

// Option configures an Expander at construction.
type Option func(*Expander)

func WithLogger(l *log.Logger) Option { return func(e *Expander) { e.logger = l } }

// NewExpander constructs an Expander. router may be nil, in which case
// every call falls straight through to the deterministic fallback.
func NewExpander(router llmrouter.Router, cache *arxivcache.Manager, maxExpansions int, temperature float64, opts ...Option) *Expander {
	if maxExpansions <= 0 {
		maxExpansions = 5
	}
	e := &Expander{
		router:        router,
		cache:         cache,
		maxExpansions: maxExpansions,
		temperature:   temperature,
		logger:        log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExpandQuery returns the expanded query set for raw, consulting the cache
// first and falling back to a deterministic expansion if the model call or
// its parsed output is unusable. It returns an error only when both the
// model path and the fallback produce nothing at all.
func (e *Expander) ExpandQuery(ctx context.Context, raw string) (arxivpipe.QueryExpansion, error) {
	if e.cache != nil {
		var cached []string
		if e.cache.GetQuery(ctx, raw, &cached) && len(cached) > 0 {
			return arxivpipe.QueryExpansion{
				OriginalQuery:   raw,
				ExpandedQueries: cached,
				GeneratedAt:     time.Now(),
				CacheHit:        true,
			}, nil
		}
	}

	expansions := e.fromModel(ctx, raw)
	if len(expansions) == 0 {
		e.logger.Printf("queryexpand: model returned no usable expansions for %q, falling back", truncate(raw, 50))
		expansions = fallbackExpansions(raw, e.maxExpansions)
	}
	if len(expansions) == 0 {
		return arxivpipe.QueryExpansion{}, &arxiverr.QueryProcessingError{
			Query: raw,
			Stage: "expansion",
			Err:   fmt.Errorf("no expansions produced by model or fallback"),
		}
	}

	if e.cache != nil {
		e.cache.SetQuery(ctx, raw, expansions)
	}

	return arxivpipe.QueryExpansion{
		OriginalQuery:   raw,
		ExpandedQueries: expansions,
		GeneratedAt:     time.Now(),
		CacheHit:        false,
	}, nil
}

// ExpandBatch expands each of queries independently. A query whose
// expansion fails entirely still appears in the result, expanded to just
// itself, so a caller iterating the map never has to special-case absence.
func (e *Expander) ExpandBatch(ctx context.Context, queries []string) map[string]arxivpipe.QueryExpansion {
	results := make(map[string]arxivpipe.QueryExpansion, len(queries))
	for _, q := range queries {
		expansion, err := e.ExpandQuery(ctx, q)
		if err != nil {
			e.logger.Printf("queryexpand: failed to expand %q: %v", q, err)
			results[q] = arxivpipe.QueryExpansion{OriginalQuery: q, ExpandedQueries: []string{q}}
			continue
		}
		results[q] = expansion
	}
	return results
}

func (e *Expander) fromModel(ctx context.Context, raw string) []string {
	if e.router == nil {
		return nil
	}
	prompt := fmt.Sprintf(expansionPromptTemplate, e.maxExpansions, raw)
	resp, err := e.router.Complete(ctx, llmrouter.CompletionRequest{
		Prompt:      prompt,
		TaskType:    llmrouter.TaskQueryGeneration,
		Temperature: e.temperature,
		MaxTokens:   512,
	})
	if err != nil {
		e.logger.Printf("queryexpand: model call failed: %v", err)
		return nil
	}
	return parseExpansions(resp.Text, e.maxExpansions)
}

// parseExpansions extracts a JSON array of query strings from a model
// response, tolerating a surrounding ```json fenced block.
func parseExpansions(response string, maxExpansions int) []string {
	cleaned := fencedJSON.ReplaceAllString(strings.TrimSpace(response), "")
	cleaned = strings.TrimSpace(cleaned)

	var raw []string
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if len(q) > 3 {
			out = append(out, q)
		}
	}
	if len(out) > maxExpansions {
		out = out[:maxExpansions]
	}
	return out
}

// fallbackExpansions builds arXiv-syntax variants without a model: the raw
// query, its keyword-collapsed form, a punctuation-stripped form, and
// explicit title/abstract field variants. Unlike the expansion this was
// translated from, the field-prefixed variants are well-formed ti:/abs:
// queries rather than a broken literal.
func fallbackExpansions(query string, maxExpansions int) []string {
	seen := make(map[string]struct{})
	var variations []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if len(v) <= 3 {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		variations = append(variations, v)
	}

	add("all:" + query)
	add("all:" + strings.Join(strings.Fields(strings.ToLower(query)), " "))

	cleaned := strings.TrimSpace(nonWord.ReplaceAllString(query, " "))
	if cleaned != query {
		add("all:" + cleaned)
	}

	add("ti:" + query)
	add("abs:" + query)

	if len(variations) > maxExpansions {
		variations = variations[:maxExpansions]
	}
	return variations
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
