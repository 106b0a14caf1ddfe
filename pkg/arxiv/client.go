// Package arxiv is a rate-limited, cache-backed ATOM client for the arXiv
// search API, with pagination and tolerant per-entry parsing.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paper-app/arxivfetcher/internal/arxiverr"
	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
	"github.com/paper-app/arxivfetcher/pkg/arxivcache"
)

const (
	defaultBaseURL = "http://export.arxiv.org/api/query"
	maxResultsCap  = 2000

	SortRelevance       = "relevance"
	SortLastUpdatedDate = "lastUpdatedDate"
	SortSubmittedDate   = "submittedDate"

	OrderAscending  = "ascending"
	OrderDescending = "descending"
)

// Limiter is the subset of pkg/ratelimit's bucket types the client needs.
// Accepting the interface (rather than a concrete type) lets callers choose
// the basic or adaptive bucket without the client caring which.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Client speaks HTTP to a single arXiv-style ATOM upstream.
type Client struct {
	httpClient              *http.Client
	baseURL                 string
	limiter                 Limiter
	cache                   *arxivcache.Manager
	maxConcurrentCategories int
	logger                  *log.Logger

	requestCount int64
	errorCount   int64
	cacheHits    int64
}

// Option configures a Client at construction.
type Option func(*Client)

func WithBaseURL(u string) Option            { return func(c *Client) { c.baseURL = u } }
func WithHTTPClient(h *http.Client) Option   { return func(c *Client) { c.httpClient = h } }
func WithCache(m *arxivcache.Manager) Option { return func(c *Client) { c.cache = m } }
func WithMaxConcurrentCategories(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConcurrentCategories = n
		}
	}
}
func WithLogger(l *log.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient constructs a Client. limiter may be nil, in which case Search
// skips the limiter; the default HTTP client's throttled transport still
// paces requests to about one every three seconds unless WithHTTPClient
// replaces it.
func NewClient(limiter Limiter, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: newThrottledTransport(nil, 0.33),
		},
		baseURL:                 defaultBaseURL,
		limiter:                 limiter,
		maxConcurrentCategories: 3,
		logger:                  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search issues (or replays from cache) a single ATOM query.
func (c *Client) Search(ctx context.Context, query string, maxResults, startIndex int, sortBy, sortOrder string) ([]arxivpipe.PaperMetadata, error) {
	if maxResults <= 0 {
		maxResults = 50
	}
	if maxResults > maxResultsCap {
		maxResults = maxResultsCap
	}
	if sortBy == "" {
		sortBy = SortRelevance
	}
	if sortOrder == "" {
		sortOrder = OrderDescending
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", strconv.Itoa(startIndex))
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", sortBy)
	params.Set("sortOrder", sortOrder)

	if c.cache == nil {
		return c.acquireAndSearch(ctx, params)
	}

	cacheKey := arxivcache.APIKey(query,
		"start="+strconv.Itoa(startIndex),
		"max_results="+strconv.Itoa(maxResults),
		"sortBy="+sortBy,
		"sortOrder="+sortOrder,
	)
	var cached []arxivpipe.PaperMetadata
	if c.cache.GetAPI(ctx, cacheKey, &cached) {
		c.cacheHits++
		return cached, nil
	}

	// Coalesce concurrent misses on the same key so that N callers racing
	// to populate the same expanded query issue exactly one upstream
	// request between them, instead of N, and the cache is populated once.
	v, err, _ := c.cache.Coalesce(cacheKey, func() (any, error) {
		papers, err := c.acquireAndSearch(ctx, params)
		if err != nil {
			return nil, err
		}
		c.cache.SetAPI(ctx, cacheKey, papers)
		return papers, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]arxivpipe.PaperMetadata), nil
}

// acquireAndSearch rate-limits and then issues a single upstream request.
func (c *Client) acquireAndSearch(ctx context.Context, params url.Values) ([]arxivpipe.PaperMetadata, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	return c.doSearch(ctx, params)
}

// FetchByCategories fetches the most recently submitted papers in each of
// cats, fanning out up to maxConcurrentCategories at a time. Each result is
// stamped source=category, source_query=<category>. Category order is
// preserved in the merged result regardless of fan-out scheduling.
func (c *Client) FetchByCategories(ctx context.Context, cats []string, maxPerCat int, daysBack *int) ([]arxivpipe.PaperMetadata, error) {
	results := make([][]arxivpipe.PaperMetadata, len(cats))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrentCategories)

	for i, cat := range cats {
		i, cat := i, cat
		g.Go(func() error {
			if arxivpipe.IsValidCategory(cat) {
				info := arxivpipe.GetCategoryInfo(cat)
				c.logger.Printf("arxiv: fetching category %s (%s, %s)", cat, info.Name, info.Group)
			} else {
				c.logger.Printf("arxiv: fetching unrecognized category %q, forwarding as-is (taxonomy may be stale)", cat)
			}

			query := "cat:" + cat
			if daysBack != nil {
				cutoff := time.Now().AddDate(0, 0, -*daysBack).Format("20060102")
				query = fmt.Sprintf("%s AND submittedDate:[%s TO 99991231]", query, cutoff)
			}
			papers, err := c.Search(gctx, query, maxPerCat, 0, SortSubmittedDate, OrderDescending)
			if err != nil {
				return err
			}
			for i := range papers {
				papers[i].Source = arxivpipe.SourceCategory
				papers[i].SourceQuery = cat
			}
			results[i] = papers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []arxivpipe.PaperMetadata
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// FetchByIDs fetches canonical metadata for exactly the given paper ids,
// batching into groups of at most 100 per the upstream's OR-clause limit.
func (c *Client) FetchByIDs(ctx context.Context, ids []string) ([]arxivpipe.PaperMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const batchSize = 100
	var all []arxivpipe.PaperMetadata
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		terms := make([]string, len(batch))
		for i, id := range batch {
			terms[i] = "id:" + id
		}
		query := strings.Join(terms, " OR ")

		papers, err := c.Search(ctx, query, len(batch), 0, SortRelevance, OrderDescending)
		if err != nil {
			return nil, err
		}
		all = append(all, papers...)
	}
	return all, nil
}

// HealthCheck issues a single minimum-result query with a tight timeout.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("search_query", "cat:cs.LG")
	params.Set("start", "0")
	params.Set("max_results", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stats mirrors the Python source's get_stats() counters.
type Stats struct {
	RequestCount  int64
	ErrorCount    int64
	CacheHitCount int64
	SuccessRate   float64
}

func (c *Client) Stats() Stats {
	var rate float64
	if c.requestCount > 0 {
		rate = 1 - float64(c.errorCount)/float64(c.requestCount)
	}
	return Stats{
		RequestCount:  c.requestCount,
		ErrorCount:    c.errorCount,
		CacheHitCount: c.cacheHits,
		SuccessRate:   rate,
	}
}

func (c *Client) doSearch(ctx context.Context, params url.Values) ([]arxivpipe.PaperMetadata, error) {
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv: failed to build request: %w", err)
	}

	c.requestCount++
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount++
		if ctx.Err() != nil {
			return nil, &arxiverr.TimeoutError{TimeoutSeconds: 30, Err: err}
		}
		return nil, &arxiverr.APIError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.errorCount++
		retryAfter := 0
		if h := resp.Header.Get("Retry-After"); h != "" {
			retryAfter, _ = strconv.Atoi(h)
		}
		return nil, &arxiverr.RateLimitError{RetryAfter: retryAfter}
	}
	if resp.StatusCode != http.StatusOK {
		c.errorCount++
		body, _ := io.ReadAll(resp.Body)
		return nil, &arxiverr.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errorCount++
		return nil, fmt.Errorf("arxiv: failed to read response body: %w", err)
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		c.errorCount++
		return nil, &arxiverr.APIResponseError{Err: fmt.Errorf("malformed ATOM document: %w", err)}
	}

	papers := make([]arxivpipe.PaperMetadata, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		paper, err := entryToPaper(entry)
		if err != nil {
			c.logger.Printf("arxiv: skipping unparseable entry: %v", err)
			continue
		}
		papers = append(papers, paper)
	}
	return papers, nil
}
