// Package coordinator wires the query expander, API client, publisher and
// extractor into the three-phase discovery/extraction pipeline and owns
// the pipeline's lifecycle.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
	"github.com/paper-app/arxivfetcher/internal/config"
	"github.com/paper-app/arxivfetcher/pkg/arxiv"
	"github.com/paper-app/arxivfetcher/pkg/publisher"
	"github.com/paper-app/arxivfetcher/pkg/queryexpand"
)

// Extractor is the collaborator contract for turning a PDF into structured
// content. It is never called from RunDiscovery, only from
// HandleParseRequest.
type Extractor interface {
	Extract(ctx context.Context, pdfURL, paperID string) (arxivpipe.ParsedContent, error)
	HealthCheck(ctx context.Context) bool
}

type state int

const (
	stateUnconfigured state = iota
	stateInitialized
	stateClosed
)

// runError records one failure encountered during a discovery run, kept
// bounded to the last 10 per run in DiscoveryResult.
type runError struct {
	Context   string
	Err       error
	Timestamp time.Time
}

// DiscoveryResult summarises one RunDiscovery call. RunDiscovery itself
// never returns an error: every failure it encounters is recorded here
// instead, matching the orchestrator it's grounded on.
type DiscoveryResult struct {
	CorrelationID     string
	PapersDiscovered  int
	PapersPublished   int
	QueriesProcessed  int
	CategoriesFetched int
	Duration          time.Duration
	Errors            []runError
}

// Coordinator owns the discovery and extraction pipeline's collaborators
// and their lifecycle. A zero-value Coordinator is not usable; construct
// one with NewCoordinator.
type Coordinator struct {
	cfg       *config.ArxivFetcherConfig
	apiClient *arxiv.Client
	expander  *queryexpand.Expander
	publisher *publisher.Publisher
	extractor Extractor

	logger *log.Logger

	mu    sync.Mutex
	state state

	papersDiscovered int
	papersPublished  int
	queriesProcessed int
	errors           []runError
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

func WithLogger(l *log.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// NewCoordinator constructs a Coordinator. The first time Initialize runs,
// a nil apiClient is replaced by an arxiv.Client with no limiter and no
// cache, and a nil expander by a model-less (fallback-only) expander using
// cfg's MaxQueryExpansions and LLMTemperature. A nil publisher has no
// default: Initialize returns an error. extractor has no default either;
// when it is nil, HandleParseRequest records an error and returns.
func NewCoordinator(cfg *config.ArxivFetcherConfig, apiClient *arxiv.Client, expander *queryexpand.Expander, pub *publisher.Publisher, extractor Extractor, opts ...Option) *Coordinator {
	if cfg == nil {
		cfg = config.Default()
	}
	c := &Coordinator{
		cfg:       cfg,
		apiClient: apiClient,
		expander:  expander,
		publisher: pub,
		extractor: extractor,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize is idempotent: a second call with the pipeline already
// Initialized or Closed is a no-op.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateUnconfigured {
		return nil
	}

	if c.apiClient == nil {
		c.apiClient = arxiv.NewClient(nil)
	}
	if c.expander == nil {
		c.expander = queryexpand.NewExpander(nil, nil, c.cfg.MaxQueryExpansions, c.cfg.LLMTemperature)
	}
	if c.publisher == nil {
		return fmt.Errorf("coordinator: a publisher must be supplied, it has no config-only default (requires a Transport)")
	}

	c.state = stateInitialized
	c.logger.Printf("coordinator: initialized")
	return nil
}

// RunDiscovery expands and searches queries, fetches categories, dedupes
// the combined result set and publishes it. It never returns an error
// itself; failures at any stage are recorded in the returned result's
// Errors and the run continues with whatever succeeded.
func (c *Coordinator) RunDiscovery(ctx context.Context, queries, categories []string) DiscoveryResult {
	if err := c.Initialize(ctx); err != nil {
		return DiscoveryResult{Errors: []runError{{Context: "initialize", Err: err, Timestamp: time.Now()}}}
	}

	runCorrelationID := uuid.New().String()
	start := time.Now()
	c.logger.Printf("coordinator: starting discovery run %s with %d queries", shortID(runCorrelationID), len(queries))

	var allPapers []arxivpipe.PaperMetadata
	var runErrors []runError
	queriesProcessed := 0

	if len(queries) > 0 {
		papers, errs, processed := c.processQueries(ctx, queries)
		allPapers = append(allPapers, papers...)
		runErrors = append(runErrors, errs...)
		queriesProcessed = processed
	}

	if len(categories) > 0 {
		papers, err := c.fetchCategories(ctx, categories)
		if err != nil {
			runErrors = append(runErrors, runError{Context: "categories", Err: err, Timestamp: time.Now()})
		} else {
			allPapers = append(allPapers, papers...)
		}
	}

	unique := arxivpipe.DedupePapers(allPapers)

	published := 0
	if len(unique) > 0 {
		n, err := c.publisher.PublishDiscovered(ctx, unique, runCorrelationID)
		if err != nil {
			runErrors = append(runErrors, runError{Context: "publish", Err: err, Timestamp: time.Now()})
		}
		published = n
	}

	c.mu.Lock()
	c.papersDiscovered += len(unique)
	c.papersPublished += published
	c.errors = append(c.errors, runErrors...)
	c.mu.Unlock()

	duration := time.Since(start)
	result := DiscoveryResult{
		CorrelationID:     runCorrelationID,
		PapersDiscovered:  len(unique),
		PapersPublished:   published,
		QueriesProcessed:  queriesProcessed,
		CategoriesFetched: len(categories),
		Duration:          duration,
		Errors:            lastN(runErrors, 10),
	}

	c.logger.Printf("coordinator: discovery run %s completed in %s: %d papers found, %d published",
		shortID(runCorrelationID), duration, len(unique), published)
	return result
}

func (c *Coordinator) processQueries(ctx context.Context, queries []string) ([]arxivpipe.PaperMetadata, []runError, int) {
	var papers []arxivpipe.PaperMetadata
	var errs []runError
	processed := 0

	for _, query := range queries {
		expansion, err := c.expander.ExpandQuery(ctx, query)
		if err != nil {
			c.logger.Printf("coordinator: failed to process query %q: %v", query, err)
			errs = append(errs, runError{Context: "query:" + query, Err: err, Timestamp: time.Now()})
			continue
		}

		processed++
		c.mu.Lock()
		c.queriesProcessed++
		c.mu.Unlock()

		for _, expanded := range expansion.ExpandedQueries {
			found, err := c.apiClient.Search(ctx, expanded, c.cfg.DefaultResultsPerQuery, 0, arxiv.SortRelevance, arxiv.OrderDescending)
			if err != nil {
				c.logger.Printf("coordinator: search failed for expanded query %q: %v", expanded, err)
				errs = append(errs, runError{Context: "search:" + expanded, Err: err, Timestamp: time.Now()})
				continue
			}
			for i := range found {
				found[i].Source = arxivpipe.SourceQuery
				found[i].SourceQuery = query
			}
			papers = append(papers, found...)
		}
	}
	return papers, errs, processed
}

func (c *Coordinator) fetchCategories(ctx context.Context, categories []string) ([]arxivpipe.PaperMetadata, error) {
	papers, err := c.apiClient.FetchByCategories(ctx, categories, c.cfg.DefaultResultsPerQuery, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Printf("coordinator: fetched %d papers from %d categories", len(papers), len(categories))
	return papers, nil
}

// HandleParseRequest extracts a paper's PDF content and publishes it. Like
// the orchestrator it's grounded on, it absorbs every failure into the
// internal error log rather than surfacing it to the caller — a parse
// request is fire-and-forget from the pipeline's perspective.
func (c *Coordinator) HandleParseRequest(ctx context.Context, paperID, pdfURL, correlationID, originalCorrelationID string) {
	if err := c.Initialize(ctx); err != nil {
		c.recordError("initialize:"+paperID, err)
		return
	}
	if c.extractor == nil {
		c.recordError("extract:"+paperID, fmt.Errorf("no extractor configured"))
		return
	}

	content, err := c.extractor.Extract(ctx, pdfURL, paperID)
	if err != nil {
		c.logger.Printf("coordinator: failed to extract %s: %v", paperID, err)
		c.recordError("extract:"+paperID, err)
		return
	}

	papers, err := c.apiClient.FetchByIDs(ctx, []string{paperID})
	if err != nil || len(papers) == 0 {
		c.logger.Printf("coordinator: paper not found: %s", paperID)
		c.recordError("fetch:"+paperID, fmt.Errorf("paper not found: %s", paperID))
		return
	}

	if err := c.publisher.PublishExtracted(ctx, papers[0], content, originalCorrelationID, correlationID); err != nil {
		c.logger.Printf("coordinator: failed to publish extracted content for %s: %v", paperID, err)
		c.recordError("publish:"+paperID, err)
		return
	}

	c.logger.Printf("coordinator: processed parse request for %s", paperID)
}

func (c *Coordinator) recordError(context string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, runError{Context: context, Err: err, Timestamp: time.Now()})
}

// HealthCheck aggregates the health of every configured collaborator.
func (c *Coordinator) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool)
	if c.apiClient != nil {
		health["api_client"] = c.apiClient.HealthCheck(ctx)
	}
	if c.publisher != nil {
		health["publisher"] = c.publisher.HealthCheck(ctx)
	}
	if c.extractor != nil {
		health["extractor"] = c.extractor.HealthCheck(ctx)
	}
	return health
}

// Close is idempotent and releases the publisher's underlying transport.
// The API client holds nothing that needs closing and is left as is.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}

	var firstErr error
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.state = stateClosed
	c.logger.Printf("coordinator: closed")
	return firstErr
}

// Stats mirrors the orchestrator's get_stats() fields.
type Stats struct {
	PapersDiscovered int
	PapersPublished  int
	QueriesProcessed int
	ErrorsCount      int
	Initialized      bool
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		PapersDiscovered: c.papersDiscovered,
		PapersPublished:  c.papersPublished,
		QueriesProcessed: c.queriesProcessed,
		ErrorsCount:      len(c.errors),
		Initialized:      c.state == stateInitialized,
	}
}

func shortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}

func lastN(errs []runError, n int) []runError {
	if len(errs) <= n {
		return errs
	}
	return errs[len(errs)-n:]
}
