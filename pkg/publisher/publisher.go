// Package publisher hands discovered papers, parse requests and extracted
// content off to a message transport, stamping correlation ids along the
// way.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/paper-app/arxivfetcher/internal/arxiverr"
	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
)

// Transport is the collaborator contract a concrete message broker
// implements.
type Transport interface {
	Publish(ctx context.Context, routingKey string, message []byte) error
	HealthCheck(ctx context.Context) bool
	Close() error
}

// Publisher builds and ships the three pipeline message shapes.
type Publisher struct {
	transport Transport
	logger    *log.Logger

	discoveredQueue   string
	parseRequestQueue string
	extractedQueue    string
	batchSize         int

	publishedCount int64
	errorCount     int64
}

// Option configures a Publisher at construction.
type Option func(*Publisher)

func WithLogger(l *log.Logger) Option { return func(p *Publisher) { p.logger = l } }

// NewPublisher constructs a Publisher over transport, addressed to the
// given queue names.
func NewPublisher(transport Transport, discoveredQueue, parseRequestQueue, extractedQueue string, batchSize int, opts ...Option) *Publisher {
	if batchSize <= 0 {
		batchSize = 10
	}
	p := &Publisher{
		transport:         transport,
		discoveredQueue:   discoveredQueue,
		parseRequestQueue: parseRequestQueue,
		extractedQueue:    extractedQueue,
		batchSize:         batchSize,
		logger:            log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishDiscovered publishes each of papers to the discovered queue in
// batches of batchSize, pausing briefly between batches. A correlation id
// is always minted fresh per paper when correlationID is empty — it never
// falls back to the paper's own id, so two discovery runs that happen to
// find the same paper never collide on correlation. Per-paper publish
// failures are logged and skipped; PublishDiscovered itself never returns
// an error.
func (p *Publisher) PublishDiscovered(ctx context.Context, papers []arxivpipe.PaperMetadata, correlationID string) (int, error) {
	if len(papers) == 0 {
		return 0, nil
	}

	published := 0
	for start := 0; start < len(papers); start += p.batchSize {
		end := start + p.batchSize
		if end > len(papers) {
			end = len(papers)
		}
		for _, paper := range papers[start:end] {
			cid := correlationID
			if cid == "" {
				cid = uuid.New().String()
			}
			msg := p.buildDiscoveredMessage(paper, cid)
			body, err := json.Marshal(msg)
			if err != nil {
				p.errorCount++
				p.logger.Printf("publisher: failed to marshal discovered message for %s: %v", paper.PaperID, err)
				continue
			}
			if err := p.transport.Publish(ctx, p.discoveredQueue, body); err != nil {
				p.errorCount++
				p.logger.Printf("publisher: failed to publish discovered paper %s: %v", paper.PaperID, err)
				continue
			}
			published++
			p.publishedCount++
		}
		if end < len(papers) {
			time.Sleep(100 * time.Millisecond)
		}
	}

	p.logger.Printf("publisher: published %d/%d papers to %s", published, len(papers), p.discoveredQueue)
	return published, nil
}

// PublishParseRequest publishes one parse request. priority must be in
// [1,10] and relevanceScore, if present, in [0,1]; either violation is a
// ValidationError raised before any transport call.
func (p *Publisher) PublishParseRequest(ctx context.Context, paperID, pdfURL, correlationID, originalCorrelationID string, priority int, relevanceScore *float64, notes string) error {
	if priority < 1 || priority > 10 {
		return &arxiverr.ValidationError{Field: "priority", Reason: fmt.Sprintf("must be in [1,10], got %d", priority)}
	}
	if relevanceScore != nil && (*relevanceScore < 0 || *relevanceScore > 1) {
		return &arxiverr.ValidationError{Field: "relevance_score", Reason: fmt.Sprintf("must be in [0,1], got %f", *relevanceScore)}
	}

	msg := arxivpipe.ParseRequestMessage{
		CorrelationID:         correlationID,
		OriginalCorrelationID: originalCorrelationID,
		CreatedAt:             time.Now(),
		PaperID:               paperID,
		PDFURL:                pdfURL,
		Priority:              priority,
		RelevanceScore:        relevanceScore,
		IntelligenceNotes:     notes,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publisher: failed to marshal parse request for %s: %w", paperID, err)
	}

	if err := p.transport.Publish(ctx, p.parseRequestQueue, body); err != nil {
		p.errorCount++
		p.logger.Printf("publisher: failed to publish parse request for %s: %v", paperID, err)
		return &arxiverr.PublishError{Queue: p.parseRequestQueue, MessageType: "parse_request", Err: err}
	}
	p.publishedCount++
	p.logger.Printf("publisher: published parse request for %s (priority %d)", paperID, priority)
	return nil
}

// PublishExtracted publishes one paper's full extracted content, carrying
// forward both the original discovery correlation id and this parse
// request's own correlation id.
func (p *Publisher) PublishExtracted(ctx context.Context, paper arxivpipe.PaperMetadata, content arxivpipe.ParsedContent, discoveryCorrelationID, parseCorrelationID string) error {
	msg := arxivpipe.ExtractedMessage{
		CorrelationID:          parseCorrelationID,
		DiscoveryCorrelationID: discoveryCorrelationID,
		ParseCorrelationID:     parseCorrelationID,
		CreatedAt:              time.Now(),
		PaperID:                paper.PaperID,
		Version:                paper.Version,
		Title:                  paper.Title,
		ArxivURL:               paper.ArxivURL,
		PDFURL:                 paper.PDFURL,
		Authors:                paper.Authors,
		Categories:             paper.Categories,
		Subcategories:          paper.Subcategories,
		SubmittedDate:          paper.SubmittedDate,
		DOI:                    paper.DOI,
		TextContent:            content.TextContent,
		Tables:                 content.Tables,
		Equations:              content.Equations,
		FigureCaptions:         content.FigureCaptions,
		ExtractionMetadata:     content.Metadata,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publisher: failed to marshal extracted message for %s: %w", paper.PaperID, err)
	}

	if err := p.transport.Publish(ctx, p.extractedQueue, body); err != nil {
		p.errorCount++
		p.logger.Printf("publisher: failed to publish extracted paper %s: %v", paper.PaperID, err)
		return &arxiverr.PublishError{Queue: p.extractedQueue, MessageType: "extracted", Err: err}
	}
	p.publishedCount++
	p.logger.Printf("publisher: published extracted paper %s", paper.PaperID)
	return nil
}

func (p *Publisher) buildDiscoveredMessage(paper arxivpipe.PaperMetadata, correlationID string) arxivpipe.DiscoveredMessage {
	return arxivpipe.DiscoveredMessage{
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
		PaperID:       paper.PaperID,
		Version:       paper.Version,
		Title:         paper.Title,
		Abstract:      paper.Abstract,
		Authors:       paper.Authors,
		Categories:    paper.Categories,
		Subcategories: paper.Subcategories,
		ArxivURL:      paper.ArxivURL,
		PDFURL:        paper.PDFURL,
		SubmittedDate: paper.SubmittedDate,
		UpdatedDate:   paper.UpdatedDate,
		DOI:           paper.DOI,
		JournalRef:    paper.JournalRef,
		Comments:      paper.Comments,
		SourceQuery:   paper.SourceQuery,
	}
}

// HealthCheck reports whether the underlying transport is reachable.
func (p *Publisher) HealthCheck(ctx context.Context) bool {
	return p.transport.HealthCheck(ctx)
}

func (p *Publisher) Close() error {
	return p.transport.Close()
}

// Stats mirrors the Python source's get_stats() publisher counters.
type Stats struct {
	PublishedCount int64
	ErrorCount     int64
}

func (p *Publisher) Stats() Stats {
	return Stats{PublishedCount: p.publishedCount, ErrorCount: p.errorCount}
}
