package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
	"github.com/paper-app/arxivfetcher/internal/config"
	"github.com/paper-app/arxivfetcher/pkg/arxiv"
	"github.com/paper-app/arxivfetcher/pkg/publisher"
	"github.com/paper-app/arxivfetcher/pkg/queryexpand"
)

const oneEntryFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom" xmlns:opensearch="http://a9.com/-/spec/opensearch/1.1/">
  <opensearch:totalResults>1</opensearch:totalResults>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <title>Coordinator Test Paper</title>
    <summary>Abstract text.</summary>
    <published>2024-01-01T00:00:00Z</published>
    <updated>2024-01-01T00:00:00Z</updated>
    <author><name>Author One</name></author>
    <category term="cs.LG"/>
  </entry>
</feed>`

type fakeTransport struct {
	published map[string][][]byte
}

func newFakeTransport() *fakeTransport { return &fakeTransport{published: make(map[string][][]byte)} }

func (f *fakeTransport) Publish(ctx context.Context, routingKey string, message []byte) error {
	f.published[routingKey] = append(f.published[routingKey], message)
	return nil
}
func (f *fakeTransport) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeTransport) Close() error                         { return nil }

type fakeExtractor struct {
	content arxivpipe.ParsedContent
	err     error
}

func (f *fakeExtractor) Extract(ctx context.Context, pdfURL, paperID string) (arxivpipe.ParsedContent, error) {
	if f.err != nil {
		return arxivpipe.ParsedContent{}, f.err
	}
	return f.content, nil
}
func (f *fakeExtractor) HealthCheck(ctx context.Context) bool { return f.err == nil }

func newTestCoordinator(t *testing.T, feedBody string) (*Coordinator, *fakeTransport) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	client := arxiv.NewClient(nil, arxiv.WithBaseURL(srv.URL))
	expander := queryexpand.NewExpander(nil, nil, 5, 0.3)
	transport := newFakeTransport()
	pub := publisher.NewPublisher(transport, "discovered", "parse", "extracted", 10)
	cfg := config.Default()

	c := NewCoordinator(cfg, client, expander, pub, &fakeExtractor{content: arxivpipe.ParsedContent{PaperID: "2401.00001"}})
	return c, transport
}

func TestCoordinator_RunDiscoveryHappyPath(t *testing.T) {
	c, transport := newTestCoordinator(t, oneEntryFeed)

	result := c.RunDiscovery(context.Background(), []string{"quantitative finance"}, nil)
	assert.Equal(t, 1, result.PapersDiscovered)
	assert.Equal(t, 1, result.PapersPublished)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Len(t, transport.published["discovered"], 1)
}

func TestCoordinator_RunDiscoveryDedupesAcrossQueriesAndCategories(t *testing.T) {
	c, transport := newTestCoordinator(t, oneEntryFeed)

	result := c.RunDiscovery(context.Background(), []string{"quantitative finance"}, []string{"cs.LG"})
	assert.Equal(t, 1, result.PapersDiscovered)
	assert.Len(t, transport.published["discovered"], 1)
}

func TestCoordinator_RunDiscoveryNeverReturnsAnErrorOnSearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := arxiv.NewClient(nil, arxiv.WithBaseURL(srv.URL))
	expander := queryexpand.NewExpander(nil, nil, 5, 0.3)
	transport := newFakeTransport()
	pub := publisher.NewPublisher(transport, "discovered", "parse", "extracted", 10)
	c := NewCoordinator(config.Default(), client, expander, pub, nil)

	result := c.RunDiscovery(context.Background(), []string{"broken query"}, nil)
	assert.Equal(t, 0, result.PapersDiscovered)
	assert.NotEmpty(t, result.Errors)
}

func TestCoordinator_HandleParseRequestPublishesExtractedContent(t *testing.T) {
	c, transport := newTestCoordinator(t, oneEntryFeed)

	c.HandleParseRequest(context.Background(), "2401.00001", "http://x/paper.pdf", "parse-1", "disc-1")
	require.Len(t, transport.published["extracted"], 1)
}

func TestCoordinator_HandleParseRequestSwallowsExtractorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(oneEntryFeed))
	}))
	defer srv.Close()

	client := arxiv.NewClient(nil, arxiv.WithBaseURL(srv.URL))
	expander := queryexpand.NewExpander(nil, nil, 5, 0.3)
	transport := newFakeTransport()
	pub := publisher.NewPublisher(transport, "discovered", "parse", "extracted", 10)
	c := NewCoordinator(config.Default(), client, expander, pub, &fakeExtractor{err: errors.New("pdf download failed")})

	assert.NotPanics(t, func() {
		c.HandleParseRequest(context.Background(), "2401.00001", "http://x/paper.pdf", "parse-1", "disc-1")
	})
	assert.Empty(t, transport.published["extracted"])
	assert.Equal(t, 1, c.Stats().ErrorsCount)
}

func TestCoordinator_HealthCheckAggregatesCollaborators(t *testing.T) {
	c, _ := newTestCoordinator(t, oneEntryFeed)
	health := c.HealthCheck(context.Background())
	assert.Contains(t, health, "api_client")
	assert.Contains(t, health, "publisher")
	assert.Contains(t, health, "extractor")
}

func TestCoordinator_CloseIsIdempotent(t *testing.T) {
	c, _ := newTestCoordinator(t, oneEntryFeed)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
