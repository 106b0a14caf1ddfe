package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paper-app/arxivfetcher/internal/arxiverr"
	"github.com/paper-app/arxivfetcher/internal/arxivpipe"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages map[string][][]byte
	failFor  string
	healthy  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{messages: make(map[string][][]byte), healthy: true}
}

func (f *fakeTransport) Publish(ctx context.Context, routingKey string, message []byte) error {
	if f.failFor != "" && routingKey == f.failFor {
		return errors.New("simulated transport failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[routingKey] = append(f.messages[routingKey], message)
	return nil
}

func (f *fakeTransport) HealthCheck(ctx context.Context) bool { return f.healthy }
func (f *fakeTransport) Close() error                         { return nil }

func (f *fakeTransport) count(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[queue])
}

func samplePaper(id string) arxivpipe.PaperMetadata {
	return arxivpipe.PaperMetadata{PaperID: id, Title: "A Paper", Version: "v1"}
}

func TestPublisher_PublishDiscoveredMintsFreshCorrelationIDPerPaper(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	papers := []arxivpipe.PaperMetadata{samplePaper("a"), samplePaper("b")}
	n, err := p.PublishDiscovered(context.Background(), papers, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Equal(t, 2, transport.count("discovered"))

	var first, second arxivpipe.DiscoveredMessage
	require.NoError(t, json.Unmarshal(transport.messages["discovered"][0], &first))
	require.NoError(t, json.Unmarshal(transport.messages["discovered"][1], &second))
	assert.NotEmpty(t, first.CorrelationID)
	assert.NotEmpty(t, second.CorrelationID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
	assert.NotEqual(t, "a", first.CorrelationID)
}

func TestPublisher_PublishDiscoveredUsesExplicitCorrelationIDWhenGiven(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	_, err := p.PublishDiscovered(context.Background(), []arxivpipe.PaperMetadata{samplePaper("a")}, "run-123")
	require.NoError(t, err)

	var msg arxivpipe.DiscoveredMessage
	require.NoError(t, json.Unmarshal(transport.messages["discovered"][0], &msg))
	assert.Equal(t, "run-123", msg.CorrelationID)
}

func TestPublisher_PublishDiscoveredSkipsFailuresAndContinues(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor = "discovered"
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	n, err := p.PublishDiscovered(context.Background(), []arxivpipe.PaperMetadata{samplePaper("a"), samplePaper("b")}, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPublisher_PublishParseRequestRejectsOutOfRangePriority(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	err := p.PublishParseRequest(context.Background(), "a", "http://x/a.pdf", "c1", "c0", 11, nil, "")
	require.Error(t, err)
	var verr *arxiverr.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPublisher_PublishParseRequestRejectsOutOfRangeRelevance(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	bad := 1.5
	err := p.PublishParseRequest(context.Background(), "a", "http://x/a.pdf", "c1", "c0", 5, &bad, "")
	require.Error(t, err)
}

func TestPublisher_PublishParseRequestWrapsTransportFailure(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor = "parse"
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	err := p.PublishParseRequest(context.Background(), "a", "http://x/a.pdf", "c1", "c0", 5, nil, "")
	require.Error(t, err)
	var perr *arxiverr.PublishError
	assert.ErrorAs(t, err, &perr)
}

func TestPublisher_PublishExtractedCarriesBothCorrelationIDs(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	err := p.PublishExtracted(context.Background(), samplePaper("a"), arxivpipe.ParsedContent{PaperID: "a"}, "disc-1", "parse-1")
	require.NoError(t, err)

	var msg arxivpipe.ExtractedMessage
	require.NoError(t, json.Unmarshal(transport.messages["extracted"][0], &msg))
	assert.Equal(t, "disc-1", msg.DiscoveryCorrelationID)
	assert.Equal(t, "parse-1", msg.ParseCorrelationID)
	assert.Equal(t, "parse-1", msg.CorrelationID)
}

func TestPublisher_StatsTrackPublishedAndErrorCounts(t *testing.T) {
	transport := newFakeTransport()
	p := NewPublisher(transport, "discovered", "parse", "extracted", 10)

	p.PublishDiscovered(context.Background(), []arxivpipe.PaperMetadata{samplePaper("a")}, "")
	stats := p.Stats()
	assert.Equal(t, int64(1), stats.PublishedCount)
	assert.Equal(t, int64(0), stats.ErrorCount)
}
