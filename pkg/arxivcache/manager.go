package arxivcache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	nsAPI    = "arxiv:api"
	nsParsed = "arxiv:parsed"
	nsQuery  = "arxiv:query"
)

// Manager is a thin layer over a Backend handling key derivation,
// serialisation and TTL classes. The cache is never on the critical path
// for correctness: every Get-class method treats a miss, a deserialisation
// failure and a backend error identically (absent), and every Set-class
// method logs but never propagates backend errors.
type Manager struct {
	backend Backend

	ttlAPI    time.Duration
	ttlParsed time.Duration
	ttlQuery  time.Duration

	logger *log.Logger

	// group coalesces concurrent identical misses onto a single upstream
	// fetch (see Coalesce), avoiding a cache stampede when many callers race to
	// populate the same key (e.g. the same expanded query issued by two
	// concurrent run_discovery calls).
	group singleflight.Group

	hits   int64
	misses int64
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger overrides the manager's diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager constructs a cache manager over backend with the given TTL
// classes.
func NewManager(backend Backend, ttlAPI, ttlParsed, ttlQuery time.Duration, opts ...Option) *Manager {
	m := &Manager{
		backend:   backend,
		ttlAPI:    ttlAPI,
		ttlParsed: ttlParsed,
		ttlQuery:  ttlQuery,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// arxivKey builds a namespaced key, MD5-hex-truncating every non-prefix
// segment to 16 hex chars to keep key length bounded.
func arxivKey(namespace string, parts ...string) string {
	joined := strings.Join(parts, "|")
	sum := md5.Sum([]byte(joined))
	return namespace + ":" + hex.EncodeToString(sum[:])[:16]
}

// APIKey derives the cache key for a search query's full parameter tuple.
func APIKey(query string, params ...string) string {
	sorted := append([]string{}, params...)
	sort.Strings(sorted)
	return arxivKey(nsAPI, append([]string{query}, sorted...)...)
}

// ParsedKey derives the cache key for a paper's parsed content. Paper ids
// are already short, so no hash is applied — this matches the source's
// "arxiv:parsed:<paper_id>" scheme exactly.
func ParsedKey(paperID string) string {
	return nsParsed + ":" + paperID
}

// QueryKey derives the cache key for an original (un-expanded) query.
func QueryKey(originalQuery string) string {
	return arxivKey(nsQuery, originalQuery)
}

func (m *Manager) GetAPI(ctx context.Context, key string, out any) bool {
	return m.getJSON(ctx, key, out)
}

func (m *Manager) SetAPI(ctx context.Context, key string, value any) {
	m.setJSON(ctx, key, value, m.ttlAPI)
}

func (m *Manager) GetParsed(ctx context.Context, paperID string, out any) bool {
	return m.getJSON(ctx, ParsedKey(paperID), out)
}

func (m *Manager) SetParsed(ctx context.Context, paperID string, value any) {
	m.setJSON(ctx, ParsedKey(paperID), value, m.ttlParsed)
}

// GetManyParsed returns parsed-content cache hits for the given paper ids,
// via the backend's native GetMany rather than N sequential gets (the Open
// Question from SPEC_FULL.md §9, resolved in favour of widening Backend).
func (m *Manager) GetManyParsed(ctx context.Context, paperIDs []string) map[string]json.RawMessage {
	keys := make([]string, len(paperIDs))
	keyToID := make(map[string]string, len(paperIDs))
	for i, id := range paperIDs {
		k := ParsedKey(id)
		keys[i] = k
		keyToID[k] = id
	}
	raw, err := m.backend.GetMany(ctx, keys)
	if err != nil {
		m.logger.Printf("arxivcache: get_many_parsed backend error: %v", err)
		return map[string]json.RawMessage{}
	}
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		out[keyToID[k]] = json.RawMessage(v)
	}
	return out
}

func (m *Manager) GetQuery(ctx context.Context, originalQuery string, out any) bool {
	return m.getJSON(ctx, QueryKey(originalQuery), out)
}

func (m *Manager) SetQuery(ctx context.Context, originalQuery string, value any) {
	m.setJSON(ctx, QueryKey(originalQuery), value, m.ttlQuery)
}

// InvalidatePaper deletes the parsed-content entry for id. It is the only
// explicit purge operation; API and query entries expire by TTL alone.
func (m *Manager) InvalidatePaper(ctx context.Context, paperID string) {
	if err := m.backend.Delete(ctx, ParsedKey(paperID)); err != nil {
		m.logger.Printf("arxivcache: invalidate_paper(%s) failed: %v", paperID, err)
	}
}

func (m *Manager) getJSON(ctx context.Context, key string, out any) bool {
	raw, ok, err := m.backend.Get(ctx, key)
	if err != nil {
		m.logger.Printf("arxivcache: get(%s) failed: %v", key, err)
		m.misses++
		return false
	}
	if !ok {
		m.misses++
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		m.logger.Printf("arxivcache: get(%s) deserialisation failed: %v", key, err)
		m.misses++
		return false
	}
	m.hits++
	return true
}

func (m *Manager) setJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Printf("arxivcache: set(%s) marshal failed: %v", key, err)
		return
	}
	if err := m.backend.Set(ctx, key, raw, ttl); err != nil {
		m.logger.Printf("arxivcache: set(%s) failed: %v", key, err)
	}
}

// Coalesce runs fn at most once per concurrently-in-flight key, so N
// identical cache-miss callers produce one upstream fetch. fn's result is
// fanned out to every waiter.
func (m *Manager) Coalesce(key string, fn func() (any, error)) (any, error, bool) {
	v, err, shared := m.group.Do(key, fn)
	return v, err, shared
}

// Stats reports hit/miss counters, matching the Python source's
// get_stats() cache fields.
type Stats struct {
	Hits    int64
	Misses  int64
	HitRate float64
}

func (m *Manager) Stats() Stats {
	total := m.hits + m.misses
	var rate float64
	if total > 0 {
		rate = float64(m.hits) / float64(total)
	}
	return Stats{Hits: m.hits, Misses: m.misses, HitRate: rate}
}

func (m *Manager) Close() error {
	return m.backend.Close()
}
