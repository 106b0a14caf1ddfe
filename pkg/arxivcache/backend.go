// Package arxivcache provides a namespaced TTL cache manager over a
// pluggable byte-oriented backend, fanning out over the pipeline's value
// classes (API responses, parsed content, query expansions).
package arxivcache

import (
	"context"
	"time"
)

// Backend is the injectable cache collaborator. Every operation is
// context-aware so a slow backend never blocks a cancelled caller.
//
// GetMany is a required method rather than emulated via N sequential Get
// calls — see SPEC_FULL.md §9 for why the interface is widened instead of
// narrowed.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	DeletePattern(ctx context.Context, glob string) error
	Close() error
}
