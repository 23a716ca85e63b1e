// Package cachestore caches small string values with a fixed TTL and
// explicit purging. The pipeline uses it to dedupe crisis-resource sends per
// user and to cache provider message-author lookups.
package cachestore

import (
	"context"
)

type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
