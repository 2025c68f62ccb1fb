package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// ErrUnknownApp is returned by StaticResolver for names it does not map.
var ErrUnknownApp = errors.New("unknown app name")

// StaticResolver resolves names from a fixed table. It cannot create
// namespaces; it serves ledgers whose app id is provisioned out of band.
type StaticResolver map[string]AppID

// ResolveOrCreate implements Resolver.
func (r StaticResolver) ResolveOrCreate(_ context.Context, appName string) (AppID, error) {
	id, ok := r[appName]
	if !ok {
		return 0, &ResolutionError{AppName: appName, Err: ErrUnknownApp}
	}
	return id, nil
}

// CachingResolver memoises successful resolutions for a TTL.
// Failures are never cached. A TTL of zero or less disables caching.
type CachingResolver struct {
	next  Resolver
	ttl   time.Duration
	cache *cache.Cache

	hits, misses atomic.Int64
}

// ResolverStats counts CachingResolver lookups.
type ResolverStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Stats returns the lookup counts so far.
func (r *CachingResolver) Stats() ResolverStats {
	return ResolverStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

// NewCachingResolver wraps next with a TTL cache.
func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	r := &CachingResolver{next: next, ttl: ttl}
	if ttl > 0 {
		r.cache = cache.New(ttl, 2*ttl)
	}
	return r
}

// ResolveOrCreate implements Resolver.
func (r *CachingResolver) ResolveOrCreate(ctx context.Context, appName string) (AppID, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(appName); ok {
			r.hits.Add(1)
			return v.(AppID), nil
		}
	}
	r.misses.Add(1)

	id, err := r.next.ResolveOrCreate(ctx, appName)
	if err != nil {
		if !IsResolutionError(err) {
			err = &ResolutionError{AppName: appName, Err: err}
		}
		return 0, err
	}

	if r.cache != nil {
		r.cache.Set(appName, id, cache.DefaultExpiration)
	}
	return id, nil
}
