package redis

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

const (
	keyPrefix             = "search:"
	defaultComputeTimeout = 30 * time.Second
)

type store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache memoizes search results per query, principal set and limits.
// Degraded results are never stored.
type QueryCache struct {
	store          store
	ttl            time.Duration
	computeTimeout time.Duration
	group          singleflight.Group
	logger         *slog.Logger
	hits           atomic.Int64
	misses         atomic.Int64
}

func NewQueryCache(client *Client, ttl time.Duration, logger *slog.Logger) *QueryCache {
	return newQueryCache(client, ttl, logger)
}

func newQueryCache(s store, ttl time.Duration, logger *slog.Logger) *QueryCache {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		store:          s,
		ttl:            ttl,
		computeTimeout: defaultComputeTimeout,
		logger:         logger.With("component", "query_cache"),
	}
}

func (c *QueryCache) get(ctx context.Context, key string) (*domain.SearchResult, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsNilError(err) {
			c.logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result domain.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Warn("cache_unmarshal_failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *domain.SearchResult) {
	if result == nil || result.Degraded.Any() {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("cache_marshal_failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("cache_set_failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or computes it once per key across
// concurrent callers. Cache faults degrade to computing. The shared compute
// runs detached from any single caller's cancellation, and each caller stops
// waiting when its own context ends.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query domain.SearchQuery,
	compute func(context.Context) (*domain.SearchResult, error),
) (*domain.SearchResult, bool, error) {
	key := buildKey(query)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()
		result, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		c.set(computeCtx, key, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*domain.SearchResult), false, nil
	}
}

// Invalidate drops every cached search result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache_invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes the whitespace-normalized query with the sorted principal
// set and the limits.
func buildKey(q domain.SearchQuery) string {
	principals := slices.Clone(q.PrincipalIDs)
	slices.Sort(principals)
	principals = slices.Compact(principals)

	raw := fmt.Sprintf("%s|p=%s|k=%d|d=%d|l=%d",
		strings.Join(strings.Fields(strings.ToLower(q.Query)), " "),
		strings.Join(principals, ","),
		q.TopK, q.KDense, q.KLexical,
	)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
