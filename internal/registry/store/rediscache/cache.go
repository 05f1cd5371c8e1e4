// Package rediscache wraps a registry store with a Redis read-through cache
// for record lookups. Custody reads outnumber writes by orders of magnitude
// (every subsystem resolves pet codes on page views); the cache keeps those
// lookups off the primary store. All writes pass through to the inner store
// and invalidate the cached record.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	regmetrics "pawbase/internal/registry/metrics"
	"pawbase/internal/registry/models"
	"pawbase/internal/registry/store"
	id "pawbase/pkg/domain"

	"github.com/google/uuid"
)

// Cache is a store.Store decorator. Ledger history is never cached: callers
// asking for the audit trail always read committed state.
type Cache struct {
	inner   store.Store
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *regmetrics.Metrics
}

var _ store.Store = (*Cache)(nil)

// New wraps inner with a Redis cache. Metrics may be nil.
func New(inner store.Store, client *redis.Client, ttl time.Duration, metrics *regmetrics.Metrics) *Cache {
	return &Cache{inner: inner, client: client, ttl: ttl, metrics: metrics}
}

func cacheKey(code id.PetCode) string {
	return "pawbase:registry:" + code.String()
}

func (c *Cache) Find(ctx context.Context, code id.PetCode) (*models.RegistryRecord, error) {
	raw, err := c.client.Get(ctx, cacheKey(code)).Bytes()
	if err == nil {
		var rec models.RegistryRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			c.hit()
			return &rec, nil
		}
		// A corrupt entry falls through to the inner store and gets rewritten.
	}

	c.miss()

	// singleflight collapses a stampede of lookups for one pet into a single
	// inner read.
	v, err, _ := c.group.Do(code.String(), func() (any, error) {
		rec, err := c.inner.Find(ctx, code)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RegistryRecord).Clone(), nil
}

func (c *Cache) Upsert(ctx context.Context, up models.IdentityUpsert, now time.Time) (*models.RegistryRecord, bool, error) {
	rec, created, err := c.inner.Upsert(ctx, up, now)
	if err != nil {
		return nil, false, err
	}
	c.fill(ctx, rec)
	return rec, created, nil
}

func (c *Cache) UpdateState(ctx context.Context, up models.StateUpdate, now time.Time) (*models.RegistryRecord, error) {
	rec, err := c.inner.UpdateState(ctx, up, now)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, rec)
	return rec, nil
}

func (c *Cache) ApplyTransfer(ctx context.Context, app store.TransferApplication, now time.Time) (*models.RegistryRecord, *models.TransferEntry, bool, error) {
	rec, entry, replayed, err := c.inner.ApplyTransfer(ctx, app, now)
	if err != nil {
		return nil, nil, false, err
	}
	c.fill(ctx, rec)
	return rec, entry, replayed, nil
}

func (c *Cache) History(ctx context.Context, code id.PetCode) ([]models.TransferEntry, error) {
	return c.inner.History(ctx, code)
}

func (c *Cache) VoidTransfer(ctx context.Context, code id.PetCode, entryID uuid.UUID, actor id.UserID, now time.Time) error {
	if err := c.inner.VoidTransfer(ctx, code, entryID, actor, now); err != nil {
		return err
	}
	c.invalidate(ctx, code)
	return nil
}

// fill writes the latest record into the cache. Failures are non-fatal: the
// cache self-heals on the next read.
func (c *Cache) fill(ctx context.Context, rec *models.RegistryRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(rec.PetCode), raw, c.ttl).Err()
}

func (c *Cache) invalidate(ctx context.Context, code id.PetCode) {
	_ = c.client.Del(ctx, cacheKey(code)).Err()
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

// Health pings the cache backend.
func (c *Cache) Health(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("registry cache ping: %w", err)
	}
	return nil
}
