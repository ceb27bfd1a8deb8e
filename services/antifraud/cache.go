package antifraud

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 60 * time.Second

// ConfigCache serves the antifraud config with bounded staleness.
type ConfigCache interface {
	Get(ctx context.Context) (*Config, error)
	Invalidate()
}

type configCache struct {
	mu        sync.RWMutex
	value     *Config
	expiresAt time.Time

	ttl    time.Duration
	now    func() time.Time
	source ConfigSource
	group  singleflight.Group
}

func NewConfigCache(source ConfigSource, ttl time.Duration, now func() time.Time) ConfigCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &configCache{source: source, ttl: ttl, now: now}
}

func (c *configCache) cached() (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.expiresAt.IsZero() && c.now().Before(c.expiresAt) {
		return c.value, true
	}
	return nil, false
}

func (c *configCache) Get(ctx context.Context) (*Config, error) {
	if cfg, ok := c.cached(); ok {
		return cfg, nil
	}

	v, err, _ := c.group.Do("config", func() (any, error) {
		if cfg, ok := c.cached(); ok {
			return cfg, nil
		}

		cfg, err := c.source.Load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.value = cfg
		c.expiresAt = c.now().Add(c.ttl)
		c.mu.Unlock()
		return cfg, nil
	})
	if err != nil {
		return nil, err
	}
	cfg, _ := v.(*Config)
	return cfg, nil
}

func (c *configCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.expiresAt = time.Time{}
}
