package rule

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "growth_rule_cache_hits_total"})
	cacheMiss = promauto.NewCounter(prometheus.CounterOpts{Name: "growth_rule_cache_miss_total"})
)

type RuleSetKey struct {
	Business string
	EventKey string
}

func (k RuleSetKey) String() string {
	return k.Business + "/" + k.EventKey
}

type cachedRuleSet struct {
	set      RuleSet
	loadedAt time.Time
}

// RuleCache holds unfiltered rule sets per event kind. A non-positive ttl
// disables caching.
type RuleCache struct {
	mu    sync.RWMutex
	items map[RuleSetKey]*cachedRuleSet
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group
}

func NewRuleCache(ttl time.Duration) *RuleCache {
	return &RuleCache{
		items: make(map[RuleSetKey]*cachedRuleSet),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *RuleCache) Get(key RuleSetKey) (RuleSet, bool) {
	if c.ttl <= 0 {
		return RuleSet{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	if !ok || c.now().Sub(v.loadedAt) > c.ttl {
		cacheMiss.Inc()
		return RuleSet{}, false
	}
	cacheHits.Inc()
	return v.set, true
}

func (c *RuleCache) Set(key RuleSetKey, set RuleSet) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &cachedRuleSet{set: set, loadedAt: c.now()}
}

func (c *RuleCache) Invalidate(key RuleSetKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Load returns the cached set for key or calls fn once for all concurrent
// callers.
func (c *RuleCache) Load(key RuleSetKey, fn func() (RuleSet, error)) (RuleSet, error) {
	if set, ok := c.Get(key); ok {
		return set, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		set, err := fn()
		if err != nil {
			return RuleSet{}, err
		}
		c.Set(key, set)
		return set, nil
	})
	if err != nil {
		return RuleSet{}, err
	}
	return v.(RuleSet), nil
}
