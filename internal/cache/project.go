// Package cache keeps project metadata between builds.
package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/shaj13/libcache"
	_ "github.com/shaj13/libcache/lru"

	"integrity-scm/internal/config"
	"integrity-scm/internal/integrity"
)

const keySeparator = "\x00"

// ProjectCache is an LRU ProjectCache keyed by job and configuration name.
type ProjectCache struct {
	entries libcache.Cache
}

var _ integrity.ProjectCache = (*ProjectCache)(nil)

// NewProjectCache creates a cache holding at most capacity projects. A zero
// ttl keeps entries until they are evicted.
func NewProjectCache(capacity int, ttl time.Duration) *ProjectCache {
	entries := libcache.LRU.New(capacity)
	if ttl > 0 {
		entries.SetTTL(ttl)
	}
	return &ProjectCache{entries: entries}
}

// NewProjectCacheFromConfig creates a cache from the [cache] section. A zero
// capacity disables caching.
func NewProjectCacheFromConfig(cfg config.CacheConfig) (integrity.ProjectCache, error) {
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("cache capacity must not be negative: %d", cfg.Capacity)
	}
	if cfg.Capacity == 0 {
		return integrity.NopProjectCache{}, nil
	}
	var ttl time.Duration
	if cfg.TTL != "" {
		d, err := time.ParseDuration(cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("parsing cache ttl: %w", err)
		}
		ttl = d
	}
	return NewProjectCache(cfg.Capacity, ttl), nil
}

func key(jobName, configurationName string) string {
	return jobName + keySeparator + configurationName
}

// Get returns a copy of the cached project.
func (c *ProjectCache) Get(jobName, configurationName string) (*integrity.Project, bool) {
	v, ok := c.entries.Load(key(jobName, configurationName))
	if !ok {
		return nil, false
	}
	p := v.(integrity.Project)
	return &p, true
}

func (c *ProjectCache) Put(jobName, configurationName string, p *integrity.Project) {
	if p == nil {
		return
	}
	c.entries.Store(key(jobName, configurationName), *p)
}

func (c *ProjectCache) Invalidate(jobName string) {
	prefix := jobName + keySeparator
	for _, k := range c.entries.Keys() {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			c.entries.Delete(k)
		}
	}
}

// Len returns the number of cached projects.
func (c *ProjectCache) Len() int {
	return c.entries.Len()
}
