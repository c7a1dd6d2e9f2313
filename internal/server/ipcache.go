package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// IPCache remembers the client's own public IP for a TTL. Concurrent misses
// share one lookup.
type IPCache struct {
	resolver proxy.IPResolver
	ttl      time.Duration
	group    singleflight.Group
	now      func() time.Time

	mu      sync.RWMutex
	ip      string
	expires time.Time
}

// NewIPCache creates a cache. A non-positive ttl disables caching but still
// collapses concurrent lookups.
func NewIPCache(resolver proxy.IPResolver, ttl time.Duration) *IPCache {
	return &IPCache{resolver: resolver, ttl: ttl, now: time.Now}
}

// CurrentIP implements proxy.IPResolver
func (c *IPCache) CurrentIP(ctx context.Context) (string, error) {
	if ip, ok := c.cached(); ok {
		return ip, nil
	}

	// The shared lookup ignores the first caller's cancellation.
	ch := c.group.DoChan("current-ip", func() (interface{}, error) {
		if ip, ok := c.cached(); ok {
			return ip, nil
		}
		ip, err := c.resolver.CurrentIP(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.store(ip)
		return ip, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached IP
func (c *IPCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ip = ""
	c.expires = time.Time{}
}

// Peek returns the cached IP without resolving
func (c *IPCache) Peek() (string, bool) {
	return c.cached()
}

func (c *IPCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ip == "" || !c.now().Before(c.expires) {
		return "", false
	}
	return c.ip, true
}

func (c *IPCache) store(ip string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ip = ip
	c.expires = c.now().Add(c.ttl)
}
