// Package cache implements the read-through resource cache client backing
// cookie and proxy lookups against the shared Dragonfly/Redis keyspace.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// cookieKey and activeProxiesKey mirror the shared keyspace convention: a
// per-market, per-cookie hash holding "cookie_text"/"expires_at", and a
// per-market string holding the JSON-encoded active proxy list.
func cookieKey(market domain.Market, cookieID string) string {
	return fmt.Sprintf("cookie:%s:%s", market, cookieID)
}

func activeProxiesKey(market domain.Market) string {
	return fmt.Sprintf("proxy:%s:active_proxies", market)
}

type proxyList struct {
	Proxies []string `json:"proxies"`
}

type cookieMemo struct {
	record    domain.CookieRecord
	fetchedAt time.Time
}

type proxyMemo struct {
	proxy     string
	fetchedAt time.Time
}

// Client is a go-redis-backed domain.ResourceCache with short-TTL
// in-process memoization, invalidating an entry immediately on any fetch
// error so a stale value never survives a transport failure.
type Client struct {
	rdb *redis.Client

	cookieTTL time.Duration
	proxyTTL  time.Duration

	mu      sync.RWMutex
	cookies map[string]cookieMemo
	proxies map[domain.Market]proxyMemo
}

// New constructs a Client. cookieTTL/proxyTTL of zero fall back to the
// spec-mandated ceilings (60s for cookies, 5s for proxies).
func New(rdb *redis.Client, cookieTTL, proxyTTL time.Duration) *Client {
	if cookieTTL <= 0 {
		cookieTTL = 60 * time.Second
	}
	if proxyTTL <= 0 {
		proxyTTL = 5 * time.Second
	}
	return &Client{
		rdb:       rdb,
		cookieTTL: cookieTTL,
		proxyTTL:  proxyTTL,
		cookies:   make(map[string]cookieMemo),
		proxies:   make(map[domain.Market]proxyMemo),
	}
}

// GetCookie returns the cookie record for (market, cookieID), memoized for
// up to cookieTTL or until the record's own ExpiresAt, whichever is sooner.
func (c *Client) GetCookie(ctx context.Context, market domain.Market, cookieID string) (domain.CookieRecord, bool, error) {
	key := cookieKey(market, cookieID)

	c.mu.RLock()
	memo, ok := c.cookies[key]
	c.mu.RUnlock()
	now := time.Now()
	if ok && now.Sub(memo.fetchedAt) < c.cookieTTL && !memo.record.Expired(now) {
		return memo.record, true, nil
	}

	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.invalidateCookie(key)
		return domain.CookieRecord{}, false, fmt.Errorf("cache.GetCookie: %w", err)
	}
	if len(fields) == 0 {
		c.invalidateCookie(key)
		return domain.CookieRecord{}, false, nil
	}

	rec := domain.CookieRecord{CookieID: cookieID, CookieText: fields["cookie_text"]}
	if exp := fields["expires_at"]; exp != "" {
		if parsed, perr := time.Parse(time.RFC3339, exp); perr == nil {
			rec.ExpiresAt = parsed
		}
	}
	if rec.CookieText == "" || rec.Expired(now) {
		c.invalidateCookie(key)
		return domain.CookieRecord{}, false, nil
	}

	c.mu.Lock()
	c.cookies[key] = cookieMemo{record: rec, fetchedAt: now}
	c.mu.Unlock()
	return rec, true, nil
}

// GetRandomProxy returns one proxy URL drawn from the market's active list,
// memoized for up to proxyTTL. The active list lives at a single key as a
// JSON blob ({"proxies": [...]}) rather than a Redis set, so the random pick
// happens in-process after decoding it.
func (c *Client) GetRandomProxy(ctx context.Context, market domain.Market) (string, bool, error) {
	c.mu.RLock()
	memo, ok := c.proxies[market]
	c.mu.RUnlock()
	now := time.Now()
	if ok && now.Sub(memo.fetchedAt) < c.proxyTTL {
		return memo.proxy, memo.proxy != "", nil
	}

	raw, err := c.rdb.Get(ctx, activeProxiesKey(market)).Result()
	if err != nil {
		if err == redis.Nil {
			c.invalidateProxy(market)
			return "", false, nil
		}
		c.invalidateProxy(market)
		return "", false, fmt.Errorf("cache.GetRandomProxy: %w", err)
	}

	var list proxyList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		c.invalidateProxy(market)
		return "", false, fmt.Errorf("cache.GetRandomProxy: decode: %w", err)
	}
	if len(list.Proxies) == 0 {
		c.invalidateProxy(market)
		return "", false, nil
	}
	proxy := list.Proxies[rand.Intn(len(list.Proxies))]

	c.mu.Lock()
	c.proxies[market] = proxyMemo{proxy: proxy, fetchedAt: now}
	c.mu.Unlock()
	return proxy, proxy != "", nil
}

func (c *Client) invalidateCookie(key string) {
	c.mu.Lock()
	delete(c.cookies, key)
	c.mu.Unlock()
}

func (c *Client) invalidateProxy(market domain.Market) {
	c.mu.Lock()
	delete(c.proxies, market)
	c.mu.Unlock()
}

var _ domain.ResourceCache = (*Client)(nil)
