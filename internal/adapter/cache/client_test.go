package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(rdb, 60*time.Second, 5*time.Second)
	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}
	return c, mr, cleanup
}

func TestGetCookie_Miss(t *testing.T) {
	c, _, cleanup := newTestClient(t)
	defer cleanup()

	rec, ok, err := c.GetCookie(context.Background(), domain.MarketCN, "abc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected miss, got record %+v", rec)
	}
}

func TestGetCookie_Hit(t *testing.T) {
	c, mr, cleanup := newTestClient(t)
	defer cleanup()

	mr.HSet("cookie:CN:abc", "cookie_text", "foo=bar")
	mr.HSet("cookie:CN:abc", "expires_at", time.Now().Add(time.Hour).Format(time.RFC3339))

	rec, ok, err := c.GetCookie(context.Background(), domain.MarketCN, "abc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatalf("expected hit")
	}
	if rec.CookieText != "foo=bar" {
		t.Fatalf("unexpected cookie text: %q", rec.CookieText)
	}
}

func TestGetCookie_ExpiredIsTreatedAsMiss(t *testing.T) {
	c, mr, cleanup := newTestClient(t)
	defer cleanup()

	mr.HSet("cookie:CN:abc", "cookie_text", "foo=bar")
	mr.HSet("cookie:CN:abc", "expires_at", time.Now().Add(-time.Hour).Format(time.RFC3339))

	_, ok, err := c.GetCookie(context.Background(), domain.MarketCN, "abc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected expired cookie to be a miss")
	}
}

func TestGetCookie_MemoizedWithinTTL(t *testing.T) {
	c, mr, cleanup := newTestClient(t)
	defer cleanup()

	mr.HSet("cookie:CN:abc", "cookie_text", "foo=bar")
	mr.HSet("cookie:CN:abc", "expires_at", time.Now().Add(time.Hour).Format(time.RFC3339))

	ctx := context.Background()
	if _, _, err := c.GetCookie(ctx, domain.MarketCN, "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mutate the underlying store directly; a memoized read must not see it.
	mr.HSet("cookie:CN:abc", "cookie_text", "changed")

	rec, ok, err := c.GetCookie(ctx, domain.MarketCN, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || rec.CookieText != "foo=bar" {
		t.Fatalf("expected memoized value, got %+v ok=%v", rec, ok)
	}
}

func TestGetRandomProxy_Miss(t *testing.T) {
	c, _, cleanup := newTestClient(t)
	defer cleanup()

	_, ok, err := c.GetRandomProxy(context.Background(), domain.MarketUS)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatalf("expected miss for empty proxy set")
	}
}

func TestGetRandomProxy_Hit(t *testing.T) {
	c, mr, cleanup := newTestClient(t)
	defer cleanup()

	mr.Set("proxy:US:active_proxies", `{"proxies":["http://10.0.0.1:8080"]}`)

	proxy, ok, err := c.GetRandomProxy(context.Background(), domain.MarketUS)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok || proxy != "http://10.0.0.1:8080" {
		t.Fatalf("unexpected proxy result: %q ok=%v", proxy, ok)
	}
}

func TestGetRandomProxy_InvalidatesOnEveryMissAfterTTL(t *testing.T) {
	c, mr, cleanup := newTestClient(t)
	defer cleanup()
	c.proxyTTL = time.Millisecond

	mr.Set("proxy:US:active_proxies", `{"proxies":["http://10.0.0.1:8080"]}`)
	ctx := context.Background()
	if _, _, err := c.GetRandomProxy(ctx, domain.MarketUS); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mr.Set("proxy:US:active_proxies", `{"proxies":[]}`)
	time.Sleep(2 * time.Millisecond)

	_, ok, err := c.GetRandomProxy(ctx, domain.MarketUS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected miss once the proxy set is empty and TTL elapsed")
	}
}
