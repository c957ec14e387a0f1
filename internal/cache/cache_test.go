package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
)

func TestNoopCatalogCacheAlwaysMisses(t *testing.T) {
	var c CatalogCache = NoopCatalogCache{}
	ctx := context.Background()

	if err := c.SetProducts(ctx, []domain.Product{{ID: 1, Reference: "REF001"}}, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	products, ok, err := c.GetProducts(ctx)
	if err != nil || ok || products != nil {
		t.Fatalf("expected miss, got ok=%v products=%v err=%v", ok, products, err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
}

func TestRedisCatalogCacheUnreachable(t *testing.T) {
	c := NewRedisCatalogCache("127.0.0.1:1", "", 0)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err == nil {
		t.Fatalf("expected ping against a closed port to fail")
	}
}

func TestRedisCatalogCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BOUTIQUE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set BOUTIQUE_TEST_REDIS_ADDR to run redis cache test")
	}
	c := NewRedisCatalogCache(addr, "", 0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, err := c.GetProducts(ctx); err != nil || ok {
		t.Fatalf("expected empty cache, ok=%v err=%v", ok, err)
	}

	want := []domain.Product{{ID: 7, Reference: "REF010", Name: "Casquette", SalePrice: decimal.NewFromInt(5000), ReorderThreshold: 2}}
	if err := c.SetProducts(ctx, want, time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok, err := c.GetProducts(ctx)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].Reference != "REF010" || !got[0].SalePrice.Equal(want[0].SalePrice) {
		t.Fatalf("unexpected cached products %+v", got)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, _ := c.GetProducts(ctx); ok {
		t.Fatalf("expected miss after invalidate")
	}
}
