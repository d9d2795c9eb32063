package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/totegamma/sharedbag/internal/usecase"
)

// Cache is the part of *memcache.Client the gateway uses.
type Cache interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
}

// ENSGateway caches successful ENS lookups in memcached. Misses and
// failures always go to the chain.
type ENSGateway struct {
	inner usecase.NameResolver
	cache Cache
	ttl   int32
}

func NewENSGateway(inner usecase.NameResolver, cache Cache, ttlSeconds int32) *ENSGateway {
	return &ENSGateway{inner: inner, cache: cache, ttl: ttlSeconds}
}

func cacheKey(kind, value string) string {
	return fmt.Sprintf("sharedbag:ens:%s:%016x", kind, xxh3.HashString(strings.ToLower(value)))
}

func (g *ENSGateway) ResolveAddress(ctx context.Context, name string) (common.Address, error) {
	key := cacheKey("addr", name)
	if value, ok := g.get(ctx, key); ok && common.IsHexAddress(value) {
		return common.HexToAddress(value), nil
	}

	addr, err := g.inner.ResolveAddress(ctx, name)
	if err != nil {
		return common.Address{}, err
	}

	g.set(ctx, key, addr.Hex())
	return addr, nil
}

func (g *ENSGateway) ResolveName(ctx context.Context, addr common.Address) (string, error) {
	key := cacheKey("name", addr.Hex())
	if value, ok := g.get(ctx, key); ok {
		return value, nil
	}

	name, err := g.inner.ResolveName(ctx, addr)
	if err != nil {
		return "", err
	}

	g.set(ctx, key, name)
	return name, nil
}

func (g *ENSGateway) get(ctx context.Context, key string) (string, bool) {
	item, err := g.cache.Get(key)
	if err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			slog.DebugContext(
				ctx, "ens cache read failed",
				slog.String("error", err.Error()),
				slog.String("module", "gateway"),
			)
		}
		return "", false
	}
	return string(item.Value), true
}

func (g *ENSGateway) set(ctx context.Context, key, value string) {
	err := g.cache.Set(&memcache.Item{Key: key, Value: []byte(value), Expiration: g.ttl})
	if err != nil {
		slog.DebugContext(
			ctx, "ens cache write failed",
			slog.String("error", err.Error()),
			slog.String("module", "gateway"),
		)
	}
}
