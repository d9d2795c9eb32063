package gateway

import (
	"context"
	"testing"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/sharedbag/internal/domain"
)

type mapCache struct {
	items map[string]*memcache.Item
	fail  bool
}

func (m *mapCache) Get(key string) (*memcache.Item, error) {
	if m.fail {
		return nil, errors.New("connection refused")
	}
	item, ok := m.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func (m *mapCache) Set(item *memcache.Item) error {
	if m.fail {
		return errors.New("connection refused")
	}
	m.items[item.Key] = item
	return nil
}

type countingResolver struct {
	addrs    map[string]common.Address
	names    map[common.Address]string
	forward  int
	backward int
}

func (c *countingResolver) ResolveAddress(ctx context.Context, name string) (common.Address, error) {
	c.forward++
	addr, ok := c.addrs[name]
	if !ok {
		return common.Address{}, domain.NotFoundError{Resource: "ens address"}
	}
	return addr, nil
}

func (c *countingResolver) ResolveName(ctx context.Context, addr common.Address) (string, error) {
	c.backward++
	name, ok := c.names[addr]
	if !ok {
		return "", domain.NotFoundError{Resource: "reverse record"}
	}
	return name, nil
}

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func TestENSGatewayCachesHits(t *testing.T) {
	inner := &countingResolver{
		addrs: map[string]common.Address{"alice.eth": alice},
		names: map[common.Address]string{alice: "alice.eth"},
	}
	cache := &mapCache{items: map[string]*memcache.Item{}}
	g := NewENSGateway(inner, cache, 60)
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		addr, err := g.ResolveAddress(ctx, "alice.eth")
		require.NoError(t, err)
		assert.Equal(t, alice, addr)

		name, err := g.ResolveName(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "alice.eth", name)
	}

	// names are case-insensitive
	_, err := g.ResolveAddress(ctx, "Alice.ETH")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.forward)
	assert.Equal(t, 1, inner.backward)
	assert.Equal(t, int32(60), cache.items[cacheKey("addr", "alice.eth")].Expiration)
}

func TestENSGatewayDoesNotCacheMisses(t *testing.T) {
	inner := &countingResolver{}
	g := NewENSGateway(inner, &mapCache{items: map[string]*memcache.Item{}}, 60)

	for n := 0; n < 2; n++ {
		_, err := g.ResolveAddress(context.Background(), "nobody.eth")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, 2, inner.forward)
}

func TestENSGatewayCacheDown(t *testing.T) {
	inner := &countingResolver{addrs: map[string]common.Address{"alice.eth": alice}}
	g := NewENSGateway(inner, &mapCache{fail: true}, 60)

	addr, err := g.ResolveAddress(context.Background(), "alice.eth")
	require.NoError(t, err)
	assert.Equal(t, alice, addr)
}
