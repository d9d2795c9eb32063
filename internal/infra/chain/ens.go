package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/totegamma/sharedbag/internal/domain"
)

// ENS resolves names against an ENS registry through a Provider.
type ENS struct {
	provider Provider
	registry common.Address
}

func NewENS(provider Provider, registry common.Address) *ENS {
	return &ENS{provider: provider, registry: registry}
}

// NameHash implements the ENS namehash algorithm over a lower-cased name.
func NameHash(name string) common.Hash {
	var node common.Hash
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256Hash([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), label.Bytes())
	}
	return node
}

func (e *ENS) resolver(ctx context.Context, node common.Hash) (common.Address, error) {
	var resolver common.Address
	if err := e.call(ctx, ensRegistryABI, e.registry, "resolver", &resolver, node); err != nil {
		return common.Address{}, err
	}
	if resolver == (common.Address{}) {
		return common.Address{}, domain.NotFoundError{Resource: "ens resolver"}
	}
	return resolver, nil
}

// ResolveAddress returns the address a name points at. A name without a
// resolver or address record is NotFound.
func (e *ENS) ResolveAddress(ctx context.Context, name string) (common.Address, error) {
	node := NameHash(name)

	resolver, err := e.resolver(ctx, node)
	if err != nil {
		return common.Address{}, err
	}

	var addr common.Address
	if err := e.call(ctx, ensResolverABI, resolver, "addr", &addr, node); err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, domain.NotFoundError{Resource: "ens address"}
	}
	return addr, nil
}

// ResolveName returns the primary name recorded for addr.
func (e *ENS) ResolveName(ctx context.Context, addr common.Address) (string, error) {
	node := NameHash(fmt.Sprintf("%x.addr.reverse", addr.Bytes()))

	resolver, err := e.resolver(ctx, node)
	if err != nil {
		return "", err
	}

	var name string
	if err := e.call(ctx, ensResolverABI, resolver, "name", &name, node); err != nil {
		return "", err
	}
	if name == "" {
		return "", domain.NotFoundError{Resource: "reverse record"}
	}
	return name, nil
}

func (e *ENS) call(ctx context.Context, contract abi.ABI, to common.Address, method string, out any, node common.Hash) error {
	data, err := contract.Pack(method, node)
	if err != nil {
		return errors.Wrapf(err, "failed to pack %s", method)
	}
	ret, err := e.provider.Call(ctx, to, data)
	if err != nil {
		return err
	}
	return errors.Wrapf(contract.UnpackIntoInterface(out, method, ret), "failed to decode %s", method)
}
