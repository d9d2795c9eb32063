package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type BalanceProvider interface {
	Provider
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Funder sends native currency from the provider's signer.
type Funder struct {
	provider BalanceProvider
}

func NewFunder(provider BalanceProvider) *Funder {
	return &Funder{provider: provider}
}

func (f *Funder) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.provider.Balance(ctx, addr)
}

func (f *Funder) Transfer(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	return f.provider.SendTransaction(ctx, to, nil, amount)
}
