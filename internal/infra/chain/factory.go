package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type TokenFactoryConfig struct {
	Address     common.Address
	InitialTick int64
	PoolFee     int64
	DeployValue *big.Int
}

// TokenFactory launches tokens through a factory contract that pairs them
// with a liquidity pool.
type TokenFactory struct {
	provider Provider
	config   TokenFactoryConfig
}

func NewTokenFactory(provider Provider, config TokenFactoryConfig) *TokenFactory {
	if config.DeployValue == nil {
		config.DeployValue = new(big.Int)
	}
	return &TokenFactory{provider: provider, config: config}
}

// LookupFactory returns the factory configured for chainID.
func LookupFactory(chainID *big.Int, factories map[int64]string) (common.Address, bool) {
	if chainID == nil || !chainID.IsInt64() {
		return common.Address{}, false
	}
	addr, ok := factories[chainID.Int64()]
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

func (f *TokenFactory) GenerateSalt(ctx context.Context, deployer common.Address, name, symbol string, supply *big.Int) ([32]byte, common.Address, error) {
	data, err := tokenFactoryABI.Pack("generateSalt", deployer, name, symbol, supply)
	if err != nil {
		return [32]byte{}, common.Address{}, errors.Wrap(err, "failed to encode generateSalt")
	}

	ret, err := f.provider.Call(ctx, f.config.Address, data)
	if err != nil {
		return [32]byte{}, common.Address{}, err
	}

	out, err := tokenFactoryABI.Unpack("generateSalt", ret)
	if err != nil {
		return [32]byte{}, common.Address{}, errors.Wrap(err, "failed to decode generateSalt")
	}
	if len(out) != 2 {
		return [32]byte{}, common.Address{}, errors.Errorf("generateSalt returned %d values", len(out))
	}

	salt, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, common.Address{}, errors.New("generateSalt returned a malformed salt")
	}
	token, ok := out[1].(common.Address)
	if !ok {
		return [32]byte{}, common.Address{}, errors.New("generateSalt returned a malformed address")
	}

	return salt, token, nil
}

func (f *TokenFactory) DeployToken(ctx context.Context, name, symbol string, supply *big.Int, salt [32]byte, deployer common.Address) (common.Hash, error) {
	data, err := tokenFactoryABI.Pack(
		"deployToken",
		name,
		symbol,
		supply,
		big.NewInt(f.config.InitialTick),
		big.NewInt(f.config.PoolFee),
		salt,
		deployer,
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to encode deployToken")
	}

	return f.provider.SendTransaction(ctx, f.config.Address, data, f.config.DeployValue)
}
