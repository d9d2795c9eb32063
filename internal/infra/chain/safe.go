package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

type Waiter interface {
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// SafeConfig holds the Safe deployment the shared accounts are created from.
type SafeConfig struct {
	ProxyFactory    common.Address
	Singleton       common.Address
	FallbackHandler common.Address
}

// SafeDeployer creates Safe multisig proxies through the proxy factory.
type SafeDeployer struct {
	provider Provider
	receipts Waiter
	config   SafeConfig
}

func NewSafeDeployer(provider Provider, receipts Waiter, config SafeConfig) *SafeDeployer {
	return &SafeDeployer{provider: provider, receipts: receipts, config: config}
}

// Initializer encodes the setup call run by the proxy on creation.
func (d *SafeDeployer) Initializer(owners []common.Address, threshold int) ([]byte, error) {
	return safeSingletonABI.Pack(
		"setup",
		owners,
		big.NewInt(int64(threshold)),
		common.Address{},
		[]byte{},
		d.config.FallbackHandler,
		common.Address{},
		big.NewInt(0),
		common.Address{},
	)
}

// PredictAddress computes the CREATE2 address the factory will deploy to.
func (d *SafeDeployer) PredictAddress(ctx context.Context, initializer []byte, salt *big.Int) (common.Address, error) {
	data, err := safeProxyFactoryABI.Pack("proxyCreationCode")
	if err != nil {
		return common.Address{}, err
	}
	ret, err := d.provider.Call(ctx, d.config.ProxyFactory, data)
	if err != nil {
		return common.Address{}, err
	}

	var code []byte
	if err := safeProxyFactoryABI.UnpackIntoInterface(&code, "proxyCreationCode", ret); err != nil {
		return common.Address{}, errors.Wrap(err, "failed to decode proxy creation code")
	}

	return ProxyAddress(d.config.ProxyFactory, d.config.Singleton, code, initializer, salt), nil
}

// ProxyAddress derives a proxy address the way the Safe proxy factory does.
func ProxyAddress(factory, singleton common.Address, creationCode, initializer []byte, salt *big.Int) common.Address {
	deploymentCode := make([]byte, 0, len(creationCode)+32)
	deploymentCode = append(deploymentCode, creationCode...)
	deploymentCode = append(deploymentCode, common.LeftPadBytes(singleton.Bytes(), 32)...)

	saltHash := crypto.Keccak256Hash(crypto.Keccak256(initializer), common.LeftPadBytes(salt.Bytes(), 32))
	return crypto.CreateAddress2(factory, saltHash, crypto.Keccak256(deploymentCode))
}

// DeployAccount deploys a Safe and waits for it to be mined.
func (d *SafeDeployer) DeployAccount(ctx context.Context, owners []common.Address, threshold int, salt *big.Int) (common.Address, error) {
	if len(owners) == 0 {
		return common.Address{}, errors.New("at least one owner is required")
	}
	if threshold < 1 || threshold > len(owners) {
		return common.Address{}, errors.Errorf("threshold %d out of range for %d owners", threshold, len(owners))
	}

	initializer, err := d.Initializer(owners, threshold)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to encode safe setup")
	}

	predicted, err := d.PredictAddress(ctx, initializer, salt)
	if err != nil {
		return common.Address{}, err
	}

	data, err := safeProxyFactoryABI.Pack("createProxyWithNonce", d.config.Singleton, initializer, salt)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to encode proxy creation")
	}

	hash, err := d.provider.SendTransaction(ctx, d.config.ProxyFactory, data, nil)
	if err != nil {
		return common.Address{}, err
	}

	receipt, err := d.receipts.WaitForReceipt(ctx, hash)
	if err != nil {
		return common.Address{}, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, errors.Errorf("safe deployment %s reverted", hash.Hex())
	}

	return predicted, nil
}
