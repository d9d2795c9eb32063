// Package chain talks to an EVM chain through go-ethereum.
package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Provider is the signer-side view of a chain used by every contract adapter.
type Provider interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	SendTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// Backend is the subset of *ethclient.Client the provider needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// EthProvider signs with a single local key and submits EIP-1559 transactions.
type EthProvider struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int

	// nonces are taken from the pending pool; sends are serialized
	sendMu sync.Mutex
}

func NewEthProvider(ctx context.Context, backend Backend, hexKey string) (*EthProvider, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid signer key")
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch chain id")
	}

	return &EthProvider{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (p *EthProvider) Address() common.Address {
	return p.from
}

func (p *EthProvider) ChainID() *big.Int {
	return new(big.Int).Set(p.chainID)
}

func (p *EthProvider) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: p.from, To: &to, Data: data}
	out, err := p.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "eth_call failed")
	}
	return out, nil
}

func (p *EthProvider) SendTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	nonce, err := p.backend.PendingNonceAt(ctx, p.from)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch nonce")
	}

	tip, err := p.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to suggest tip")
	}

	head, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to fetch head")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  p.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "gas estimation failed")
	}
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign transaction")
	}

	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to send transaction")
	}

	return signed.Hash(), nil
}

// SignMessage produces an EIP-191 personal signature with v in {27, 28}.
func (p *EthProvider) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), p.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (p *EthProvider) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := p.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch balance")
	}
	return balance, nil
}
