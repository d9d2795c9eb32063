package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ReceiptWatcher polls for a transaction receipt until it is mined or the
// timeout passes.
type ReceiptWatcher struct {
	backend  ReceiptBackend
	interval time.Duration
	timeout  time.Duration
}

func NewReceiptWatcher(backend ReceiptBackend, interval, timeout time.Duration) *ReceiptWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ReceiptWatcher{backend: backend, interval: interval, timeout: timeout}
}

func (w *ReceiptWatcher) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(err, "failed to fetch receipt of %s", hash.Hex())
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "no receipt for %s", hash.Hex())
		case <-ticker.C:
		}
	}
}
