// Package txlistener polls an EVM chain for transaction receipts, used by
// the Proxy client to wait out confirmations. WaitForTransaction gives up
// after the listener's timeout; WaitForTransactionCtx waits until the
// receipt arrives or its context is done.
package txlistener

import (
	"context"
	"fmt"
	"math/big"
	"time"

	coordtypes "coordinatorcore/pkg/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxListener waits for a submitted transaction to be mined.
type TxListener interface {
	WaitForTransaction(txHash common.Hash) (*coordtypes.TxReceipt, error)
	WaitForTransactionCtx(ctx context.Context, txHash common.Hash) (*coordtypes.TxReceipt, error)
}

type txListener struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

type Option func(*txListener)

func WithPollInterval(d time.Duration) Option {
	return func(l *txListener) { l.pollInterval = d }
}

func WithTimeout(d time.Duration) Option {
	return func(l *txListener) { l.timeout = d }
}

func NewTxListener(client *ethclient.Client, opts ...Option) TxListener {
	l := &txListener{
		client:       client,
		pollInterval: 3 * time.Second,
		timeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *txListener) WaitForTransaction(txHash common.Hash) (*coordtypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	return l.WaitForTransactionCtx(ctx, txHash)
}

func (l *txListener) WaitForTransactionCtx(ctx context.Context, txHash common.Hash) (*coordtypes.TxReceipt, error) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			status := "0x0"
			if receipt.Status == 1 {
				status = "0x1"
			}
			return &coordtypes.TxReceipt{
				TxHash:            txHash,
				BlockHash:         receipt.BlockHash,
				BlockNumber:       receipt.BlockNumber.String(),
				GasUsed:           new(big.Int).SetUint64(receipt.GasUsed).String(),
				EffectiveGasPrice: receipt.EffectiveGasPrice.String(),
				Status:            status,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for transaction %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
