// Package settlement implements the Settlement Coordinator: it reacts to
// the Proxy's LiquidationCompleted event, which carries the authoritative
// totalBase computed on-chain, and settles the matching Vault position
// exactly once.
package settlement

import (
	"context"
	"math/big"
	"sync"

	"coordinatorcore/pkg/events"

	"go.uber.org/zap"
)

// VaultSettle is the subset of pkg/vaultclient.Client this package
// depends on.
type VaultSettle interface {
	SettleLiquidation(ctx context.Context, vaultPositionID string, receivedAmount *big.Int) (string, error)
}

// ProxyRemoteExecute is the subset of pkg/proxyclient.Client this package
// depends on for the production settlement path.
type ProxyRemoteExecute interface {
	RemoteExecute(ctx context.Context, payload []byte) (string, error)
}

// SettlementBuilder is the subset of pkg/xcmbuilder.Builder this package
// depends on.
type SettlementBuilder interface {
	BuildSettlementInnerCall(vaultAddress, vaultPositionID, receivedAmount string) ([]byte, error)
}

// PositionLookup reports whether a vaultPositionId is currently Active;
// only Active positions are eligible for settlement.
type PositionLookup interface {
	IsActive(vaultPositionID string) (bool, error)
}

// TestModeReader is the subset of internal/testmode.Controller this
// package depends on.
type TestModeReader interface {
	Enabled() bool
}

// TxRecorder is the subset of internal/db.MySQLRecorder this package
// depends on for operator telemetry. Recording is best-effort: a failure
// here never fails the settlement it describes.
type TxRecorder interface {
	RecordTx(vaultPositionID, operation, txHash string) error
}

// Coordinator dedupes LiquidationCompleted events by vaultPositionId and
// drives the matching settlement path.
type Coordinator struct {
	vault        VaultSettle
	proxy        ProxyRemoteExecute
	builder      SettlementBuilder
	positions    PositionLookup
	testMode     TestModeReader
	vaultAddress string
	log          *zap.SugaredLogger
	recorder     TxRecorder

	mu      sync.Mutex
	settled map[string]struct{}
}

// WithTxRecorder attaches operator telemetry; optional.
func (c *Coordinator) WithTxRecorder(r TxRecorder) *Coordinator {
	c.recorder = r
	return c
}

func New(vault VaultSettle, proxy ProxyRemoteExecute, builder SettlementBuilder, positions PositionLookup, testMode TestModeReader, vaultAddress string, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		vault:        vault,
		proxy:        proxy,
		builder:      builder,
		positions:    positions,
		testMode:     testMode,
		vaultAddress: vaultAddress,
		log:          log,
		settled:      make(map[string]struct{}),
	}
}

// ProxyHandlers returns the callback set to install for C6 to route
// LiquidationCompleted here alongside any other installed consumer.
func (c *Coordinator) ProxyHandlers() events.ProxyHandlers {
	return events.ProxyHandlers{
		OnLiquidationCompleted: c.onLiquidationCompleted,
	}
}

func (c *Coordinator) onLiquidationCompleted(e events.LiquidationCompletedEvent) {
	defer func() {
		if r := recover(); r != nil && c.log != nil {
			c.log.Errorw("settlement handler panicked", "panic", r, "vaultPositionId", e.VaultPositionID)
		}
	}()

	if !c.markSettling(e.VaultPositionID) {
		c.logf("settlement for %s already in flight or completed, skipping", e.VaultPositionID)
		return
	}

	if c.positions != nil {
		active, err := c.positions.IsActive(e.VaultPositionID)
		if err != nil {
			c.logf("failed to check position %s status before settlement: %v", e.VaultPositionID, err)
			c.clearSettling(e.VaultPositionID)
			return
		}
		if !active {
			c.logf("position %s is not active, skipping settlement", e.VaultPositionID)
			c.clearSettling(e.VaultPositionID)
			return
		}
	}

	ctx := context.Background()
	totalBase := e.TotalBase
	if totalBase == nil {
		totalBase = big.NewInt(0)
	}

	var err error
	var txHash string
	if c.testMode != nil && c.testMode.Enabled() {
		txHash, err = c.vault.SettleLiquidation(ctx, e.VaultPositionID, totalBase)
	} else {
		var payload []byte
		payload, err = c.builder.BuildSettlementInnerCall(c.vaultAddress, e.VaultPositionID, totalBase.String())
		if err == nil {
			txHash, err = c.proxy.RemoteExecute(ctx, payload)
		}
	}

	if err != nil {
		c.logf("settlement failed for %s: %v", e.VaultPositionID, err)
		c.clearSettling(e.VaultPositionID)
		return
	}

	if c.recorder != nil {
		if err := c.recorder.RecordTx(e.VaultPositionID, "settle", txHash); err != nil {
			c.logf("failed to record settlement transaction for %s: %v", e.VaultPositionID, err)
		}
	}

	c.logf("settlement submitted for %s: totalBase=%s", e.VaultPositionID, totalBase.String())
}

// markSettling reports true and reserves vaultPositionId if it has not
// already been claimed; false if another call already owns it.
func (c *Coordinator) markSettling(vaultPositionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.settled[vaultPositionID]; exists {
		return false
	}
	c.settled[vaultPositionID] = struct{}{}
	return true
}

// clearSettling releases a reservation after a failed attempt so a later
// retry delivery of the same event can try again.
func (c *Coordinator) clearSettling(vaultPositionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.settled, vaultPositionID)
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.log == nil {
		return
	}
	c.log.Infof(format, args...)
}
