package settlement

import (
	"context"
	"math/big"
	"testing"

	"coordinatorcore/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVaultSettle struct {
	calls []string
	err   error
}

func (f *fakeVaultSettle) SettleLiquidation(ctx context.Context, vaultPositionID string, receivedAmount *big.Int) (string, error) {
	f.calls = append(f.calls, vaultPositionID)
	return "0xsettle", f.err
}

type fakeProxyRemoteExecute struct {
	calls [][]byte
	err   error
}

func (f *fakeProxyRemoteExecute) RemoteExecute(ctx context.Context, payload []byte) (string, error) {
	f.calls = append(f.calls, payload)
	return "0xremote", f.err
}

type fakeSettlementBuilder struct {
	err error
}

func (f *fakeSettlementBuilder) BuildSettlementInnerCall(vaultAddress, vaultPositionID, receivedAmount string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("payload:" + vaultPositionID), nil
}

type fakePositionLookup struct {
	active map[string]bool
}

func (f *fakePositionLookup) IsActive(vaultPositionID string) (bool, error) {
	return f.active[vaultPositionID], nil
}

type fakeTestModeReader bool

func (f fakeTestModeReader) Enabled() bool { return bool(f) }

func TestOnLiquidationCompleted_TestModeSettlesDirectly(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": true}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil)
	c.onLiquidationCompleted(events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)})

	assert.Equal(t, []string{"pos-1"}, vault.calls)
	assert.Empty(t, proxy.calls)
}

func TestOnLiquidationCompleted_ProductionWrapsViaProxyRemoteExecute(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": true}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(false), "0xvault", nil)
	c.onLiquidationCompleted(events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)})

	require.Len(t, proxy.calls, 1)
	assert.Equal(t, "payload:pos-1", string(proxy.calls[0]))
	assert.Empty(t, vault.calls)
}

func TestOnLiquidationCompleted_SkipsInactivePosition(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": false}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil)
	c.onLiquidationCompleted(events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)})

	assert.Empty(t, vault.calls)
	assert.Empty(t, proxy.calls)
}

func TestOnLiquidationCompleted_InactivePositionReleasesClaimForLaterRetry(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": false}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil)
	event := events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)}

	// LiquidationCompleted arrives before the Vault's own event has marked
	// the position Active; settlement must be retryable once it is.
	c.onLiquidationCompleted(event)
	assert.Empty(t, vault.calls)

	positions.active["pos-1"] = true
	c.onLiquidationCompleted(event)
	assert.Equal(t, []string{"pos-1"}, vault.calls)
}

func TestOnLiquidationCompleted_DedupesRepeatedDelivery(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": true}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil)
	event := events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)}

	c.onLiquidationCompleted(event)
	c.onLiquidationCompleted(event)

	assert.Len(t, vault.calls, 1)
}

func TestOnLiquidationCompleted_FailureAllowsRetryDelivery(t *testing.T) {
	vault := &fakeVaultSettle{err: assertError("boom")}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": true}}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil)
	event := events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)}

	c.onLiquidationCompleted(event)
	assert.Len(t, vault.calls, 1)

	vault.err = nil
	c.onLiquidationCompleted(event)
	assert.Len(t, vault.calls, 2)
}

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeTxRecorder struct {
	calls []string
}

func (f *fakeTxRecorder) RecordTx(vaultPositionID, operation, txHash string) error {
	f.calls = append(f.calls, vaultPositionID+":"+operation+":"+txHash)
	return nil
}

func TestOnLiquidationCompleted_RecordsTxOnSuccessfulSettlement(t *testing.T) {
	vault := &fakeVaultSettle{}
	proxy := &fakeProxyRemoteExecute{}
	builder := &fakeSettlementBuilder{}
	positions := &fakePositionLookup{active: map[string]bool{"pos-1": true}}
	recorder := &fakeTxRecorder{}

	c := New(vault, proxy, builder, positions, fakeTestModeReader(true), "0xvault", nil).WithTxRecorder(recorder)
	c.onLiquidationCompleted(events.LiquidationCompletedEvent{VaultPositionID: "pos-1", TotalBase: big.NewInt(1000)})

	require.Len(t, recorder.calls, 1)
	assert.Equal(t, "pos-1:settle:0xsettle", recorder.calls[0])
}
