package dispatcher

import (
	"context"
	"math/big"
	"testing"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/vaultclient"
	"coordinatorcore/pkg/xcmbuilder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVaultDispatch struct {
	vaultPositionID string
	txHash          string
	err             error
	lastReq         vaultclient.InvestmentRequest
}

func (f *fakeVaultDispatch) DispatchInvestment(ctx context.Context, req vaultclient.InvestmentRequest, destination, message []byte) (string, string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", "", f.err
	}
	return f.vaultPositionID, f.txHash, nil
}

type fakeXcmBuilder struct {
	dryRunResult xcmbuilder.DryRunResult
	buildErr     error
}

func (f *fakeXcmBuilder) Build(spec xcmbuilder.InvestmentSpec) ([]byte, []byte, error) {
	if f.buildErr != nil {
		return nil, nil, f.buildErr
	}
	return []byte("dest"), []byte("msg"), nil
}

func (f *fakeXcmBuilder) DryRun(spec xcmbuilder.InvestmentSpec) xcmbuilder.DryRunResult {
	return f.dryRunResult
}

func sampleRequest() vaultclient.InvestmentRequest {
	return vaultclient.InvestmentRequest{
		User:         "0x1111111111111111111111111111111111111111",
		PoolID:       "pool-abc",
		ChainID:      1284,
		Amount:       big.NewInt(500000000000000000),
		TickLowerBps: -500,
		TickUpperBps: 500,
	}
}

func TestDispatchInvestmentWithXcm_FailsFastOnDryRunFailure(t *testing.T) {
	builder := &fakeXcmBuilder{dryRunResult: xcmbuilder.DryRunResult{Success: false, FailureReason: "amount must not be empty"}}
	vault := &fakeVaultDispatch{}
	d := New(vault, builder, Config{}, nil)

	_, err := d.DispatchInvestmentWithXcm(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindXcmBuild, coordinatorerr.KindOf(err))
}

func TestDispatchInvestmentWithXcm_ReturnsMintedPositionID(t *testing.T) {
	builder := &fakeXcmBuilder{dryRunResult: xcmbuilder.DryRunResult{Success: true, EstimatedFees: "1500"}}
	vault := &fakeVaultDispatch{vaultPositionID: "pos-123", txHash: "0xabc"}
	d := New(vault, builder, Config{ProxyAddress: "0x2222222222222222222222222222222222222222"}, nil)

	result, err := d.DispatchInvestmentWithXcm(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "pos-123", result.VaultPositionID)
	assert.Equal(t, "0xabc", result.TxHash)
	assert.Equal(t, "1500", result.EstimatedFees)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Equal(t, sampleRequest().User, vault.lastReq.User)
}

func TestDispatchInvestmentWithXcm_PropagatesSubmissionError(t *testing.T) {
	builder := &fakeXcmBuilder{dryRunResult: xcmbuilder.DryRunResult{Success: true}}
	vault := &fakeVaultDispatch{err: coordinatorerr.New(coordinatorerr.KindPermanentRemote, "vault paused")}
	d := New(vault, builder, Config{}, nil)

	_, err := d.DispatchInvestmentWithXcm(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindPermanentRemote, coordinatorerr.KindOf(err))
}

type fakeTxRecorder struct {
	calls []string
	err   error
}

func (f *fakeTxRecorder) RecordTx(vaultPositionID, operation, txHash string) error {
	f.calls = append(f.calls, vaultPositionID+":"+operation+":"+txHash)
	return f.err
}

func TestDispatchInvestmentWithXcm_RecordsTxOnSuccess(t *testing.T) {
	builder := &fakeXcmBuilder{dryRunResult: xcmbuilder.DryRunResult{Success: true}}
	vault := &fakeVaultDispatch{vaultPositionID: "pos-123", txHash: "0xabc"}
	recorder := &fakeTxRecorder{}
	d := New(vault, builder, Config{}, nil).WithTxRecorder(recorder)

	_, err := d.DispatchInvestmentWithXcm(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"pos-123:dispatch:0xabc"}, recorder.calls)
}

func TestDispatchInvestmentWithXcm_RecorderFailureDoesNotFailDispatch(t *testing.T) {
	builder := &fakeXcmBuilder{dryRunResult: xcmbuilder.DryRunResult{Success: true}}
	vault := &fakeVaultDispatch{vaultPositionID: "pos-123", txHash: "0xabc"}
	recorder := &fakeTxRecorder{err: assertError("db down")}
	d := New(vault, builder, Config{}, nil).WithTxRecorder(recorder)

	result, err := d.DispatchInvestmentWithXcm(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "pos-123", result.VaultPositionID)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestCapitalUtilization_NarrowRangeIsFullyUtilized(t *testing.T) {
	req := sampleRequest()
	req.TickLowerBps, req.TickUpperBps = -100, 100
	assert.Equal(t, 1.0, capitalUtilization(req))
}

func TestCapitalUtilization_WideRangeIsPenalized(t *testing.T) {
	req := sampleRequest()
	req.TickLowerBps, req.TickUpperBps = -10000, 10000
	util := capitalUtilization(req)
	assert.Less(t, util, 0.1)
}

func TestCapitalUtilization_DegenerateRangeIsFullyUtilized(t *testing.T) {
	req := sampleRequest()
	req.TickLowerBps, req.TickUpperBps = 500, 500
	assert.Equal(t, 1.0, capitalUtilization(req))
}
