package xcmbuilder

import (
	"testing"

	"coordinatorcore/internal/coordinatorerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleProxyAddr = "0x1111111111111111111111111111111111111111"
	sampleVaultAddr = "0x2222222222222222222222222222222222222222"
)

func sampleSpec() InvestmentSpec {
	return InvestmentSpec{
		Amount:       "500000000000000000",
		ProxyAddress: sampleProxyAddr,
		VaultAddress: sampleVaultAddr,
		User:         sampleProxyAddr,
		PoolID:       "pool-abc",
		ChainID:      1284,
		TickLowerBps: -1000,
		TickUpperBps: 1000,
		ParaID:       2004,
	}
}

func TestBuild_DeterministicForIdenticalInputs(t *testing.T) {
	b := New(Config{})
	spec := sampleSpec()

	dest1, msg1, err := b.Build(spec)
	require.NoError(t, err)
	dest2, msg2, err := b.Build(spec)
	require.NoError(t, err)

	assert.Equal(t, dest1, dest2)
	assert.Equal(t, msg1, msg2)
}

func TestBuild_RejectsBadAddress(t *testing.T) {
	b := New(Config{})
	spec := sampleSpec()
	spec.ProxyAddress = "not-an-address"

	_, _, err := b.Build(spec)
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindValidation, coordinatorerr.KindOf(err))
}

func TestBuild_RejectsInvertedTickRange(t *testing.T) {
	b := New(Config{})
	spec := sampleSpec()
	spec.TickLowerBps = 1000
	spec.TickUpperBps = -1000

	_, _, err := b.Build(spec)
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindValidation, coordinatorerr.KindOf(err))
}

func TestDryRun_SuccessNeverRaisesOnSubsequentBuild(t *testing.T) {
	b := New(Config{})
	spec := sampleSpec()

	result := b.DryRun(spec)
	require.True(t, result.Success)
	assert.NotEmpty(t, result.EstimatedFees)

	assert.NotPanics(t, func() {
		_, _, err := b.Build(spec)
		require.NoError(t, err)
	})
}

func TestDryRun_FailureReportsReason(t *testing.T) {
	b := New(Config{})
	spec := sampleSpec()
	spec.Amount = ""

	result := b.DryRun(spec)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.FailureReason)
}

func TestBuildSettlementInnerCall_FeatureDisabled(t *testing.T) {
	b := New(Config{EnablePassethubTransactSettlement: false})
	_, err := b.BuildSettlementInnerCall(sampleSpec().VaultAddress, "pos-123", "1000")
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindFeatureDisabled, coordinatorerr.KindOf(err))
}

func TestBuildSettlementInnerCall_EndpointUnconfigured(t *testing.T) {
	b := New(Config{EnablePassethubTransactSettlement: true, SettlementEndpointConfigured: false})
	_, err := b.BuildSettlementInnerCall(sampleSpec().VaultAddress, "pos-123", "1000")
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindConfigFrozen, coordinatorerr.KindOf(err))
}

func TestBuildSettlementInnerCall_MalformedAddress(t *testing.T) {
	b := New(Config{EnablePassethubTransactSettlement: true, SettlementEndpointConfigured: true})
	_, err := b.BuildSettlementInnerCall("not-an-address", "pos-123", "1000")
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindValidation, coordinatorerr.KindOf(err))
}

func TestBuildSettlementInnerCall_Succeeds(t *testing.T) {
	b := New(Config{EnablePassethubTransactSettlement: true, SettlementEndpointConfigured: true})
	payload, err := b.BuildSettlementInnerCall(sampleSpec().VaultAddress, "pos-123", "1000")
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestTestModeMessage_IsRecognizable(t *testing.T) {
	b := New(Config{})
	dest, msg, err := b.TestModeMessage(sampleSpec())
	require.NoError(t, err)
	assert.Contains(t, string(dest), "TESTMODE::")
	assert.Contains(t, string(msg), "TESTMODE::")
}

func TestBuildReturn_EmptyAmountIsValidationError(t *testing.T) {
	b := New(Config{})
	_, _, err := b.BuildReturn(ReturnSpec{User: sampleSpec().User, Amount: "", ParaID: 2004})
	require.Error(t, err)
	assert.Equal(t, coordinatorerr.KindValidation, coordinatorerr.KindOf(err))
}
