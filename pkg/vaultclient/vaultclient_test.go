package vaultclient

import (
	"testing"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/events"

	"github.com/stretchr/testify/assert"
)

func samplePositions(n int) []ChainPosition {
	out := make([]ChainPosition, n)
	for i := range out {
		out[i] = ChainPosition{VaultPositionID: string(rune('a' + i))}
	}
	return out
}

func TestPaginate_ClampsToMaxPageSize(t *testing.T) {
	all := samplePositions(maxPageSize + 50)
	page := paginate(all, 0, 1000)
	assert.Len(t, page, maxPageSize)
}

func TestPaginate_OutOfRangeOffsetIsEmpty(t *testing.T) {
	all := samplePositions(3)
	assert.Empty(t, paginate(all, 10, 10))
	assert.Empty(t, paginate(all, -1, 10))
}

func TestPaginate_PartialWindow(t *testing.T) {
	all := samplePositions(10)
	page := paginate(all, 8, 5)
	assert.Len(t, page, 2)
}

func TestClassifyExtrinsicError_PausedIsPermanent(t *testing.T) {
	err := classifyExtrinsicError(assertError("contract paused"))
	assert.Equal(t, coordinatorerr.KindPermanentRemote, coordinatorerr.KindOf(err))
}

func TestClassifyExtrinsicError_TimeoutIsTransient(t *testing.T) {
	err := classifyExtrinsicError(assertError("request timeout"))
	assert.Equal(t, coordinatorerr.KindTransientRemote, coordinatorerr.KindOf(err))
}

func TestClassifyExtrinsicError_UnmatchedIsUnknown(t *testing.T) {
	err := classifyExtrinsicError(assertError("something unexpected"))
	assert.Equal(t, coordinatorerr.KindUnknown, coordinatorerr.KindOf(err))
}

func TestSelectInvestmentInitiated_MatchesSameUserAndPool(t *testing.T) {
	event := eventInvestmentInitiated{}
	records := vaultEventRecords{}
	records.Vault_InvestmentInitiated = []eventInvestmentInitiated{event}

	_, found := selectInvestmentInitiated(records, event.User.ToHexString(), event.PoolID.Hex())
	assert.True(t, found)
}

func TestSelectInvestmentInitiated_MismatchedPoolReturnsFalse(t *testing.T) {
	event := eventInvestmentInitiated{}
	records := vaultEventRecords{}
	records.Vault_InvestmentInitiated = []eventInvestmentInitiated{event}

	_, found := selectInvestmentInitiated(records, event.User.ToHexString(), "not-the-pool")
	assert.False(t, found)
}

func TestDispatchVaultEvents_OnlyInstalledHandlersFire(t *testing.T) {
	var depositCount, withdrawalCount int
	handlers := events.VaultHandlers{
		OnDeposit: func(e events.DepositEvent) { depositCount++ },
	}

	block := decodedVaultBlock{blockNumber: 42, txHash: "0xabc"}
	block.records.Vault_Deposit = []eventDeposit{{}}
	block.records.Vault_Withdrawal = []eventWithdrawal{{}}

	dispatchVaultEvents(handlers, block)

	assert.Equal(t, 1, depositCount)
	assert.Equal(t, 0, withdrawalCount)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
