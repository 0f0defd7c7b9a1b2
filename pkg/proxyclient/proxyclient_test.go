package proxyclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"testing"

	"coordinatorcore/internal/coordinatorerr"
	"coordinatorcore/pkg/events"
	coordtypes "coordinatorcore/pkg/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxyEventABI = `[
	{"anonymous":false,"name":"LiquidationCompleted","type":"event","inputs":[
		{"name":"vaultPositionId","type":"string","indexed":false},
		{"name":"proxyPositionId","type":"string","indexed":false},
		{"name":"totalBase","type":"uint256","indexed":false}
	]},
	{"anonymous":false,"name":"PendingPositionCreated","type":"event","inputs":[
		{"name":"vaultPositionId","type":"string","indexed":false}
	]}
]`

func TestDispatchProxyLog_LiquidationCompleted(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(proxyEventABI))
	require.NoError(t, err)

	event := parsed.Events["LiquidationCompleted"]
	data, err := event.Inputs.Pack("vp-1", "pp-1", big.NewInt(500))
	require.NoError(t, err)

	lg := types.Log{Topics: []common.Hash{event.ID}, Data: data, BlockNumber: 10, TxHash: common.HexToHash("0xabc")}

	var captured events.LiquidationCompletedEvent
	handlers := events.ProxyHandlers{
		OnLiquidationCompleted: func(e events.LiquidationCompletedEvent) { captured = e },
	}

	dispatchProxyLog(handlers, lg, parsed)

	assert.Equal(t, "vp-1", captured.VaultPositionID)
	assert.Equal(t, "pp-1", captured.ProxyPositionID)
	assert.Equal(t, big.NewInt(500), captured.TotalBase)
	assert.Equal(t, uint64(10), captured.BlockNumber)
}

func TestDispatchProxyLog_UninstalledHandlerIsNoop(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(proxyEventABI))
	require.NoError(t, err)

	event := parsed.Events["PendingPositionCreated"]
	data, err := event.Inputs.Pack("vp-2")
	require.NoError(t, err)

	lg := types.Log{Topics: []common.Hash{event.ID}, Data: data}

	assert.NotPanics(t, func() {
		dispatchProxyLog(events.ProxyHandlers{}, lg, parsed)
	})
}

func TestDispatchProxyLog_UnknownTopicIsSkipped(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(proxyEventABI))
	require.NoError(t, err)

	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}}
	assert.NotPanics(t, func() {
		dispatchProxyLog(events.ProxyHandlers{}, lg, parsed)
	})
}

func TestClassifySendError_MapsToPermanent(t *testing.T) {
	err := classifySendError(errors.New("execution reverted: slippage"))
	assert.Equal(t, coordinatorerr.KindPermanentRemote, coordinatorerr.KindOf(err))
}

type fakeContractClient struct {
	sendHash   common.Hash
	sendErr    error
	parsedJSON string
	parseErr   error
}

func (f *fakeContractClient) ContractAddress() common.Address { return common.Address{} }
func (f *fakeContractClient) Abi() abi.ABI                     { return abi.ABI{} }
func (f *fakeContractClient) Call(caller *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	return nil, nil
}
func (f *fakeContractClient) Send(txType coordtypes.TxType, gasLimit *uint64, from *common.Address, pk *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	return f.sendHash, f.sendErr
}
func (f *fakeContractClient) TransactionData(hash common.Hash) ([]byte, error) { return nil, nil }
func (f *fakeContractClient) DecodeTransaction(data []byte) (*coordtypes.DecodedTx, error) {
	return nil, nil
}
func (f *fakeContractClient) ParseReceipt(receipt *coordtypes.TxReceipt) (string, error) {
	return f.parsedJSON, f.parseErr
}

type fakeProxyTxWaiter struct {
	receipt *coordtypes.TxReceipt
	err     error
}

func (f *fakeProxyTxWaiter) WaitForTransactionCtx(ctx context.Context, hash common.Hash) (*coordtypes.TxReceipt, error) {
	return f.receipt, f.err
}

func TestExecutePendingInvestment_ReturnsDecodedProxyPositionID(t *testing.T) {
	cc := &fakeContractClient{
		sendHash: common.HexToHash("0xfeed"),
		parsedJSON: `[{"eventName":"PositionExecuted","parameter":{"vaultPositionId":"pos-123","proxyPositionId":"456789012345678901234567890","liquidity":"1000"}}]`,
	}
	waiter := &fakeProxyTxWaiter{receipt: &coordtypes.TxReceipt{Status: "0x1"}}
	c := &Client{cc: cc, waiter: waiter, txType: coordtypes.DynamicFee}

	result, err := c.executePendingInvestmentOnce(context.Background(), "pos-123")
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed").Hex(), result.txHash)
	assert.Equal(t, "456789012345678901234567890", result.proxyPositionID.String())
}

func TestExecutePendingInvestment_MissingEventIsError(t *testing.T) {
	cc := &fakeContractClient{
		sendHash:   common.HexToHash("0xfeed"),
		parsedJSON: `[]`,
	}
	waiter := &fakeProxyTxWaiter{receipt: &coordtypes.TxReceipt{Status: "0x1"}}
	c := &Client{cc: cc, waiter: waiter, txType: coordtypes.DynamicFee}

	_, err := c.executePendingInvestmentOnce(context.Background(), "pos-123")
	require.Error(t, err)
}
