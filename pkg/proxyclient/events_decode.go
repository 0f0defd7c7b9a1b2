package proxyclient

import (
	"encoding/hex"
	"math/big"

	"coordinatorcore/pkg/events"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// dispatchProxyLog decodes one raw log against contractABI and invokes the
// matching handler, if installed. Unrecognized events and unpack failures
// are silently skipped: at-least-once delivery for known event kinds is
// the contract, not decoding every log the chain ever emits.
func dispatchProxyLog(h events.ProxyHandlers, lg types.Log, contractABI abi.ABI) {
	if len(lg.Topics) == 0 {
		return
	}
	event, err := contractABI.EventByID(lg.Topics[0])
	if err != nil {
		return
	}

	params := make(map[string]interface{})
	if err := event.Inputs.UnpackIntoMap(params, lg.Data); err != nil {
		return
	}
	env := events.Envelope{BlockNumber: lg.BlockNumber, TransactionHash: lg.TxHash.Hex()}

	switch event.Name {
	case "AssetsReceived":
		if h.OnAssetsReceived != nil {
			h.OnAssetsReceived(events.AssetsReceivedEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
				Amount:          bigIntParam(params, "amount").String(),
			})
		}
	case "PendingPositionCreated":
		if h.OnPendingPositionCreated != nil {
			h.OnPendingPositionCreated(events.PendingPositionCreatedEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
			})
		}
	case "PositionExecuted":
		if h.OnPositionExecuted != nil {
			h.OnPositionExecuted(events.PositionExecutedEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
				ProxyPositionID: stringParam(params, "proxyPositionId"),
				Liquidity:       bigIntParam(params, "liquidity").String(),
			})
		}
	case "PositionLiquidated":
		if h.OnPositionLiquidated != nil {
			h.OnPositionLiquidated(events.ProxyPositionLiquidatedEvent{
				Envelope:        env,
				ProxyPositionID: stringParam(params, "proxyPositionId"),
			})
		}
	case "LiquidationCompleted":
		if h.OnLiquidationCompleted != nil {
			h.OnLiquidationCompleted(events.LiquidationCompletedEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
				ProxyPositionID: stringParam(params, "proxyPositionId"),
				TotalBase:       bigIntParam(params, "totalBase"),
			})
		}
	case "AssetsReturned":
		if h.OnAssetsReturned != nil {
			h.OnAssetsReturned(events.AssetsReturnedEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
				Amount:          bigIntParam(params, "amount").String(),
			})
		}
	case "PendingPositionCancelled":
		if h.OnPendingPositionCancelled != nil {
			h.OnPendingPositionCancelled(events.PendingPositionCancelledEvent{
				Envelope:        env,
				VaultPositionID: stringParam(params, "vaultPositionId"),
				RefundAmount:    bigIntParam(params, "refundAmount").String(),
			})
		}
	}
}

func stringParam(params map[string]interface{}, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case [32]byte:
		return "0x" + hex.EncodeToString(v[:])
	case *big.Int:
		if v != nil {
			return v.String()
		}
		return ""
	default:
		return ""
	}
}

func bigIntParam(params map[string]interface{}, key string) *big.Int {
	if v, ok := params[key].(*big.Int); ok && v != nil {
		return v
	}
	return big.NewInt(0)
}
