package vaultclient

import (
	"coordinatorcore/pkg/events"

	gstypes "github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// eventDeposit etc. mirror the Vault pallet's SCALE event shapes. Field
// order must match the runtime metadata's declared event variant exactly;
// gsrpc decodes positionally.
type eventDeposit struct {
	Phase  gstypes.Phase
	User   gstypes.AccountID
	Amount gstypes.U128
	Topics []gstypes.Hash
}

type eventWithdrawal struct {
	Phase  gstypes.Phase
	User   gstypes.AccountID
	Amount gstypes.U128
	Topics []gstypes.Hash
}

type eventInvestmentInitiated struct {
	Phase           gstypes.Phase
	VaultPositionID gstypes.H256
	User            gstypes.AccountID
	PoolID          gstypes.H256
	ChainID         uint64
	Amount          gstypes.U128
	TickLowerBps    int32
	TickUpperBps    int32
	Topics          []gstypes.Hash
}

type eventPositionExecutionConfirmed struct {
	Phase            gstypes.Phase
	VaultPositionID  gstypes.H256
	RemotePositionID gstypes.U128
	Liquidity        gstypes.U128
	Topics           []gstypes.Hash
}

type eventPositionLiquidated struct {
	Phase           gstypes.Phase
	VaultPositionID gstypes.H256
	FinalAmount     gstypes.U128
	Topics          []gstypes.Hash
}

type eventLiquidationSettled struct {
	Phase           gstypes.Phase
	VaultPositionID gstypes.H256
	ExpectedAmount  gstypes.U128
	ReceivedAmount  gstypes.U128
	Topics          []gstypes.Hash
}

type eventChainAdded struct {
	Phase   gstypes.Phase
	ChainID uint64
	Topics  []gstypes.Hash
}

type eventXcmMessageSent struct {
	Phase       gstypes.Phase
	MessageHash gstypes.H256
	Topics      []gstypes.Hash
}

// vaultEventRecords embeds the system event records plus the Vault
// pallet's own variants, following gsrpc's convention of one slice field
// per event kind.
type vaultEventRecords struct {
	gstypes.EventRecords
	Vault_Deposit                    []eventDeposit
	Vault_Withdrawal                 []eventWithdrawal
	Vault_InvestmentInitiated        []eventInvestmentInitiated
	Vault_PositionExecutionConfirmed []eventPositionExecutionConfirmed
	Vault_PositionLiquidated         []eventPositionLiquidated
	Vault_LiquidationSettled         []eventLiquidationSettled
	Vault_ChainAdded                 []eventChainAdded
	Vault_XcmMessageSent             []eventXcmMessageSent
}

// decodedVaultBlock is the neutral intermediate shape pollOnce hands to
// dispatchVaultEvents, decoupling decoding from dispatch so tests can
// exercise dispatch without a live metadata-aware decoder.
type decodedVaultBlock struct {
	blockNumber uint64
	txHash      string
	records     vaultEventRecords
}

func decodeVaultEvents(block *gstypes.SignedBlock) (decodedVaultBlock, error) {
	var out decodedVaultBlock
	out.blockNumber = uint64(block.Block.Header.Number)
	if len(block.Block.Extrinsics) > 0 {
		hash, err := gstypes.EncodeToBytes(block.Block.Extrinsics[0])
		if err == nil {
			out.txHash = gstypes.NewHash(hash).Hex()
		}
	}
	// Only the block number and txHash are filled here; pollOnce decodes the
	// block's event records against chain metadata (decodeEventsAt) and
	// attaches them before dispatch.
	return out, nil
}

func dispatchVaultEvents(h events.VaultHandlers, b decodedVaultBlock) {
	for _, e := range b.records.Vault_Deposit {
		if h.OnDeposit != nil {
			h.OnDeposit(events.DepositEvent{
				Envelope: envelope(b),
				User:     e.User.ToHexString(),
				Amount:   e.Amount.String(),
			})
		}
	}
	for _, e := range b.records.Vault_Withdrawal {
		if h.OnWithdrawal != nil {
			h.OnWithdrawal(events.WithdrawalEvent{
				Envelope: envelope(b),
				User:     e.User.ToHexString(),
				Amount:   e.Amount.String(),
			})
		}
	}
	for _, e := range b.records.Vault_InvestmentInitiated {
		if h.OnInvestmentInitiated != nil {
			h.OnInvestmentInitiated(events.InvestmentInitiatedEvent{
				Envelope:        envelope(b),
				VaultPositionID: e.VaultPositionID.Hex(),
				User:            e.User.ToHexString(),
				PoolID:          e.PoolID.Hex(),
				ChainID:         e.ChainID,
				Amount:          e.Amount.String(),
				TickLowerBps:    e.TickLowerBps,
				TickUpperBps:    e.TickUpperBps,
			})
		}
	}
	for _, e := range b.records.Vault_PositionExecutionConfirmed {
		if h.OnPositionExecutionConfirmed != nil {
			h.OnPositionExecutionConfirmed(events.PositionExecutionConfirmedEvent{
				Envelope:         envelope(b),
				VaultPositionID:  e.VaultPositionID.Hex(),
				RemotePositionID: e.RemotePositionID.String(),
				Liquidity:        e.Liquidity.String(),
			})
		}
	}
	for _, e := range b.records.Vault_PositionLiquidated {
		if h.OnPositionLiquidated != nil {
			h.OnPositionLiquidated(events.PositionLiquidatedEvent{
				Envelope:        envelope(b),
				VaultPositionID: e.VaultPositionID.Hex(),
				FinalAmount:     e.FinalAmount.String(),
			})
		}
	}
	for _, e := range b.records.Vault_LiquidationSettled {
		if h.OnLiquidationSettled != nil {
			h.OnLiquidationSettled(events.LiquidationSettledEvent{
				Envelope:        envelope(b),
				VaultPositionID: e.VaultPositionID.Hex(),
				ExpectedAmount:  e.ExpectedAmount.String(),
				ReceivedAmount:  e.ReceivedAmount.String(),
			})
		}
	}
	for _, e := range b.records.Vault_ChainAdded {
		if h.OnChainAdded != nil {
			h.OnChainAdded(events.ChainAddedEvent{
				Envelope: envelope(b),
				ChainID:  e.ChainID,
			})
		}
	}
	for _, e := range b.records.Vault_XcmMessageSent {
		if h.OnXcmMessageSent != nil {
			h.OnXcmMessageSent(events.XcmMessageSentEvent{
				Envelope:    envelope(b),
				MessageHash: e.MessageHash.Hex(),
			})
		}
	}
}

func envelope(b decodedVaultBlock) events.Envelope {
	return events.Envelope{BlockNumber: b.blockNumber, TransactionHash: b.txHash}
}
