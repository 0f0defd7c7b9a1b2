// Package events defines the typed event payloads both chain clients
// decode their native logs/extrinsics into, and the callback-set shapes
// the event listener installs on each client.
//
// Every event carries BlockNumber and TransactionHash alongside its typed
// payload (spec §6). Amount fields are decimal strings; counters and ids
// that fit comfortably in 64 bits stay native.
package events

import "math/big"

// Envelope carries the fields every event has regardless of kind.
type Envelope struct {
	BlockNumber     uint64
	TransactionHash string
}

// --- Vault-side events ---

type DepositEvent struct {
	Envelope
	User   string
	Amount string // decimal string, 256-bit
}

type WithdrawalEvent struct {
	Envelope
	User   string
	Amount string
}

type InvestmentInitiatedEvent struct {
	Envelope
	VaultPositionID string // 32-byte id, hex
	User            string
	PoolID          string
	ChainID         uint64
	Amount          string
	TickLowerBps    int32
	TickUpperBps    int32
}

type PositionExecutionConfirmedEvent struct {
	Envelope
	VaultPositionID string
	RemotePositionID string
	Liquidity        string
}

type PositionLiquidatedEvent struct {
	Envelope
	VaultPositionID string
	FinalAmount     string
}

type LiquidationSettledEvent struct {
	Envelope
	VaultPositionID string
	ExpectedAmount  string
	ReceivedAmount  string
}

type ChainAddedEvent struct {
	Envelope
	ChainID uint64
}

type XcmMessageSentEvent struct {
	Envelope
	MessageHash string
}

// VaultHandlers is the callback set the Vault client accepts. A nil field
// means "not interested in this kind"; registering a new set always
// replaces whatever was previously installed (spec §4.1, §9).
type VaultHandlers struct {
	OnDeposit                    func(DepositEvent)
	OnWithdrawal                 func(WithdrawalEvent)
	OnInvestmentInitiated        func(InvestmentInitiatedEvent)
	OnPositionExecutionConfirmed func(PositionExecutionConfirmedEvent)
	OnPositionLiquidated         func(PositionLiquidatedEvent)
	OnLiquidationSettled         func(LiquidationSettledEvent)
	OnChainAdded                 func(ChainAddedEvent)
	OnXcmMessageSent             func(XcmMessageSentEvent)
}

// --- Proxy-side events ---

type AssetsReceivedEvent struct {
	Envelope
	VaultPositionID string
	Amount          string
}

type PendingPositionCreatedEvent struct {
	Envelope
	VaultPositionID string
}

type PositionExecutedEvent struct {
	Envelope
	VaultPositionID string
	ProxyPositionID string
	Liquidity       string
}

type ProxyPositionLiquidatedEvent struct {
	Envelope
	ProxyPositionID string
}

type LiquidationCompletedEvent struct {
	Envelope
	VaultPositionID string
	ProxyPositionID string
	TotalBase       *big.Int
}

type AssetsReturnedEvent struct {
	Envelope
	VaultPositionID string
	Amount          string
}

type PendingPositionCancelledEvent struct {
	Envelope
	VaultPositionID string
	RefundAmount    string
}

// ProxyHandlers mirrors VaultHandlers for the execution-chain contract.
type ProxyHandlers struct {
	OnAssetsReceived           func(AssetsReceivedEvent)
	OnPendingPositionCreated   func(PendingPositionCreatedEvent)
	OnPositionExecuted         func(PositionExecutedEvent)
	OnPositionLiquidated       func(ProxyPositionLiquidatedEvent)
	OnLiquidationCompleted     func(LiquidationCompletedEvent)
	OnAssetsReturned           func(AssetsReturnedEvent)
	OnPendingPositionCancelled func(PendingPositionCancelledEvent)
}

// MergeProxyHandlers combines several ProxyHandlers sets into one, calling
// every non-nil callback registered for a field across all of them in
// order. Only one callback set can be installed on a subscriber at a time
// (Subscribe replaces, it never merges), so callers that need more than
// one consumer per event build the combined set here first.
func MergeProxyHandlers(sets ...ProxyHandlers) ProxyHandlers {
	var merged ProxyHandlers

	var assetsReceived []func(AssetsReceivedEvent)
	var pendingCreated []func(PendingPositionCreatedEvent)
	var positionExecuted []func(PositionExecutedEvent)
	var positionLiquidated []func(ProxyPositionLiquidatedEvent)
	var liquidationCompleted []func(LiquidationCompletedEvent)
	var assetsReturned []func(AssetsReturnedEvent)
	var pendingCancelled []func(PendingPositionCancelledEvent)

	for _, s := range sets {
		if s.OnAssetsReceived != nil {
			assetsReceived = append(assetsReceived, s.OnAssetsReceived)
		}
		if s.OnPendingPositionCreated != nil {
			pendingCreated = append(pendingCreated, s.OnPendingPositionCreated)
		}
		if s.OnPositionExecuted != nil {
			positionExecuted = append(positionExecuted, s.OnPositionExecuted)
		}
		if s.OnPositionLiquidated != nil {
			positionLiquidated = append(positionLiquidated, s.OnPositionLiquidated)
		}
		if s.OnLiquidationCompleted != nil {
			liquidationCompleted = append(liquidationCompleted, s.OnLiquidationCompleted)
		}
		if s.OnAssetsReturned != nil {
			assetsReturned = append(assetsReturned, s.OnAssetsReturned)
		}
		if s.OnPendingPositionCancelled != nil {
			pendingCancelled = append(pendingCancelled, s.OnPendingPositionCancelled)
		}
	}

	if len(assetsReceived) > 0 {
		merged.OnAssetsReceived = func(e AssetsReceivedEvent) {
			for _, f := range assetsReceived {
				f(e)
			}
		}
	}
	if len(pendingCreated) > 0 {
		merged.OnPendingPositionCreated = func(e PendingPositionCreatedEvent) {
			for _, f := range pendingCreated {
				f(e)
			}
		}
	}
	if len(positionExecuted) > 0 {
		merged.OnPositionExecuted = func(e PositionExecutedEvent) {
			for _, f := range positionExecuted {
				f(e)
			}
		}
	}
	if len(positionLiquidated) > 0 {
		merged.OnPositionLiquidated = func(e ProxyPositionLiquidatedEvent) {
			for _, f := range positionLiquidated {
				f(e)
			}
		}
	}
	if len(liquidationCompleted) > 0 {
		merged.OnLiquidationCompleted = func(e LiquidationCompletedEvent) {
			for _, f := range liquidationCompleted {
				f(e)
			}
		}
	}
	if len(assetsReturned) > 0 {
		merged.OnAssetsReturned = func(e AssetsReturnedEvent) {
			for _, f := range assetsReturned {
				f(e)
			}
		}
	}
	if len(pendingCancelled) > 0 {
		merged.OnPendingPositionCancelled = func(e PendingPositionCancelledEvent) {
			for _, f := range pendingCancelled {
				f(e)
			}
		}
	}

	return merged
}
