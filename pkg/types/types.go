// Package types holds the small set of transaction-shaped values shared by
// both chain clients, so neither imports the other's package for them.
package types

import "github.com/ethereum/go-ethereum/common"

// TxType selects the gas-pricing strategy used when a client signs a
// transaction.
type TxType int

const (
	// Standard uses the chain's legacy gas pricing.
	Standard TxType = iota
	// DynamicFee uses EIP-1559 fee fields.
	DynamicFee
)

// TxReceipt mirrors the confirmed-receipt shape consumed by callers. Gas
// and price fields are carried as decimal strings, never native int64,
// since chain amounts are 256-bit (spec §9 dynamic numeric widths).
type TxReceipt struct {
	TxHash            common.Hash
	BlockHash         common.Hash
	BlockNumber       string
	GasUsed           string
	EffectiveGasPrice string
	Status            string // "0x1" success, "0x0" failure
}

// DecodedTx is the generic decode-any-call-by-ABI result.
type DecodedTx struct {
	MethodName string                 `json:"methodName"`
	Parameter  map[string]interface{} `json:"parameter"`
}

// DecodedEvent is one emitted log decoded against its ABI.
type DecodedEvent struct {
	EventName string                 `json:"eventName"`
	Parameter map[string]interface{} `json:"parameter"`
}
