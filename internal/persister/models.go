// Package persister is the Position State Machine: it consumes chain
// events and advances the authoritative position lifecycle in the
// relational store, reconciling cross-chain identifiers between the Vault
// and Proxy.
package persister

import "time"

// Status is the position lifecycle state. Transitions are monotone along
// PendingExecution → (Active | Failed); Active → Liquidated.
type Status string

const (
	StatusPendingExecution Status = "PendingExecution"
	StatusActive           Status = "Active"
	StatusLiquidated       Status = "Liquidated"
	StatusFailed           Status = "Failed"
)

// User is created lazily on first Deposit event.
type User struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	WalletAddress string    `gorm:"type:varchar(42);uniqueIndex;not null;comment:lowercased 20-byte hex"`
	IsActive      bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// Pool is a read model populated by an external indexer; the core never
// writes pool rows, only looks them up.
type Pool struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Address string `gorm:"type:varchar(64);uniqueIndex;not null"`
	ChainID uint64 `gorm:"not null"`
	Token0  string `gorm:"type:varchar(64)"`
	Token1  string `gorm:"type:varchar(64)"`
}

func (Pool) TableName() string { return "pools" }

// Position is the authoritative off-chain view of one user investment.
// vaultPositionId is unique and immutable once assigned; proxyPositionId
// may only be set while status=Active or transitioning into it;
// returnedAmount is set iff status=Liquidated.
type Position struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	VaultPositionID string `gorm:"type:varchar(66);uniqueIndex;not null"`
	ProxyPositionID string `gorm:"type:varchar(78)"`
	UserID          uint   `gorm:"not null;index"`
	PoolID          uint   `gorm:"not null;index"`
	ChainID         uint64 `gorm:"not null"`
	Amount          string `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	Liquidity       string `gorm:"type:varchar(78);comment:big.Int as string"`
	ReturnedAmount  string `gorm:"type:varchar(78);comment:big.Int as string"`
	Status          Status `gorm:"type:varchar(24);not null;index"`
	TickLowerBps    int32  `gorm:"not null"`
	TickUpperBps    int32  `gorm:"not null"`

	CreatedAt    time.Time `gorm:"autoCreateTime"`
	ExecutedAt   *time.Time
	LiquidatedAt *time.Time
}

func (Position) TableName() string { return "positions" }
