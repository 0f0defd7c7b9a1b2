// Package db adapts the teacher's GORM-backed recorder pattern into a
// submitted-transaction ledger for the Dispatcher and Settlement
// Coordinator: one row per outbound chain call, independent of the
// relational Position/User/Pool tables owned by internal/persister.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TxRecord is one submitted transaction, logged by whichever component
// submitted it. GasUsed/GasPrice are intentionally absent: neither the
// Substrate extrinsic surface nor this package's callers currently expose
// per-transaction gas accounting, and fabricating zero-filled columns for
// data nobody can populate would be worse than omitting them.
type TxRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	VaultPositionID string    `gorm:"index;type:varchar(80);not null"`
	Operation       string    `gorm:"type:varchar(64);not null;comment:dispatch, settle, etc."`
	TxHash          string    `gorm:"type:varchar(130);not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (TxRecord) TableName() string {
	return "tx_records"
}

// MySQLRecorder implements TxRecorder using GORM and MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens a fresh connection and migrates the schema.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.AutoMigrate(&TxRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// NewMySQLRecorderWithDB reuses an already-open GORM handle, migrating the
// schema into it.
func NewMySQLRecorderWithDB(db *gorm.DB) (*MySQLRecorder, error) {
	if err := db.AutoMigrate(&TxRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

// RecordTx appends one row to the ledger. Best-effort telemetry: callers
// log a failure here but never fail the operation it describes.
func (r *MySQLRecorder) RecordTx(vaultPositionID, operation, txHash string) error {
	record := TxRecord{
		VaultPositionID: vaultPositionID,
		Operation:       operation,
		TxHash:          txHash,
	}
	if err := r.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// ForPosition returns every recorded transaction for a vaultPositionId,
// oldest first.
func (r *MySQLRecorder) ForPosition(vaultPositionID string) ([]TxRecord, error) {
	var records []TxRecord
	err := r.db.Where("vault_position_id = ?", vaultPositionID).Order("created_at ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", vaultPositionID, err)
	}
	return records, nil
}

// Close releases the underlying connection.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
