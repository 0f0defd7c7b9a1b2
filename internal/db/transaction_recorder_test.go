package db

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newTestRecorder(t *testing.T) (*MySQLRecorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create gorm DB: %v", err)
	}

	return &MySQLRecorder{db: gormDB}, mock
}

func TestMySQLRecorder_RecordTx(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tx_records`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := recorder.RecordTx("pos-123", "dispatch", "0xabc"); err != nil {
		t.Errorf("RecordTx failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMySQLRecorder_ForPosition(t *testing.T) {
	recorder, mock := newTestRecorder(t)

	rows := sqlmock.NewRows([]string{"id", "vault_position_id", "operation", "tx_hash", "created_at"}).
		AddRow(1, "pos-123", "dispatch", "0xabc", nil)
	mock.ExpectQuery("SELECT \\* FROM `tx_records`").WillReturnRows(rows)

	records, err := recorder.ForPosition("pos-123")
	if err != nil {
		t.Fatalf("ForPosition failed: %v", err)
	}
	if len(records) != 1 || records[0].TxHash != "0xabc" {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestTxRecord_TableName(t *testing.T) {
	record := TxRecord{}
	if record.TableName() != "tx_records" {
		t.Errorf("TableName() = %v, want tx_records", record.TableName())
	}
}
