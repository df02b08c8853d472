// Package archive copies the in-memory ledger into Postgres for
// durability and offline analysis. Writes are best effort; the store
// never waits on the database.
package archive

import (
	"time"

	"gorm.io/datatypes"
)

// StateSnapshotRow is one full JSON snapshot of the store.
type StateSnapshotRow struct {
	ID      uint           `gorm:"primaryKey"`
	TakenAt time.Time      `gorm:"index;not null"`
	Body    datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (StateSnapshotRow) TableName() string { return "state_snapshots" }

// ExecutionRow mirrors one ExecutionRecord. Monetary columns are decimal
// strings; Body keeps the full record for replay.
type ExecutionRow struct {
	ID               string         `gorm:"primaryKey;size:64"`
	IntentID         string         `gorm:"index;size:64;not null"`
	AgentID          string         `gorm:"index;size:64;not null"`
	Symbol           string         `gorm:"size:32;not null"`
	Side             string         `gorm:"size:8;not null"`
	Quantity         string         `gorm:"size:64"`
	PriceUSD         string         `gorm:"size:64"`
	GrossNotionalUSD string         `gorm:"size:64"`
	FeeUSD           string         `gorm:"size:64"`
	Mode             string         `gorm:"size:8"`
	Status           string         `gorm:"size:16;index"`
	ReceiptHash      string         `gorm:"size:128"`
	Body             datatypes.JSON `gorm:"type:jsonb;not null"`
	ExecutedAt       time.Time      `gorm:"index"`
}

func (ExecutionRow) TableName() string { return "execution_archive" }

// ReceiptRow mirrors one chain entry so the chain can be re-verified
// from the database alone.
type ReceiptRow struct {
	ExecutionID     string    `gorm:"primaryKey;size:64"`
	ChainIndex      int       `gorm:"index;not null"`
	Payload         string    `gorm:"type:text;not null"`
	PayloadHash     string    `gorm:"size:128;not null"`
	PrevReceiptHash string    `gorm:"size:128"`
	ReceiptHash     string    `gorm:"size:128;not null"`
	CreatedAt       time.Time `gorm:"index"`
}

func (ReceiptRow) TableName() string { return "receipt_archive" }

// Tables lists everything AutoMigrate needs.
func Tables() []any {
	return []any{&StateSnapshotRow{}, &ExecutionRow{}, &ReceiptRow{}}
}
