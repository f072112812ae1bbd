package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Transfer statuses.
const (
	TransferStatusPending   = "pending"
	TransferStatusConfirmed = "confirmed"
	TransferStatusFailed    = "failed"
)

// TokenTransfer is an off-chain journal entry mirroring a ledger transfer.
// TxHash is the idempotency key.
type TokenTransfer struct {
	gorm.Model
	FromAddress string         `gorm:"not null;index" json:"from_address"`
	ToAddress   string         `gorm:"not null;index" json:"to_address"`
	TokenID     uint64         `gorm:"not null;index" json:"token_id"`
	Quantity    int64          `gorm:"not null" json:"quantity"`
	Reason      string         `json:"reason"`
	TxHash      string         `gorm:"uniqueIndex;not null" json:"tx_hash"`
	BlockNumber *uint64        `json:"block_number,omitempty"`
	GasUsed     *uint64        `json:"gas_used,omitempty"`
	Status      string         `gorm:"not null;default:pending" json:"status"`
	Raw         datatypes.JSON `json:"raw,omitempty"`
}
