package models

import (
	"time"

	"gorm.io/gorm"
)

// ProductBatch is one production run of a template and the unit minted as a ledger token.
type ProductBatch struct {
	gorm.Model
	BatchNumber         string           `gorm:"not null;uniqueIndex:idx_batch_manufacturer_number,priority:2" json:"batch_number"`
	TemplateID          uint             `gorm:"not null;index" json:"template_id"`
	Template            *ProductTemplate `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	Quantity            int64            `gorm:"not null" json:"quantity"`
	ProductionDate      time.Time        `gorm:"not null" json:"production_date"`
	ExpiryDate          *time.Time       `json:"expiry_date,omitempty"`
	CarbonFootprintKg   int64            `gorm:"not null" json:"carbon_footprint_kg"`
	ManufacturerAddress string           `gorm:"not null;uniqueIndex:idx_batch_manufacturer_number,priority:1" json:"manufacturer_address"`
	PlantID             uint             `gorm:"not null;index" json:"plant_id"`
	Plant               *Plant           `gorm:"foreignKey:PlantID" json:"plant,omitempty"`
	Components          []BatchComponent `gorm:"foreignKey:BatchID" json:"components"`
	MetadataURI         string           `json:"metadata_uri"`

	// Ledger fields, populated once the batch is minted.
	TokenID         *uint64    `gorm:"uniqueIndex" json:"token_id,omitempty"`
	ContractAddress string     `json:"contract_address,omitempty"`
	TxHash          string     `json:"tx_hash,omitempty"`
	BlockNumber     *uint64    `json:"block_number,omitempty"`
	MintedAt        *time.Time `json:"minted_at,omitempty"`
}

// Minted reports whether the batch already has a ledger token.
func (b *ProductBatch) Minted() bool {
	return b.TokenID != nil
}

// BatchComponent records another batch's tokens consumed by this batch.
type BatchComponent struct {
	gorm.Model
	BatchID           uint   `gorm:"not null;index" json:"batch_id"`
	Position          int    `gorm:"not null" json:"position"`
	TokenID           uint64 `gorm:"not null;index" json:"token_id"`
	Name              string `json:"name"`
	Quantity          int64  `gorm:"not null" json:"quantity"`
	CarbonFootprintKg int64  `gorm:"not null" json:"carbon_footprint_kg"`
	Consumed          bool   `gorm:"not null;default:false" json:"consumed"`
	BurnTxHash        string `json:"burn_tx_hash,omitempty"`
}
