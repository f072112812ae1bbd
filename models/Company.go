package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Company is an organisation identified by its ledger address. Templates and
// batches reference their manufacturer through Address.
type Company struct {
	gorm.Model
	Address     string                    `gorm:"uniqueIndex;not null" json:"address"`
	Name        string                    `gorm:"index;not null" json:"name"`
	Email       string                    `json:"email"`
	Description string                    `gorm:"type:text" json:"description"`
	TemplateIDs datatypes.JSONSlice[uint] `json:"template_ids"`
}
