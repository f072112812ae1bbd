package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProductTemplate is the reusable definition of a product or raw material.
type ProductTemplate struct {
	gorm.Model
	Name                string         `gorm:"not null;uniqueIndex:idx_template_manufacturer_name,priority:2" json:"name"`
	Category            string         `gorm:"index" json:"category"`
	IsRawMaterial       bool           `gorm:"not null;default:false" json:"is_raw_material"`
	Specifications      Specifications `gorm:"embedded;embeddedPrefix:spec_" json:"specifications"`
	ManufacturerAddress string         `gorm:"not null;uniqueIndex:idx_template_manufacturer_name,priority:1" json:"manufacturer_address"`
	Active              bool           `gorm:"not null;default:true" json:"active"`
}

// Specifications describe a single unit of a template.
type Specifications struct {
	WeightKg  float64                     `json:"weight_kg"`
	LengthCm  *float64                    `json:"length_cm,omitempty"`
	WidthCm   *float64                    `json:"width_cm,omitempty"`
	HeightCm  *float64                    `json:"height_cm,omitempty"`
	Materials datatypes.JSONSlice[string] `json:"materials"`
	// CarbonFootprintPerUnit is expressed in tons of CO2e.
	CarbonFootprintPerUnit decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"carbon_footprint_per_unit"`
}
