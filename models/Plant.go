package models

import "gorm.io/gorm"

// Plant is a manufacturing location owned by a company.
type Plant struct {
	gorm.Model
	Name           string   `gorm:"not null" json:"name"`
	Code           string   `gorm:"uniqueIndex;not null" json:"code"`
	Description    string   `gorm:"type:text" json:"description"`
	CompanyAddress string   `gorm:"index;not null" json:"company_address"`
	Location       Location `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	Active         bool     `gorm:"not null;default:true" json:"active"`
}

// Location is a structured postal address with optional coordinates.
type Location struct {
	Address    string   `json:"address"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	Country    string   `json:"country"`
	PostalCode string   `json:"postal_code"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether the plant can be placed on a map.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}
