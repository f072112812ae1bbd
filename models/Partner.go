package models

import "gorm.io/gorm"

// Relationship kinds between two companies.
const (
	RelationshipSupplier = "supplier"
	RelationshipCustomer = "customer"
)

// Partner statuses.
const (
	PartnerStatusActive   = "active"
	PartnerStatusInactive = "inactive"
)

// Partner is a directed relationship record from SelfAddress to PartnerAddress.
type Partner struct {
	gorm.Model
	SelfAddress    string `gorm:"not null;uniqueIndex:idx_partner_pair,priority:1" json:"self_address"`
	PartnerAddress string `gorm:"not null;uniqueIndex:idx_partner_pair,priority:2" json:"partner_address"`
	Relationship   string `gorm:"not null" json:"relationship"`
	DisplayName    string `json:"display_name"`
	Status         string `gorm:"not null;default:active" json:"status"`
}

// InverseRelationship returns the relationship as seen from the counterpart.
func InverseRelationship(kind string) string {
	switch kind {
	case RelationshipSupplier:
		return RelationshipCustomer
	case RelationshipCustomer:
		return RelationshipSupplier
	default:
		return kind
	}
}
