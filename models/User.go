package models

import "gorm.io/gorm"

// User represents an operator account that signs in on behalf of a company wallet.
type User struct {
	gorm.Model
	Email         string `gorm:"uniqueIndex;not null"`
	PasswordHash  string `gorm:"not null"`
	Name          string
	WalletAddress string `gorm:"index;not null"`
}
