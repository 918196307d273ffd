package models

import "gorm.io/gorm"

// Vendor is a supplier that materials can be purchased from.
type Vendor struct {
	gorm.Model
	Name         string `gorm:"not null" json:"name"`
	ContactEmail string `json:"contact_email"`
	Phone        string `gorm:"size:32" json:"phone"`
	Website      string `json:"website"`
	Notes        string `gorm:"type:text" json:"notes"`
	UserID       uint   `gorm:"not null;index" json:"user_id"`
}
