package models

import "gorm.io/gorm"

// User represents an application account. Every material, vendor, category and
// formulation is owned by exactly one user, which acts as the tenant boundary.
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Name         string
	Plan         string `gorm:"type:varchar(32);default:free"`
}
