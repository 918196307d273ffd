package models

import "gorm.io/gorm"

type MaterialCategory struct {
	gorm.Model
	Name   string `gorm:"not null" json:"name"`
	Color  string `gorm:"size:16" json:"color"`
	UserID uint   `gorm:"not null;index" json:"user_id"`
}
