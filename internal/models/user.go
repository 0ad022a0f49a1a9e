package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a signed-in shopper, keyed by the Firebase UID
type User struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UID   string `gorm:"type:varchar(128);uniqueIndex;not null" json:"uid"`
	Name  string `gorm:"type:varchar(255)" json:"name"`
	Email string `gorm:"type:varchar(255);index" json:"email"`
}
