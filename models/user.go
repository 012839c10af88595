package models

import (
	"time"

	"gorm.io/gorm"
)

// User is a local mirror of the account record owned by the provisioning
// service. Populated by the registration webhook and the sync worker.
// Identity is the canonical decimal form of the external numeric id.
type User struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	Identity     string  `gorm:"uniqueIndex;not null" json:"identity"`
	Username     string  `gorm:"index" json:"username"`
	ReferralCode string  `gorm:"uniqueIndex" json:"referral_code"`
	ReferredBy   *string `gorm:"index" json:"referred_by,omitempty"` // inviter's Identity

	RegisteredAt time.Time `json:"registered_at"`

	Timestamps
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
