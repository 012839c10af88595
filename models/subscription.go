package models

import "time"

// Subscription mirrors per-user paid-through state from the provisioning
// service. This service only ever moves PaidUntil forward (inside the reward
// or trial transaction); ExpiresAt is owned entirely by provisioning.
type Subscription struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"uniqueIndex;not null" json:"user_id"`

	PaidUntil *time.Time `json:"paid_until,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	Timestamps
}
