package models

import "time"

// BlockedIdentity — presence of a row bans the identity from all rewards.
// Rows are written by the moderation endpoints; the reward engine only reads.
type BlockedIdentity struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Identity string `gorm:"uniqueIndex;not null" json:"identity"`
	Reason   string `json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
