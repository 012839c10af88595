package models

// Referral is the reward ledger: one row per invited identity.
// The unique index on InvitedIdentity is the primary exactly-once guard;
// RewardGiven flips false→true exactly once via a conditional update.
type Referral struct {
	ID              string `gorm:"primaryKey;type:uuid" json:"id"`
	InviterIdentity string `gorm:"index;not null" json:"inviter_identity"`
	InvitedIdentity string `gorm:"uniqueIndex;not null" json:"invited_identity"`

	RewardGiven bool `gorm:"default:false" json:"reward_given"`

	Timestamps
}
