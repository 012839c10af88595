package models

// BonusGuardEntry records one-time bonus history per identity, independent of
// the Referral ledger, so deleting/recreating a User or Referral row cannot
// re-trigger a bonus. Flags are monotonic: false→true only, never cleared.
type BonusGuardEntry struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Identity string `gorm:"uniqueIndex;not null" json:"identity"`

	HadTrial         bool `gorm:"default:false" json:"had_trial"`
	HadReferralBonus bool `gorm:"default:false" json:"had_referral_bonus"`

	Timestamps
}
