// services/subscription_extension.go
package services

import (
	"time"

	"referral-reward-system/models"
)

const (
	// ReferralRewardDays is the fixed extension both parties receive for a
	// successful referral.
	ReferralRewardDays = 7

	// TrialDays is the one-shot trial extension for new users.
	TrialDays = 3
)

// ComputeNewPaidUntil returns the new paid-through date after granting an
// extension. The extension stacks on top of whichever is later — remaining
// paid time or remaining hard-expiry grace — so it never shortens an
// existing subscription and never applies before "now". Calendar-day
// arithmetic in UTC.
func ComputeNewPaidUntil(sub *models.Subscription, now time.Time, extensionDays int) time.Time {
	base := now.UTC()
	if sub.PaidUntil != nil && sub.PaidUntil.After(base) {
		base = sub.PaidUntil.UTC()
	}
	if sub.ExpiresAt != nil && sub.ExpiresAt.UTC().After(base) {
		base = sub.ExpiresAt.UTC()
	}
	return base.AddDate(0, 0, extensionDays)
}
