// services/trial_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"referral-reward-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrialOutcome mirrors GrantOutcome for the one-shot trial extension.
type TrialOutcome string

const (
	TrialApplied             TrialOutcome = "applied"
	TrialAlreadyHad          TrialOutcome = "already_had_trial"
	TrialBlocked             TrialOutcome = "blocked"
	TrialMissingSubscription TrialOutcome = "missing_subscription"
)

// TrialService grants the one-time trial extension, guarded by the same
// per-identity bonus flags as the referral reward.
type TrialService struct {
	DB        *gorm.DB
	Provider  SubscriptionProvider
	Blocklist *BlocklistService
	Guard     *BonusGuardService
}

func NewTrialService(db *gorm.DB, provider SubscriptionProvider) *TrialService {
	return &TrialService{
		DB:        db,
		Provider:  provider,
		Blocklist: NewBlocklistService(db),
		Guard:     NewBonusGuardService(db),
	}
}

// GrantTrial extends the user's subscription by TrialDays, at most once per
// identity.
func (s *TrialService) GrantTrial(ctx context.Context, userID string) (TrialOutcome, error) {
	var user models.User
	if err := s.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		return "", fmt.Errorf("user %s: %w", userID, err)
	}

	blocked, err := s.Blocklist.IsBlocked(user.Identity)
	if err != nil {
		return "", err
	}
	if blocked {
		return TrialBlocked, nil
	}

	if err := s.Provider.EnsureProvisioned(ctx, &user); err != nil {
		log.Printf("Provisioning failed for user %s: %v", user.ID, err)
		return TrialMissingSubscription, nil
	}

	outcome := TrialApplied

	txErr := s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := s.Guard.GetOrCreateFlagsTx(tx, user.Identity); err != nil {
			return err
		}

		// Conditional flag flip first: only the winner of a concurrent pair
		// gets to extend the subscription.
		res := tx.Model(&models.BonusGuardEntry{}).
			Where("identity = ? AND had_trial = ?", user.Identity, false).
			Update("had_trial", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = TrialAlreadyHad
			return errRewardAborted
		}

		var sub models.Subscription
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", user.ID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = TrialMissingSubscription
			return errRewardAborted
		}
		if err != nil {
			return err
		}

		newPaidUntil := ComputeNewPaidUntil(&sub, time.Now().UTC(), TrialDays)
		return tx.Model(&models.Subscription{}).
			Where("id = ?", sub.ID).
			Update("paid_until", newPaidUntil).Error
	})

	if errors.Is(txErr, errRewardAborted) {
		return outcome, nil
	}
	if txErr != nil {
		return "", fmt.Errorf("trial transaction failed: %w", txErr)
	}

	if err := s.Provider.SyncState(ctx, &user); err != nil {
		log.Printf("Post-trial sync failed for user %s: %v", user.ID, err)
	}
	return outcome, nil
}
