// services/bonus_guard_service.go
package services

import (
	"fmt"

	"referral-reward-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BonusGuardService owns the per-identity one-time-bonus flags. Every
// mutation exists in two forms: a standalone one that runs in its own
// transaction, and a Tx one that joins an ambient transaction supplied by
// the caller (the reward engine uses the latter so the flag flip commits or
// rolls back together with the reward itself).
type BonusGuardService struct {
	DB *gorm.DB
}

func NewBonusGuardService(db *gorm.DB) *BonusGuardService {
	return &BonusGuardService{DB: db}
}

// GetOrCreateFlags returns the identity's flags, creating a zero-valued row
// on first touch.
func (s *BonusGuardService) GetOrCreateFlags(identity string) (*models.BonusGuardEntry, error) {
	return s.GetOrCreateFlagsTx(s.DB, identity)
}

// GetOrCreateFlagsTx is the ambient-transaction form of GetOrCreateFlags.
// The insert-or-ignore followed by a read is safe under concurrent first
// touch: duplicate creates collapse onto the unique identity index and the
// read returns whichever row persisted.
func (s *BonusGuardService) GetOrCreateFlagsTx(tx *gorm.DB, identity string) (*models.BonusGuardEntry, error) {
	entry := models.BonusGuardEntry{Identity: identity}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("bonus guard upsert failed for %s: %w", identity, err)
	}

	var current models.BonusGuardEntry
	if err := tx.Where("identity = ?", identity).First(&current).Error; err != nil {
		return nil, fmt.Errorf("bonus guard read failed for %s: %w", identity, err)
	}
	return &current, nil
}

// MarkTrialGranted sets HadTrial in its own transaction.
func (s *BonusGuardService) MarkTrialGranted(identity string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return s.MarkTrialGrantedTx(tx, identity)
	})
}

// MarkTrialGrantedTx sets HadTrial inside the caller's transaction.
// Idempotent: already-true flags stay true.
func (s *BonusGuardService) MarkTrialGrantedTx(tx *gorm.DB, identity string) error {
	return s.setFlag(tx, identity, "had_trial")
}

// MarkReferralBonusGranted sets HadReferralBonus in its own transaction.
func (s *BonusGuardService) MarkReferralBonusGranted(identity string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		return s.MarkReferralBonusGrantedTx(tx, identity)
	})
}

// MarkReferralBonusGrantedTx sets HadReferralBonus inside the caller's
// transaction.
func (s *BonusGuardService) MarkReferralBonusGrantedTx(tx *gorm.DB, identity string) error {
	return s.setFlag(tx, identity, "had_referral_bonus")
}

// setFlag creates the entry if absent, then raises the column. There is no
// code path that lowers a flag.
func (s *BonusGuardService) setFlag(tx *gorm.DB, identity, column string) error {
	if _, err := s.GetOrCreateFlagsTx(tx, identity); err != nil {
		return err
	}
	err := tx.Model(&models.BonusGuardEntry{}).
		Where("identity = ?", identity).
		Update(column, true).Error
	if err != nil {
		return fmt.Errorf("bonus guard flag update failed for %s: %w", identity, err)
	}
	return nil
}
