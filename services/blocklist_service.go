// services/blocklist_service.go
package services

import (
	"errors"
	"fmt"

	"referral-reward-system/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlocklistService answers "is this identity banned" for the reward engine
// and backs the admin moderation endpoints.
type BlocklistService struct {
	DB *gorm.DB
}

func NewBlocklistService(db *gorm.DB) *BlocklistService {
	return &BlocklistService{DB: db}
}

// BlockedError reports a banned identity together with the moderation reason.
type BlockedError struct {
	Identity string
	Reason   string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("identity %s is blocked", e.Identity)
	}
	return fmt.Sprintf("identity %s is blocked: %s", e.Identity, e.Reason)
}

// IsBlocked reports whether a BlockedIdentity row exists for the identity.
func (s *BlocklistService) IsBlocked(identity string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.BlockedIdentity{}).
		Where("identity = ?", identity).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("blocklist lookup failed: %w", err)
	}
	return count > 0, nil
}

// AssertNotBlocked is a no-op for clean identities and returns *BlockedError
// (with the stored reason) otherwise.
func (s *BlocklistService) AssertNotBlocked(identity string) error {
	var entry models.BlockedIdentity
	err := s.DB.Where("identity = ?", identity).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("blocklist lookup failed: %w", err)
	}
	return &BlockedError{Identity: identity, Reason: entry.Reason}
}

// Block adds an identity to the blocklist. Blocking an already-blocked
// identity keeps the original row and reason.
func (s *BlocklistService) Block(identity, reason string) error {
	entry := models.BlockedIdentity{
		Identity: identity,
		Reason:   reason,
	}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&entry).Error
}

// Unblock removes the ban. Missing rows are not an error.
func (s *BlocklistService) Unblock(identity string) error {
	return s.DB.Where("identity = ?", identity).
		Delete(&models.BlockedIdentity{}).Error
}

// List returns the most recently blocked identities for the admin view.
func (s *BlocklistService) List(limit int) ([]models.BlockedIdentity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.BlockedIdentity
	err := s.DB.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
