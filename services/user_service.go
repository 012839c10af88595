// services/user_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserService maintains the local user mirror. Creation happens from the
// registration webhook; the sync worker keeps profiles fresh afterwards.
type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// RegistrationInput is the payload of the provisioning service's
// registration event. ReferredBy carries the inviter's identity directly;
// ReferralCodeUsed is the shareable code form, resolved here when
// ReferredBy is absent.
type RegistrationInput struct {
	Identity         string    `json:"identity"`
	Username         string    `json:"username"`
	ReferredBy       string    `json:"referred_by,omitempty"`
	ReferralCodeUsed string    `json:"referral_code_used,omitempty"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// RegisterUser upserts the mirror row for a newly registered user and
// returns it. Idempotent on identity: replays of the same registration
// event keep the original row (and its referral code).
func (s *UserService) RegisterUser(in RegistrationInput) (*models.User, error) {
	identity, err := utils.NormalizeIdentity(in.Identity)
	if err != nil {
		return nil, err
	}

	var referredBy *string
	if in.ReferredBy != "" {
		inviterIdentity, err := utils.NormalizeIdentity(in.ReferredBy)
		if err != nil {
			return nil, fmt.Errorf("referred_by: %w", err)
		}
		referredBy = &inviterIdentity
	} else if in.ReferralCodeUsed != "" {
		var inviter models.User
		err := s.DB.Where("referral_code = ?", in.ReferralCodeUsed).First(&inviter).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("referral code lookup: %w", err)
		}
		// Unknown codes register the user without a referrer.
		if err == nil {
			referredBy = &inviter.Identity
		}
	}

	registeredAt := in.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now().UTC()
	}

	user := models.User{
		Identity:     identity,
		Username:     in.Username,
		ReferralCode: utils.ReferralCode(in.Username),
		ReferredBy:   referredBy,
		RegisteredAt: registeredAt,
	}
	if err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoNothing: true,
	}).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("user upsert failed: %w", err)
	}

	// Re-read so replays return the persisted row, not the attempted one.
	var current models.User
	if err := s.DB.Where("identity = ?", identity).First(&current).Error; err != nil {
		return nil, fmt.Errorf("user read-back failed: %w", err)
	}
	return &current, nil
}

// GetByID fetches a user mirror row.
func (s *UserService) GetByID(id string) (*models.User, error) {
	var user models.User
	if err := s.DB.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
