// services/referral_service.go
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

// SkipReason is the closed set of non-error outcomes of a reward grant.
// Callers branch on these; none of them is a failure.
type SkipReason string

const (
	SkipNoReferrer          SkipReason = "no_referrer"
	SkipInviterNotFound     SkipReason = "inviter_not_found"
	SkipSelfReferral        SkipReason = "self_referral"
	SkipAlreadyRewarded     SkipReason = "already_rewarded"
	SkipMissingSubscription SkipReason = "missing_subscription"
	SkipBlocked             SkipReason = "blocked"
	SkipAntiAbuse           SkipReason = "anti_abuse"
)

// GrantOutcome is the tagged result of GrantRegistrationReward: either
// Applied with the inviter's identity, or Skipped with one of the seven
// reasons above.
type GrantOutcome struct {
	Applied         bool       `json:"applied"`
	Reason          SkipReason `json:"reason,omitempty"`
	InviterIdentity string     `json:"inviter_identity,omitempty"`
}

func Applied(inviterIdentity string) GrantOutcome {
	return GrantOutcome{Applied: true, InviterIdentity: inviterIdentity}
}

func Skipped(reason SkipReason) GrantOutcome {
	return GrantOutcome{Reason: reason}
}

// errRewardAborted signals a deliberate rollback of the reward transaction;
// the outcome captured alongside it is the result, not an error.
var errRewardAborted = errors.New("reward transaction aborted")

type ReferralService struct {
	DB        *gorm.DB
	Provider  SubscriptionProvider
	Blocklist *BlocklistService
	Guard     *BonusGuardService
}

func NewReferralService(db *gorm.DB, provider SubscriptionProvider) *ReferralService {
	return &ReferralService{
		DB:        db,
		Provider:  provider,
		Blocklist: NewBlocklistService(db),
		Guard:     NewBonusGuardService(db),
	}
}

// GrantRegistrationReward grants the one-shot referral reward to both the
// invited user and their inviter, exactly once per invited identity no
// matter how many times (or how concurrently) it is called.
//
// Exactly-once is enforced twice: by the unique index on
// referrals.invited_identity, and by the conditional reward_given flip at
// the end of the transaction. Either guard alone suffices; together they
// hold even below serializable isolation.
func (s *ReferralService) GrantRegistrationReward(ctx context.Context, invitedUserID string) (GrantOutcome, error) {
	var invited models.User
	if err := s.DB.Where("id = ?", invitedUserID).First(&invited).Error; err != nil {
		return GrantOutcome{}, fmt.Errorf("invited user %s: %w", invitedUserID, err)
	}

	if invited.ReferredBy == nil || *invited.ReferredBy == "" {
		return Skipped(SkipNoReferrer), nil
	}
	if *invited.ReferredBy == invited.Identity {
		return Skipped(SkipSelfReferral), nil
	}

	var inviter models.User
	err := s.DB.Where("identity = ?", *invited.ReferredBy).First(&inviter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Skipped(SkipInviterNotFound), nil
	}
	if err != nil {
		return GrantOutcome{}, fmt.Errorf("inviter lookup: %w", err)
	}

	for _, identity := range []string{invited.Identity, inviter.Identity} {
		blocked, err := s.Blocklist.IsBlocked(identity)
		if err != nil {
			return GrantOutcome{}, err
		}
		if blocked {
			return Skipped(SkipBlocked), nil
		}
	}

	// Provisioning talks to the network, so it runs strictly before the
	// transaction opens. A flaky backend degrades to "try again later".
	for _, u := range []*models.User{&invited, &inviter} {
		if err := s.Provider.EnsureProvisioned(ctx, u); err != nil {
			log.Printf("Provisioning failed for user %s: %v", u.ID, err)
			return Skipped(SkipMissingSubscription), nil
		}
	}

	outcome := Applied(inviter.Identity)

	txErr := s.DB.Transaction(func(tx *gorm.DB) error {
		flags, err := s.Guard.GetOrCreateFlagsTx(tx, invited.Identity)
		if err != nil {
			return err
		}
		if flags.HadReferralBonus {
			outcome = Skipped(SkipAntiAbuse)
			return errRewardAborted
		}

		ref, err := s.findOrCreateReferral(tx, inviter.Identity, invited.Identity)
		if err != nil {
			return err
		}
		if ref == nil || ref.RewardGiven {
			outcome = Skipped(SkipAlreadyRewarded)
			return errRewardAborted
		}

		now := time.Now().UTC()
		for _, u := range []*models.User{&invited, &inviter} {
			// Row lock: concurrent grants for different invitees can share
			// an inviter, and both extensions must land.
			var sub models.Subscription
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", u.ID).First(&sub).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = Skipped(SkipMissingSubscription)
				return errRewardAborted
			}
			if err != nil {
				return err
			}

			newPaidUntil := ComputeNewPaidUntil(&sub, now, ReferralRewardDays)
			if err := tx.Model(&models.Subscription{}).
				Where("id = ?", sub.ID).
				Update("paid_until", newPaidUntil).Error; err != nil {
				return err
			}
		}

		// Conditional finalize: the compare-and-set that makes a concurrent
		// winner visible. Zero rows affected means someone else already
		// flipped the flag — every write above must be discarded.
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND reward_given = ?", ref.ID, false).
			Update("reward_given", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			outcome = Skipped(SkipAlreadyRewarded)
			return errRewardAborted
		}

		return s.Guard.MarkReferralBonusGrantedTx(tx, invited.Identity)
	})

	if errors.Is(txErr, errRewardAborted) {
		return outcome, nil
	}
	if txErr != nil {
		return GrantOutcome{}, fmt.Errorf("reward transaction failed: %w", txErr)
	}

	// The reward is durable at this point; sync failures are log-only.
	for _, u := range []*models.User{&invited, &inviter} {
		if err := s.Provider.SyncState(ctx, u); err != nil {
			log.Printf("Post-reward sync failed for user %s: %v", u.ID, err)
		}
	}

	return outcome, nil
}

// findOrCreateReferral returns the ledger row for the invited identity,
// creating it with reward_given=false if absent. A duplicate-key conflict
// means a concurrent invocation created the row first; the insert is rolled
// back to a savepoint (a failed statement would otherwise poison the whole
// Postgres transaction) and the existing row is re-read, with one retry to
// ride out read lag. A nil row after that is the known concurrent-winner
// race and callers classify it as already_rewarded.
func (s *ReferralService) findOrCreateReferral(tx *gorm.DB, inviterIdentity, invitedIdentity string) (*models.Referral, error) {
	var ref models.Referral
	err := tx.Where("invited_identity = ?", invitedIdentity).First(&ref).Error
	if err == nil {
		return &ref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ref = models.Referral{
		InviterIdentity: inviterIdentity,
		InvitedIdentity: invitedIdentity,
		RewardGiven:     false,
	}
	if err := tx.SavePoint("referral_insert").Error; err != nil {
		return nil, err
	}
	createErr := tx.Create(&ref).Error
	if createErr == nil {
		return &ref, nil
	}
	if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
		return nil, createErr
	}
	if err := tx.RollbackTo("referral_insert").Error; err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		var existing models.Referral
		err := tx.Where("invited_identity = ?", invitedIdentity).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// InvitedFriend is one row of a user's outgoing referral history.
type InvitedFriend struct {
	InvitedIdentity string     `json:"invited_identity"`
	RegisteredAt    *time.Time `json:"registered_at,omitempty"`
	RewardGiven     bool       `json:"reward_given"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DefaultFriendPageSize bounds ListInvitedFriends when the caller does not
// override the page size.
const DefaultFriendPageSize = 50

// ListInvitedFriends returns the user's outgoing referrals, newest first.
// Read-only.
func (s *ReferralService) ListInvitedFriends(inviterUserID string, page, size int) ([]InvitedFriend, error) {
	var inviter models.User
	if err := s.DB.Where("id = ?", inviterUserID).First(&inviter).Error; err != nil {
		return nil, fmt.Errorf("inviter user %s: %w", inviterUserID, err)
	}

	if size <= 0 || size > 200 {
		size = DefaultFriendPageSize
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * size

	var friends []InvitedFriend
	err := s.DB.Raw(`
		SELECT r.invited_identity, u.registered_at, r.reward_given, r.created_at
		FROM referrals r
		LEFT JOIN users u ON u.identity = r.invited_identity AND u.deleted_at IS NULL
		WHERE r.inviter_identity = ? AND r.deleted_at IS NULL
		ORDER BY r.created_at DESC
		LIMIT ? OFFSET ?
	`, inviter.Identity, size, offset).Scan(&friends).Error
	if err != nil {
		return nil, fmt.Errorf("friend list query failed: %w", err)
	}
	return friends, nil
}
