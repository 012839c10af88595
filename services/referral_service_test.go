package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"referral-reward-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantRegistrationRewardApplied(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	svc := NewReferralService(db, provider)

	inviter := createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, inviter.Identity, outcome.InviterIdentity)
	assert.Empty(t, outcome.Reason)

	var ref models.Referral
	require.NoError(t, db.Where("invited_identity = ?", invited.Identity).First(&ref).Error)
	assert.True(t, ref.RewardGiven)
	assert.Equal(t, inviter.Identity, ref.InviterIdentity)

	flags, err := svc.Guard.GetOrCreateFlags(invited.Identity)
	require.NoError(t, err)
	assert.True(t, flags.HadReferralBonus)
	assert.False(t, flags.HadTrial)

	// Both parties extended by exactly one reward period from "now".
	for _, u := range []*models.User{invited, inviter} {
		var sub models.Subscription
		require.NoError(t, db.Where("user_id = ?", u.ID).First(&sub).Error)
		require.NotNil(t, sub.PaidUntil)
		expected := time.Now().UTC().AddDate(0, 0, ReferralRewardDays)
		assert.WithinDuration(t, expected, *sub.PaidUntil, time.Minute)
	}

	// Post-commit sync attempted for both parties.
	assert.ElementsMatch(t, []string{invited.ID, inviter.ID}, provider.syncedUserIDs)
}

func TestGrantRegistrationRewardIdempotent(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	svc := NewReferralService(db, provider)

	createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	first, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	require.True(t, first.Applied)

	var before models.Subscription
	require.NoError(t, db.Where("user_id = ?", invited.ID).First(&before).Error)

	for i := 0; i < 3; i++ {
		again, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
		require.NoError(t, err)
		assert.False(t, again.Applied)
		assert.Contains(t, []SkipReason{SkipAlreadyRewarded, SkipAntiAbuse}, again.Reason)
	}

	// Extended exactly once, not N times.
	var after models.Subscription
	require.NoError(t, db.Where("user_id = ?", invited.ID).First(&after).Error)
	require.NotNil(t, after.PaidUntil)
	assert.True(t, after.PaidUntil.Equal(*before.PaidUntil))

	var count int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestGrantRegistrationRewardConcurrent(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	svc := NewReferralService(db, provider)

	createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	const n = 4
	outcomes := make([]GrantOutcome, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.GrantRegistrationReward(context.Background(), invited.ID)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if outcomes[i].Applied {
			applied++
		} else {
			assert.Contains(t, []SkipReason{SkipAlreadyRewarded, SkipAntiAbuse}, outcomes[i].Reason)
		}
	}
	assert.Equal(t, 1, applied, "exactly one caller wins the reward")

	var sub models.Subscription
	require.NoError(t, db.Where("user_id = ?", invited.ID).First(&sub).Error)
	require.NotNil(t, sub.PaidUntil)
	expected := time.Now().UTC().AddDate(0, 0, ReferralRewardDays)
	assert.WithinDuration(t, expected, *sub.PaidUntil, time.Minute)
}

func TestGrantRegistrationRewardNoReferrer(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	invited := createUser(t, db, "200", nil)

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.Equal(t, Skipped(SkipNoReferrer), outcome)

	var refs, subs int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&refs).Error)
	require.NoError(t, db.Model(&models.Subscription{}).Count(&subs).Error)
	assert.Zero(t, refs)
	assert.Zero(t, subs)
}

func TestGrantRegistrationRewardSelfReferral(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	invited := createUser(t, db, "200", strPtr("200"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.Equal(t, Skipped(SkipSelfReferral), outcome)

	var refs int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&refs).Error)
	assert.Zero(t, refs)
}

func TestGrantRegistrationRewardInviterNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	invited := createUser(t, db, "200", strPtr("999"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.Equal(t, Skipped(SkipInviterNotFound), outcome)
}

func TestGrantRegistrationRewardBlocked(t *testing.T) {
	for _, blockedSide := range []string{"100", "200"} {
		t.Run("blocked "+blockedSide, func(t *testing.T) {
			db := setupTestDB(t)
			svc := NewReferralService(db, newFakeProvider(db))

			createUser(t, db, "100", nil)
			invited := createUser(t, db, "200", strPtr("100"))
			require.NoError(t, svc.Blocklist.Block(blockedSide, "fraud"))

			outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
			require.NoError(t, err)
			assert.Equal(t, Skipped(SkipBlocked), outcome)

			var refs, subs int64
			require.NoError(t, db.Model(&models.Referral{}).Count(&refs).Error)
			require.NoError(t, db.Model(&models.Subscription{}).Count(&subs).Error)
			assert.Zero(t, refs, "no ledger row for a blocked pair")
			assert.Zero(t, subs, "no subscription touched for a blocked pair")
		})
	}
}

func TestGrantRegistrationRewardProvisioningFailure(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	provider.ensureErr = errProvisioningDown
	svc := NewReferralService(db, provider)

	createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err, "a flaky backend degrades to a skip, not an error")
	assert.Equal(t, Skipped(SkipMissingSubscription), outcome)

	// Retry after the backend recovers succeeds.
	provider.ensureErr = nil
	outcome, err = svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
}

func TestGrantRegistrationRewardAntiAbuseSurvivesLedgerLoss(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	require.True(t, outcome.Applied)

	// Simulate data loss: hard-delete the ledger row out from under the
	// engine. The identity-keyed guard must still refuse a second grant.
	require.NoError(t, db.Unscoped().
		Where("invited_identity = ?", invited.Identity).
		Delete(&models.Referral{}).Error)

	outcome, err = svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.Equal(t, Skipped(SkipAntiAbuse), outcome)
}

func TestGrantRegistrationRewardReusesExistingUnrewardedRow(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	inviter := createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	// A concurrent invocation already created the row but never finalized.
	seed := models.Referral{
		InviterIdentity: inviter.Identity,
		InvitedIdentity: invited.Identity,
		RewardGiven:     false,
	}
	require.NoError(t, db.Create(&seed).Error)

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Applied)

	var count int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "existing row reused, not duplicated")

	var ref models.Referral
	require.NoError(t, db.Where("id = ?", seed.ID).First(&ref).Error)
	assert.True(t, ref.RewardGiven)
}

func TestGrantRegistrationRewardFinalizedRowSkips(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	inviter := createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	// Ledger says rewarded even though the guard flag is absent (e.g. a
	// partially restored backup). The ledger alone must block a re-grant.
	seed := models.Referral{
		InviterIdentity: inviter.Identity,
		InvitedIdentity: invited.Identity,
		RewardGiven:     true,
	}
	require.NoError(t, db.Create(&seed).Error)

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err)
	assert.Equal(t, Skipped(SkipAlreadyRewarded), outcome)
}

func TestGrantRegistrationRewardSyncFailureSwallowed(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	provider.syncErr = errProvisioningDown
	svc := NewReferralService(db, provider)

	createUser(t, db, "100", nil)
	invited := createUser(t, db, "200", strPtr("100"))

	outcome, err := svc.GrantRegistrationReward(context.Background(), invited.ID)
	require.NoError(t, err, "post-commit sync failures never surface")
	assert.True(t, outcome.Applied)

	var ref models.Referral
	require.NoError(t, db.Where("invited_identity = ?", invited.Identity).First(&ref).Error)
	assert.True(t, ref.RewardGiven, "reward stays committed despite sync failure")
}

func TestListInvitedFriends(t *testing.T) {
	db := setupTestDB(t)
	svc := NewReferralService(db, newFakeProvider(db))

	inviter := createUser(t, db, "100", nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, identity := range []string{"201", "202", "203"} {
		createUser(t, db, identity, strPtr("100"))
		ref := models.Referral{
			InviterIdentity: inviter.Identity,
			InvitedIdentity: identity,
			RewardGiven:     i%2 == 0,
			Timestamps: models.Timestamps{
				CreatedAt: base.Add(time.Duration(i) * time.Hour),
			},
		}
		require.NoError(t, db.Create(&ref).Error)
	}

	friends, err := svc.ListInvitedFriends(inviter.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, friends, 3)

	// Newest first.
	assert.Equal(t, "203", friends[0].InvitedIdentity)
	assert.Equal(t, "202", friends[1].InvitedIdentity)
	assert.Equal(t, "201", friends[2].InvitedIdentity)
	assert.True(t, friends[0].RewardGiven)
	assert.False(t, friends[1].RewardGiven)
	require.NotNil(t, friends[0].RegisteredAt)

	// Paging.
	page1, err := svc.ListInvitedFriends(inviter.ID, 1, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "203", page1[0].InvitedIdentity)

	page2, err := svc.ListInvitedFriends(inviter.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "201", page2[0].InvitedIdentity)

	// Strangers see nothing.
	stranger := createUser(t, db, "300", nil)
	none, err := svc.ListInvitedFriends(stranger.ID, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGrantRegistrationRewardSharedInviterAccumulates(t *testing.T) {
	db := setupTestDB(t)
	provider := newFakeProvider(db)
	svc := NewReferralService(db, provider)

	inviter := createUser(t, db, "100", nil)
	invitedA := createUser(t, db, "201", strPtr("100"))
	invitedB := createUser(t, db, "202", strPtr("100"))

	var wg sync.WaitGroup
	outcomes := make([]GrantOutcome, 2)
	errs := make([]error, 2)
	for i, u := range []*models.User{invitedA, invitedB} {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.GrantRegistrationReward(context.Background(), userID)
		}(i, u.ID)
	}
	wg.Wait()

	for i := range outcomes {
		require.NoError(t, errs[i])
		assert.True(t, outcomes[i].Applied, "grant %d", i)
	}

	// The inviter's extensions must stack: the locked reload guarantees the
	// second grant sees the first one's paid_until, never a stale copy.
	var inviterSub models.Subscription
	require.NoError(t, db.Where("user_id = ?", inviter.ID).First(&inviterSub).Error)
	require.NotNil(t, inviterSub.PaidUntil)
	expected := time.Now().UTC().AddDate(0, 0, 2*ReferralRewardDays)
	assert.WithinDuration(t, expected, *inviterSub.PaidUntil, time.Minute)

	// Each invited user got exactly one period.
	for _, u := range []*models.User{invitedA, invitedB} {
		var sub models.Subscription
		require.NoError(t, db.Where("user_id = ?", u.ID).First(&sub).Error)
		require.NotNil(t, sub.PaidUntil)
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, ReferralRewardDays), *sub.PaidUntil, time.Minute)
	}
}
