package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"referral-reward-system/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// One pooled connection: concurrent transactions serialize at the pool
	// instead of tripping sqlite's writer locking, so outcome correctness
	// comes from the engine's own guards.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

// fakeProvider implements SubscriptionProvider against the local mirror
// only. It records sync calls and can be told to fail either operation.
type fakeProvider struct {
	db *gorm.DB

	mu            sync.Mutex
	ensureErr     error
	syncErr       error
	syncedUserIDs []string

	initialPaidUntil *time.Time
	initialExpiresAt *time.Time
}

func newFakeProvider(db *gorm.DB) *fakeProvider {
	return &fakeProvider{db: db}
}

func (p *fakeProvider) EnsureProvisioned(ctx context.Context, user *models.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensureErr != nil {
		return p.ensureErr
	}
	sub := models.Subscription{
		UserID:    user.ID,
		PaidUntil: p.initialPaidUntil,
		ExpiresAt: p.initialExpiresAt,
	}
	return p.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&sub).Error
}

func (p *fakeProvider) SyncState(ctx context.Context, user *models.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncErr != nil {
		return p.syncErr
	}
	p.syncedUserIDs = append(p.syncedUserIDs, user.ID)
	return nil
}

func createUser(t *testing.T, db *gorm.DB, identity string, referredBy *string) *models.User {
	t.Helper()
	user := models.User{
		Identity:     identity,
		Username:     "user-" + identity,
		ReferralCode: "code-" + identity,
		ReferredBy:   referredBy,
		RegisteredAt: time.Now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", identity, err)
	}
	return &user
}

func strPtr(s string) *string { return &s }

var errProvisioningDown = errors.New("provisioning unreachable")
