// workers/subscription_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncedUser matches one item of the provisioning service's change feed.
type SyncedUser struct {
	Identity     string     `json:"identity"`
	Username     string     `json:"username"`
	ReferredBy   *string    `json:"referred_by,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	PaidUntil    *time.Time `json:"paid_until,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// GetUserChangesResponse is the top-level structure of the change feed.
type GetUserChangesResponse struct {
	Users []SyncedUser `json:"users"`
}

// SubscriptionSyncWorker keeps the local user and subscription mirrors in
// step with the provisioning service. It never writes referral ledger or
// bonus guard rows — those belong exclusively to the reward transaction.
type SubscriptionSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewSubscriptionSyncWorker(db *gorm.DB, baseURL, endpointPath, serviceToken string) *SubscriptionSyncWorker {
	return &SubscriptionSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

func (w *SubscriptionSyncWorker) Start(ctx context.Context) {
	log.Println("Starting Subscription Sync Worker (provisioning → users/subscriptions)…")
	go w.run(ctx)
}

func (w *SubscriptionSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time.
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("[SYNC] Initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("[SYNC] Sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("[SYNC] Subscription Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime is the incremental watermark: the freshest updated_at in
// the local user mirror.
func (w *SubscriptionSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(updated_at) FROM users WHERE deleted_at IS NULL").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch fetches user changes since the watermark and upserts mirrors.
func (w *SubscriptionSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid provisioning base URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to provisioning service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provisioning service non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetUserChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode provisioning response: %w", err)
	}

	if len(response.Users) == 0 {
		return nil
	}

	log.Printf("[SYNC] Processing %d user change(s) since %s…", len(response.Users), sinceStr)

	var upsertCount, errorCount int
	for _, remote := range response.Users {
		identity, err := utils.NormalizeIdentity(remote.Identity)
		if err != nil {
			errorCount++
			log.Printf("[SYNC] Skipping change with bad identity %q: %v", remote.Identity, err)
			continue
		}

		// ReferredBy must be canonical too, or the engine's inviter
		// lookup by identity will never match this row.
		var referredBy *string
		if remote.ReferredBy != nil && *remote.ReferredBy != "" {
			inviterIdentity, err := utils.NormalizeIdentity(*remote.ReferredBy)
			if err != nil {
				errorCount++
				log.Printf("[SYNC] Skipping change with bad referred_by %q (identity=%q): %v", *remote.ReferredBy, identity, err)
				continue
			}
			referredBy = &inviterIdentity
		}

		localUser := models.User{
			Identity:     identity,
			Username:     remote.Username,
			ReferralCode: utils.ReferralCode(remote.Username),
			ReferredBy:   referredBy,
			RegisteredAt: remote.RegisteredAt,
		}
		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "registered_at", "updated_at",
			}),
		}).Create(&localUser).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] Failed to upsert user (identity=%q): %v", identity, err)
			continue
		}

		// Re-read for the persisted row id before touching the subscription.
		var persisted models.User
		if err := w.db.Where("identity = ?", identity).First(&persisted).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] Failed to read back user (identity=%q): %v", identity, err)
			continue
		}

		// ExpiresAt is provisioning-owned and always mirrored; PaidUntil is
		// only seeded on first sight so a committed reward extension is
		// never clobbered by the feed.
		sub := models.Subscription{
			UserID:    persisted.ID,
			PaidUntil: remote.PaidUntil,
			ExpiresAt: remote.ExpiresAt,
		}
		if err := w.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"expires_at", "updated_at",
			}),
		}).Create(&sub).Error; err != nil {
			errorCount++
			log.Printf("[SYNC] Failed to upsert subscription (identity=%q): %v", identity, err)
			continue
		}

		upsertCount++
	}

	log.Printf("[SYNC] Synced %d users (%d upserted, %d errors)", len(response.Users), upsertCount, errorCount)
	return nil
}
