// services/provisioning_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubscriptionProvider is the narrow seam to the external provisioning
// backend. EnsureProvisioned is idempotent and may be slow; the engine calls
// it strictly before opening the reward transaction. SyncState is
// best-effort and runs strictly after commit.
type SubscriptionProvider interface {
	EnsureProvisioned(ctx context.Context, user *models.User) error
	SyncState(ctx context.Context, user *models.User) error
}

// ProvisioningClient talks to the provisioning service over HTTP and keeps
// the local Subscription mirror seeded.
type ProvisioningClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
	DB      *gorm.DB
}

type provisionedSubscription struct {
	UserID    string     `json:"user_id"`
	PaidUntil *time.Time `json:"paid_until,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func NewProvisioningClient(baseURL, token string, db *gorm.DB) *ProvisioningClient {
	return &ProvisioningClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
		DB:      db,
	}
}

// EnsureProvisioned asks the provisioning service to create the user's
// subscription if it does not exist yet, then seeds the local mirror.
// The mirror insert is create-if-absent: an existing local row (possibly
// already extended) is never overwritten from here.
func (c *ProvisioningClient) EnsureProvisioned(ctx context.Context, user *models.User) error {
	url := fmt.Sprintf("%s/subscriptions/ensure", c.BaseURL)

	reqBody := map[string]interface{}{
		"user_id":  user.ID,
		"identity": user.Identity,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("provisioning ensure failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		log.Printf("Provisioning /subscriptions/ensure returned %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("provisioning ensure failed: %d", resp.StatusCode)
	}

	var out provisionedSubscription
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("provisioning ensure: bad response: %w", err)
	}

	sub := models.Subscription{
		UserID:    user.ID,
		PaidUntil: out.PaidUntil,
		ExpiresAt: out.ExpiresAt,
	}
	if err := c.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&sub).Error; err != nil {
		return fmt.Errorf("subscription mirror seed failed: %w", err)
	}
	return nil
}

// SyncState pushes the local paid-through state back to provisioning.
// Callers treat failures as log-only; the reward is already committed.
func (c *ProvisioningClient) SyncState(ctx context.Context, user *models.User) error {
	var sub models.Subscription
	if err := c.DB.Where("user_id = ?", user.ID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("no local subscription for user %s", user.ID)
		}
		return err
	}

	url := fmt.Sprintf("%s/subscriptions/sync", c.BaseURL)

	reqBody := map[string]interface{}{
		"user_id":    user.ID,
		"identity":   user.Identity,
		"paid_until": sub.PaidUntil,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("provisioning sync failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provisioning sync failed: %d", resp.StatusCode)
	}
	return nil
}
