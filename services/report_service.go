// services/report_service.go
package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log"
	"strconv"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// ReportService exports daily CSV snapshots of the referral ledger to R2
// for the growth team. Export failures are logged and retried on the next
// tick, never fatal.
type ReportService struct {
	DB *gorm.DB
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{DB: db}
}

func (s *ReportService) StartExportScheduler() {
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Printf("[Reports] Scheduler init failed, export disabled: %v", err)
		return
	}
	sched.Start()

	if _, err := sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := s.ExportLedger(time.Now().UTC()); err != nil {
				log.Printf("[Reports] Ledger export failed: %v", err)
			}
		}),
	); err != nil {
		log.Printf("[Reports] Export job registration failed: %v", err)
	}
}

// ExportLedger writes the full referral ledger as CSV and uploads it under
// reports/referrals-YYYY-MM-DD.csv.
func (s *ReportService) ExportLedger(now time.Time) error {
	var referrals []models.Referral
	if err := s.DB.Order("created_at ASC").Find(&referrals).Error; err != nil {
		return fmt.Errorf("ledger query failed: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"id", "inviter_identity", "invited_identity", "reward_given", "created_at"})
	for _, r := range referrals {
		_ = w.Write([]string{
			r.ID,
			r.InviterIdentity,
			r.InvitedIdentity,
			strconv.FormatBool(r.RewardGiven),
			r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("csv write failed: %w", err)
	}

	key := fmt.Sprintf("reports/referrals-%s.csv", now.Format("2006-01-02"))
	if err := utils.UploadBytesToR2(buf.Bytes(), key, "text/csv"); err != nil {
		return err
	}

	log.Printf("[Reports] Exported %d referral rows to %s", len(referrals), key)
	return nil
}
