package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every table this service owns or mirrors.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Referral{},
		&BonusGuardEntry{},
		&BlockedIdentity{},
		&Subscription{},
	)
}
