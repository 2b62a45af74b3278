package config

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

func Migrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250412_create_core_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.User{}, &models.Project{}, &models.Contractor{},
					&models.ProjectContractor{}, &models.LineItem{}, &models.PaymentApplication{},
					&models.LineItemProgress{}, &models.PaymentDocument{}, &models.ChangeOrder{})
			},
		},
		{
			ID: "20250508_add_daily_log_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.DailyLogRequest{}, &models.SmsConversation{})
			},
		},
		{
			ID: "20250601_add_notifications",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.Notification{})
			},
		},
		{
			ID: "20250619_backfill_current_period_value",
			Migrate: func(tx *gorm.DB) error {
				// Older rows only carried current_payment; the roll-up
				// aggregates current_period_value.
				return tx.Exec(`UPDATE payment_applications
					SET current_period_value = current_payment
					WHERE current_period_value = 0 AND current_payment <> 0`).Error
			},
		},
	})

	return m.Migrate()
}
