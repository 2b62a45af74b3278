package config

import (
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/buildrite/sitedash/models"
)

// SeedAdminUser creates the initial admin account when the users table is
// empty. Password comes from ADMIN_PASSWORD; without it, seeding is
// skipped so a fresh deploy never gets a known default credential.
func SeedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Println("ADMIN_PASSWORD not set, skipping admin user seeding")
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		Name:         "Administrator",
		Email:        getenv("ADMIN_EMAIL", "admin@sitedash.local"),
		Phone:        getenv("ADMIN_PHONE", "+10000000000"),
		PasswordHash: string(hash),
		Role:         "admin",
		IsActive:     true,
	}
	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	log.Println("Seeded initial admin user:", admin.Email)
	return nil
}
