package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Config holds everything the service reads from the environment.
type Config struct {
	Port        string
	DatabaseDSN string

	RedisAddr string
	CacheTTL  time.Duration

	SmsGatewayURL   string
	SmsAPIKey       string
	EsignGatewayURL string
	EsignAPIKey     string

	// Decision-queue thresholds.
	UrgentAgeDays        int
	HighValueChangeOrder float64
}

// Load reads the .env file (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Port:                 getenv("PORT", "8080"),
		DatabaseDSN:          os.Getenv("DB_DSN"),
		RedisAddr:            getenv("REDIS_ADDR", "localhost:6379"),
		CacheTTL:             getenvDuration("CACHE_TTL", 45*time.Second),
		SmsGatewayURL:        os.Getenv("SMS_GATEWAY_URL"),
		SmsAPIKey:            os.Getenv("SMS_API_KEY"),
		EsignGatewayURL:      os.Getenv("ESIGN_GATEWAY_URL"),
		EsignAPIKey:          os.Getenv("ESIGN_API_KEY"),
		UrgentAgeDays:        getenvInt("QUEUE_URGENT_AGE_DAYS", 3),
		HighValueChangeOrder: getenvFloat("QUEUE_HIGH_VALUE_CO", 25000),
	}
}

// Connect opens the database, runs migrations, and seeds the initial
// admin account. The returned handle is passed explicitly to every
// service that needs it.
func Connect(cfg *Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := Migrations(db); err != nil {
		return nil, err
	}

	if err := SeedAdminUser(db); err != nil {
		log.Printf("Warning: seeding encountered issues: %v", err)
	}

	return db, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Warning: invalid %s=%q, using %g", key, v, fallback)
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Warning: invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}
