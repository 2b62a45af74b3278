package models

import (
	"time"

	"gorm.io/gorm"
)

// ComplianceStatus values for contractor insurance/license checks.
const (
	ComplianceValid   = "valid"
	ComplianceInvalid = "invalid"
)

// Contractor represents a trade contractor that can hold contracts on
// one or more projects.
type Contractor struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"size:255;not null" json:"name"`
	Trade  string `gorm:"size:100" json:"trade"`
	Phone  string `gorm:"size:20" json:"phone"`
	Email  string `gorm:"size:255" json:"email"`
	Status string `gorm:"size:50;not null;default:'pending';index" json:"status"` // active, inactive, pending

	InsuranceStatus string `gorm:"size:20;default:'invalid'" json:"insurance_status"` // valid | invalid
	LicenseStatus   string `gorm:"size:20;default:'invalid'" json:"license_status"`   // valid | invalid

	PerformanceScore float64 `gorm:"type:decimal(3,1);default:0" json:"performance_score"` // 0-5

	Contracts []ProjectContractor `gorm:"foreignKey:ContractorID" json:"contracts,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Compliant reports whether both insurance and license are currently valid.
func (c *Contractor) Compliant() bool {
	return c.InsuranceStatus == ComplianceValid && c.LicenseStatus == ComplianceValid
}
