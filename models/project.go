package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project represents a construction project being tracked on the dashboard.
type Project struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	ClientName string `gorm:"size:255" json:"client_name"`
	Phase      string `gorm:"size:100" json:"phase"` // free-text phase label
	AtRisk     bool   `gorm:"default:false" json:"at_risk"`

	// Stored budget figures are advisory caches. The roll-up calculator
	// recomputes the authoritative numbers from active contracts and
	// approved payment applications, and overwrites these.
	Budget float64 `gorm:"type:decimal(15,2);default:0" json:"budget"`
	Spent  float64 `gorm:"type:decimal(15,2);default:0" json:"spent"`

	Status string `gorm:"size:50;not null;default:'active';index" json:"status"` // active, on-hold, completed

	// Site boundary polygon ({"coordinates": [{"lat":..,"lng":..}, ...]})
	// used to validate that verification photos were taken on site.
	SiteBoundary datatypes.JSON `gorm:"type:jsonb" json:"site_boundary,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
