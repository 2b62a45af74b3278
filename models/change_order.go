package models

import (
	"time"

	"gorm.io/gorm"
)

// ChangeOrderStatus values.
const (
	ChangeOrderPending  = "pending"
	ChangeOrderApproved = "approved"
	ChangeOrderRejected = "rejected"
)

// ChangeOrder is a proposed modification to contract scope/cost. Pending
// change orders feed the decision queue alongside payment applications.
type ChangeOrder struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	ProjectID    uint        `gorm:"not null;index" json:"project_id"`
	Project      *Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ContractorID uint        `gorm:"not null;index" json:"contractor_id"`
	Contractor   *Contractor `gorm:"foreignKey:ContractorID" json:"contractor,omitempty"`

	CoNumber           string  `gorm:"size:50;not null" json:"co_number"`
	CostImpact         float64 `gorm:"type:decimal(15,2);default:0" json:"cost_impact"`
	Status             string  `gorm:"size:50;not null;default:'pending';index" json:"status"`
	ScheduleImpactDays int     `gorm:"default:0" json:"schedule_impact_days"`
	ReasonCategory     string  `gorm:"size:100" json:"reason_category"` // owner_request, design_change, field_condition, ...

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `gorm:"size:255" json:"approved_by,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
