package models

import (
	"time"

	"gorm.io/gorm"
)

// ProjectContractor is a contract row linking a contractor to a project.
type ProjectContractor struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	ProjectID    uint        `gorm:"not null;index" json:"project_id"`
	Project      *Project    `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ContractorID uint        `gorm:"not null;index" json:"contractor_id"`
	Contractor   *Contractor `gorm:"foreignKey:ContractorID" json:"contractor,omitempty"`

	ContractAmount         float64 `gorm:"type:decimal(15,2);not null;default:0" json:"contract_amount"`
	OriginalContractAmount float64 `gorm:"type:decimal(15,2);not null;default:0" json:"original_contract_amount"`

	// PaidToDate is advisory only. Authoritative spend is derived from
	// approved payment applications by the roll-up calculator.
	PaidToDate float64 `gorm:"type:decimal(15,2);default:0" json:"paid_to_date"`

	ContractStatus      string `gorm:"size:50;not null;default:'active';index" json:"contract_status"` // active, inactive
	ChangeOrdersPending bool   `gorm:"default:false" json:"change_orders_pending"`

	LineItems []LineItem `gorm:"foreignKey:ContractID" json:"line_items,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LineItem is a discrete scope-of-work entry on a contract. Its scheduled
// value is the base for line-item progress amounts on payment applications.
type LineItem struct {
	ID             uint    `gorm:"primaryKey" json:"id"`
	ContractID     uint    `gorm:"not null;index" json:"contract_id"`
	Description    string  `gorm:"size:500;not null" json:"description"`
	CostCode       string  `gorm:"size:50" json:"cost_code"`
	ScheduledValue float64 `gorm:"type:decimal(15,2);not null;default:0" json:"scheduled_value"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
