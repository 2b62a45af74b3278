package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// PaymentAppStatus is the lifecycle status of a payment application.
type PaymentAppStatus string

const (
	PaymentStatusSubmitted   PaymentAppStatus = "submitted"
	PaymentStatusNeedsReview PaymentAppStatus = "needs_review"
	PaymentStatusSmsSent     PaymentAppStatus = "sms_sent"
	PaymentStatusApproved    PaymentAppStatus = "approved"
	PaymentStatusRejected    PaymentAppStatus = "rejected"
	PaymentStatusCheckReady  PaymentAppStatus = "check_ready"
)

// Terminal reports whether the status closes the financial figures.
// Rejected applications can be resubmitted, so they are not terminal.
func (s PaymentAppStatus) Terminal() bool {
	return s == PaymentStatusApproved || s == PaymentStatusCheckReady
}

// Open reports whether the application is still awaiting a decision.
func (s PaymentAppStatus) Open() bool {
	return s == PaymentStatusSubmitted || s == PaymentStatusNeedsReview || s == PaymentStatusSmsSent
}

// PaymentApplication is a contractor's periodic request for payment against
// a contract, tracked through the review/approval lifecycle.
type PaymentApplication struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	ProjectID    uint               `gorm:"not null;index" json:"project_id"`
	Project      *Project           `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	ContractorID uint               `gorm:"not null;index" json:"contractor_id"`
	Contractor   *Contractor        `gorm:"foreignKey:ContractorID" json:"contractor,omitempty"`
	ContractID   uint               `gorm:"not null;index" json:"contract_id"`
	Contract     *ProjectContractor `gorm:"foreignKey:ContractID" json:"contract,omitempty"`

	Status PaymentAppStatus `gorm:"size:50;not null;default:'submitted';index" json:"status"`

	// CurrentPayment is the amount requested this cycle;
	// CurrentPeriodValue is the authoritative amount used for spend
	// aggregation. Both must equal the sum of line-item calculated amounts.
	CurrentPayment      float64 `gorm:"type:decimal(15,2);default:0" json:"current_payment"`
	CurrentPeriodValue  float64 `gorm:"type:decimal(15,2);default:0" json:"current_period_value"`
	PreviousPayments    float64 `gorm:"type:decimal(15,2);default:0" json:"previous_payments"`
	TotalContractAmount float64 `gorm:"type:decimal(15,2);default:0" json:"total_contract_amount"`

	PaymentPeriodEnd *time.Time `json:"payment_period_end,omitempty"`

	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ApprovedBy     string     `gorm:"size:255" json:"approved_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	RejectedBy     string     `gorm:"size:255" json:"rejected_by,omitempty"`
	RejectionNotes string     `gorm:"type:text" json:"rejection_notes,omitempty"`

	PmNotes                 string `gorm:"type:text" json:"pm_notes,omitempty"`
	PmVerificationCompleted bool   `gorm:"default:false" json:"pm_verification_completed"`
	PhotosUploadedCount     int    `gorm:"default:0" json:"photos_uploaded_count"`
	LienWaiverRequired      bool   `gorm:"default:false" json:"lien_waiver_required"`

	LineProgress []LineItemProgress `gorm:"foreignKey:PaymentAppID" json:"line_progress,omitempty"`
	Document     *PaymentDocument   `gorm:"foreignKey:PaymentAppID" json:"document,omitempty"`

	SmsConversationID *uint `gorm:"index" json:"sms_conversation_id,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// LineItemProgress records per-line-item completion percentages and the
// amount derived from them for one payment application.
type LineItemProgress struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PaymentAppID uint      `gorm:"not null;index" json:"payment_app_id"`
	LineItemID   uint      `gorm:"not null;index" json:"line_item_id"`
	LineItem     *LineItem `gorm:"foreignKey:LineItemID" json:"line_item,omitempty"`

	PreviousPercent   float64 `gorm:"type:decimal(5,2);default:0" json:"previous_percent"`
	SubmittedPercent  float64 `gorm:"type:decimal(5,2);default:0" json:"submitted_percent"`
	PmVerifiedPercent float64 `gorm:"type:decimal(5,2);default:0" json:"pm_verified_percent"`
	ThisPeriodPercent float64 `gorm:"type:decimal(5,2);default:0" json:"this_period_percent"`

	// CalculatedAmount = (this_period_percent / 100) * line item scheduled
	// value. Recomputed transactionally whenever a percent changes.
	CalculatedAmount float64 `gorm:"type:decimal(15,2);default:0" json:"calculated_amount"`

	VerificationPhotosCount int            `gorm:"default:0" json:"verification_photos_count"`
	VerificationPhotoURLs   pq.StringArray `gorm:"type:text[]" json:"verification_photo_urls,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PaymentDocument is the generated pay-app PDF routed for e-signature.
// Zero or one per payment application.
type PaymentDocument struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PaymentAppID uint      `gorm:"not null;uniqueIndex" json:"payment_app_id"`
	EnvelopeID   uuid.UUID `gorm:"type:uuid" json:"envelope_id"`
	DocumentURL  string    `gorm:"size:500" json:"document_url"`

	// sent, delivered, signed, declined, voided. Advanced by polling the
	// signature provider, not by this service.
	SignatureStatus string `gorm:"size:50;not null;default:'sent'" json:"signature_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
