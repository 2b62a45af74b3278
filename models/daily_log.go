package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DailyLogStatus values for SMS daily-log requests.
const (
	DailyLogPending  = "pending"
	DailyLogSent     = "sent"
	DailyLogReceived = "received"
	DailyLogFailed   = "failed"
)

// DailyLogRequest is a scheduled SMS asking a PM for a daily site log.
// An external sender advances it through sent/received, retrying up to
// MaxRetries before marking it failed.
type DailyLogRequest struct {
	ID        uint     `gorm:"primaryKey" json:"id"`
	ProjectID uint     `gorm:"not null;index" json:"project_id"`
	Project   *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`

	PmPhoneNumber string    `gorm:"size:20;not null" json:"pm_phone_number"`
	RequestDate   time.Time `gorm:"not null;index" json:"request_date"`
	RequestTime   string    `gorm:"size:10;not null;default:'16:00'" json:"request_time"` // local HH:MM

	RequestStatus string     `gorm:"size:50;not null;default:'pending';index" json:"request_status"`
	RetryCount    int        `gorm:"default:0" json:"retry_count"`
	MaxRetries    int        `gorm:"default:3" json:"max_retries"`
	LastError     string     `gorm:"type:text" json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ReceivedAt    *time.Time `json:"received_at,omitempty"`
	ReceivedNotes string     `gorm:"type:text" json:"received_notes,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// SmsConversation links an inbound contractor SMS thread to a payment
// application created through the SMS intake flow.
type SmsConversation struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Token        uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"token"`
	ContractorID uint      `gorm:"not null;index" json:"contractor_id"`
	PhoneNumber  string    `gorm:"size:20;not null" json:"phone_number"`

	LastInbound  datatypes.JSON `gorm:"type:jsonb" json:"last_inbound,omitempty"`
	LastOutbound datatypes.JSON `gorm:"type:jsonb" json:"last_outbound,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
