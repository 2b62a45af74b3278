package models

import (
	"time"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotificationTypePaymentApproved  NotificationType = "payment_approved"
	NotificationTypePaymentRejected  NotificationType = "payment_rejected"
	NotificationTypePaymentStale     NotificationType = "payment_stale"
	NotificationTypeSignatureRequest NotificationType = "signature_request"
	NotificationTypeDailyLogFailed   NotificationType = "daily_log_failed"
)

// NotificationStatus defines the status of a notification
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusRead    NotificationStatus = "read"
	NotificationStatusFailed  NotificationStatus = "failed"
)

// NotificationPriority defines the priority level
type NotificationPriority string

const (
	NotificationPriorityLow      NotificationPriority = "low"
	NotificationPriorityNormal   NotificationPriority = "normal"
	NotificationPriorityHigh     NotificationPriority = "high"
	NotificationPriorityCritical NotificationPriority = "critical"
)

// Notification is an in-app notification row written on lifecycle events
// (approval, rejection, failed daily logs).
type Notification struct {
	ID       uint                 `gorm:"primaryKey" json:"id"`
	UserID   uint                 `gorm:"not null;index" json:"user_id"`
	Type     NotificationType     `gorm:"size:50;not null" json:"type"`
	Title    string               `gorm:"size:255;not null" json:"title"`
	Body     string               `gorm:"type:text" json:"body"`
	Status   NotificationStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Priority NotificationPriority `gorm:"size:20;not null;default:'normal'" json:"priority"`

	// Deep-link target for the UI.
	EntityType string `gorm:"size:50" json:"entity_type,omitempty"` // payment_application, change_order, daily_log
	EntityID   uint   `gorm:"index" json:"entity_id,omitempty"`

	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
