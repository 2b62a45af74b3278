package payflow

import (
	"context"

	"github.com/google/uuid"
)

// Role is the opaque caller role attached to every mutating operation.
type Role string

const (
	RoleAdmin      Role = "admin"
	RolePM         Role = "pm"
	RoleContractor Role = "contractor"
	RoleViewer     Role = "viewer"
)

// CanReview reports whether the role may open, approve or reject
// payment applications.
func (r Role) CanReview() bool {
	return r == RoleAdmin || r == RolePM
}

// Actor is the authenticated caller performing an operation.
type Actor struct {
	UserID string
	Name   string
	Role   Role
}

// MessageResult is the outcome of a single SMS/email send.
type MessageResult struct {
	Delivered  bool   `json:"delivered"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SmsGateway sends reminder and intake messages. Implementations must
// surface delivery failures to the caller, never swallow them.
type SmsGateway interface {
	Send(ctx context.Context, to, body string) (*MessageResult, error)
}

// Envelope is the result of routing a payment application for e-signature.
type Envelope struct {
	EnvelopeID  uuid.UUID `json:"envelope_id"`
	DocumentURL string    `json:"document_url"`
}

// SignatureGateway generates the pay-app PDF and routes it for signature.
// Completion is reported asynchronously via PaymentDocument.SignatureStatus.
type SignatureGateway interface {
	RequestSignature(ctx context.Context, paymentAppID uint) (*Envelope, error)
}
