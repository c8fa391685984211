package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a ConsentRequest.
type RequestStatus string

const (
	RequestStatusSubmitted        RequestStatus = "submitted"
	RequestStatusPatientNotified  RequestStatus = "patient_notified"
	RequestStatusApproved         RequestStatus = "approved"
	RequestStatusRejected         RequestStatus = "rejected"
	RequestStatusExpired          RequestStatus = "expired"
	RequestStatusWithdrawn        RequestStatus = "withdrawn"
	RequestStatusEmergencyGranted RequestStatus = "emergency_granted"
)

// IsTerminal reports whether no further transition is permitted from the
// status. Terminal requests are retained for audit, never deleted.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusExpired,
		RequestStatusWithdrawn, RequestStatusEmergencyGranted:
		return true
	default:
		return false
	}
}

// requestTransitions is the single source of truth for legal request state
// transitions. Call sites must not re-implement this table.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusSubmitted: {
		RequestStatusPatientNotified,
		RequestStatusEmergencyGranted,
		RequestStatusExpired,
		RequestStatusWithdrawn,
	},
	RequestStatusPatientNotified: {
		RequestStatusApproved,
		RequestStatusRejected,
		RequestStatusExpired,
		RequestStatusWithdrawn,
	},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s RequestStatus) CanTransitionTo(target RequestStatus) bool {
	for _, t := range requestTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ConsentRequest is a requester's formal ask to access a patient's data for
// a stated purpose. Created by request intake, mutated only by the decision
// gate and the lifecycle sweeper.
type ConsentRequest struct {
	// RequestID is the unique identifier for the consent request
	RequestID uuid.UUID `gorm:"column:request_id;type:uuid;primaryKey" json:"request_id"`
	// PatientID references the subject patient in the profile directory
	PatientID string `gorm:"column:patient_id;type:varchar(255);not null;index:idx_consent_requests_patient_id" json:"patient_id"`
	// RequesterID references the requesting organization/staff account
	RequesterID string `gorm:"column:requester_id;type:varchar(255);not null;index:idx_consent_requests_requester_id" json:"requester_id"`
	// RequesterType classifies the requester: hospital, insurer, researcher, legal, internal_staff
	RequesterType string `gorm:"column:requester_type;type:varchar(50);not null" json:"requester_type"`
	// RequesterOrg is the requesting organization's display name
	RequesterOrg string `gorm:"column:requester_org;type:varchar(255);not null" json:"requester_org"`
	// Purpose is the stated purpose of the access request
	Purpose string `gorm:"column:purpose;type:text;not null" json:"purpose"`
	// Categories is the requested set of data categories (closed vocabulary)
	Categories []DataCategory `gorm:"column:categories;type:jsonb;serializer:json;not null" json:"categories"`
	// Urgency is the request urgency: normal, urgent, emergency
	Urgency string `gorm:"column:urgency;type:varchar(50);not null" json:"urgency"`
	// Justification is the requester's supporting rationale
	Justification string `gorm:"column:justification;type:text" json:"justification"`
	// ValidFrom / ValidUntil bound the requested validity window
	ValidFrom  time.Time `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidUntil time.Time `gorm:"column:valid_until;not null" json:"valid_until"`
	// RequestedMaxAccessCount is an optional requester-supplied quota cap,
	// honored only when tighter than the policy default
	RequestedMaxAccessCount *int64 `gorm:"column:requested_max_access_count" json:"requested_max_access_count,omitempty"`
	// ExternalRef is an optional external reference number
	ExternalRef *string `gorm:"column:external_ref;type:varchar(255)" json:"external_ref,omitempty"`
	// Status is the lifecycle state; transitions validated by CanTransitionTo
	Status string `gorm:"column:status;type:varchar(50);not null;index:idx_consent_requests_status" json:"status"`
	// RespondBy is the deadline for a patient decision before the sweeper
	// expires the request
	RespondBy time.Time `gorm:"column:respond_by;not null;index:idx_consent_requests_respond_by" json:"respond_by"`
	// DecidedBy / DecidedAt / DecisionNotes record the decision outcome
	DecidedBy     *string    `gorm:"column:decided_by;type:varchar(255)" json:"decided_by,omitempty"`
	DecidedAt     *time.Time `gorm:"column:decided_at" json:"decided_at,omitempty"`
	DecisionNotes *string    `gorm:"column:decision_notes;type:text" json:"decision_notes,omitempty"`
	// CreatedAt / UpdatedAt are record timestamps
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_consent_requests_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (*ConsentRequest) TableName() string {
	return "consent_requests"
}
