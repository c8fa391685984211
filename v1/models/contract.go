package models

import (
	"time"

	"github.com/google/uuid"
)

// ContractStatus is the lifecycle state of a ConsentContract.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusExpired   ContractStatus = "expired"
	ContractStatusRevoked   ContractStatus = "revoked"
	ContractStatusSuspended ContractStatus = "suspended"
)

// IsTerminal reports whether the status permits no further transition.
// Suspension is a reversible compliance hold; expiry and revocation are not.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusExpired || s == ContractStatusRevoked
}

// contractTransitions is the single source of truth for legal contract
// state transitions.
var contractTransitions = map[ContractStatus][]ContractStatus{
	ContractStatusActive: {
		ContractStatusExpired,
		ContractStatusRevoked,
		ContractStatusSuspended,
	},
	// Reactivation out of suspension requires an explicit administrative
	// action; there is no automatic resumption.
	ContractStatusSuspended: {
		ContractStatusActive,
		ContractStatusExpired,
		ContractStatusRevoked,
	},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s ContractStatus) CanTransitionTo(target ContractStatus) bool {
	for _, t := range contractTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ConsentContract is the enforceable, time- and quota-bound grant issued
// from an approved request. Created exactly once per request; access_count
// is mutated only by the access gate.
type ConsentContract struct {
	// ContractID is the unique identifier for the contract
	ContractID uuid.UUID `gorm:"column:contract_id;type:uuid;primaryKey" json:"contract_id"`
	// RequestID is the originating consent request. The unique index
	// enforces 1:1 issuance and backs issue() idempotence under races.
	RequestID uuid.UUID `gorm:"column:request_id;type:uuid;not null;uniqueIndex:idx_consent_contracts_request_id" json:"request_id"`
	// PatientID / RequesterID carry over the request's identities
	PatientID   string `gorm:"column:patient_id;type:varchar(255);not null;index:idx_consent_contracts_patient_id" json:"patient_id"`
	RequesterID string `gorm:"column:requester_id;type:varchar(255);not null;index:idx_consent_contracts_requester_id" json:"requester_id"`
	// Categories is the allowed set of data categories - exactly the
	// approved categories, never a superset
	Categories []DataCategory `gorm:"column:categories;type:jsonb;serializer:json;not null" json:"categories"`
	// ValidFrom / ValidUntil bound the enforcement window
	ValidFrom  time.Time `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidUntil time.Time `gorm:"column:valid_until;not null;index:idx_consent_contracts_valid_until" json:"valid_until"`
	// MaxAccessCount is the access quota; nil means unlimited
	MaxAccessCount *int64 `gorm:"column:max_access_count" json:"max_access_count,omitempty"`
	// AccessCount is the consumed quota, monotonically increasing and
	// never exceeding MaxAccessCount when the quota is finite
	AccessCount int64 `gorm:"column:access_count;not null;default:0" json:"access_count"`
	// Status is the lifecycle state; transitions validated by CanTransitionTo
	Status string `gorm:"column:status;type:varchar(50);not null;index:idx_consent_contracts_status" json:"status"`
	// Emergency marks contracts issued through the expedited grant path
	Emergency bool `gorm:"column:emergency;not null;default:false" json:"emergency"`
	// StatusChangedBy / StatusReason record revocation/suspension provenance
	StatusChangedBy *string `gorm:"column:status_changed_by;type:varchar(255)" json:"status_changed_by,omitempty"`
	StatusReason    *string `gorm:"column:status_reason;type:text" json:"status_reason,omitempty"`
	// CreatedAt / UpdatedAt are record timestamps
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (*ConsentContract) TableName() string {
	return "consent_contracts"
}

// InWindow reports whether t falls inside the contract's validity window.
func (c *ConsentContract) InWindow(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidUntil)
}

// QuotaExhausted reports whether the finite quota has been fully consumed.
func (c *ConsentContract) QuotaExhausted() bool {
	return c.MaxAccessCount != nil && c.AccessCount >= *c.MaxAccessCount
}
