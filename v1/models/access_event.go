package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessOutcome is the result of a single access attempt at the gate.
type AccessOutcome string

const (
	OutcomeGranted AccessOutcome = "granted"
	OutcomeDenied  AccessOutcome = "denied"
)

// DenialReason is the specific reason an access attempt was denied. Every
// denial carries one of these, never a generic forbidden.
type DenialReason string

const (
	DenialReasonExpired              DenialReason = "expired"
	DenialReasonRevoked              DenialReason = "revoked"
	DenialReasonSuspended            DenialReason = "suspended"
	DenialReasonOutOfWindow          DenialReason = "out_of_window"
	DenialReasonCategoryNotPermitted DenialReason = "category_not_permitted"
	DenialReasonQuotaExhausted       DenialReason = "quota_exhausted"
)

// AccessEvent records one access attempt, granted or denied. Rows are
// append-only and never updated in place.
type AccessEvent struct {
	// EventID is the unique identifier for the event
	EventID uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	// ContractID is the contract the attempt was made against
	ContractID uuid.UUID `gorm:"column:contract_id;type:uuid;not null;index:idx_access_events_contract_id" json:"contract_id"`
	// AccessorID identifies who attempted the access
	AccessorID string `gorm:"column:accessor_id;type:varchar(255);not null;index:idx_access_events_accessor_id" json:"accessor_id"`
	// Categories is the set of data categories actually requested
	Categories []DataCategory `gorm:"column:categories;type:jsonb;serializer:json;not null" json:"categories"`
	// Outcome is granted or denied
	Outcome string `gorm:"column:outcome;type:varchar(50);not null;index:idx_access_events_outcome" json:"outcome"`
	// DenialReason is set when the outcome is denied
	DenialReason *string `gorm:"column:denial_reason;type:varchar(50)" json:"denial_reason,omitempty"`
	// ResultingAccessCount is the contract's access_count after a grant.
	// For a single contract, granted events are totally ordered by this
	// value; no two granted events share the same count.
	ResultingAccessCount *int64 `gorm:"column:resulting_access_count" json:"resulting_access_count,omitempty"`
	// Origin is the caller's network address
	Origin string `gorm:"column:origin;type:varchar(255)" json:"origin"`
	// CreatedAt is when the attempt was evaluated
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_access_events_created_at" json:"created_at"`
}

// TableName specifies the table name for GORM
func (*AccessEvent) TableName() string {
	return "access_events"
}
