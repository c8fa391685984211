package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the engine.
const (
	AuditActionRequestSubmitted  = "request.submitted"
	AuditActionPatientNotified   = "request.patient_notified"
	AuditActionRequestDecided    = "request.decided"
	AuditActionRequestWithdrawn  = "request.withdrawn"
	AuditActionRequestExpired    = "request.expired"
	AuditActionEmergencyGranted  = "request.emergency_granted"
	AuditActionContractIssued    = "contract.issued"
	AuditActionContractRevoked   = "contract.revoked"
	AuditActionContractSuspended = "contract.suspended"
	AuditActionContractResumed   = "contract.reactivated"
	AuditActionContractExpired   = "contract.expired"
	AuditActionAccessGranted     = "access.granted"
	AuditActionAccessDenied      = "access.denied"
	AuditActionSweepCompleted    = "sweep.completed"
	AuditActionAlertRaised       = "alert.raised"
	AuditActionAlertResolved     = "alert.resolved"
)

// AuditLogEntry is one row of the append-only audit log. Entries are
// hash-chained: EntryHash covers the previous entry's hash and this entry's
// fields, so any in-place edit or deletion breaks the chain.
type AuditLogEntry struct {
	// Seq is the chain position, assigned by the database
	Seq int64 `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	// EntryID is the unique identifier for the entry
	EntryID uuid.UUID `gorm:"column:entry_id;type:uuid;not null;uniqueIndex:idx_audit_log_entry_id" json:"entry_id"`
	// Actor is who performed the action (account id or internal component tag)
	Actor string `gorm:"column:actor;type:varchar(255);not null" json:"actor"`
	// Action is one of the AuditAction constants
	Action string `gorm:"column:action;type:varchar(100);not null;index:idx_audit_log_action" json:"action"`
	// TargetType / TargetID identify the entity acted on
	TargetType string `gorm:"column:target_type;type:varchar(50);not null" json:"target_type"`
	TargetID   string `gorm:"column:target_id;type:varchar(255);not null;index:idx_audit_log_target_id" json:"target_id"`
	// Summary is a before/after snapshot summary, free of PII beyond ids
	Summary string `gorm:"column:summary;type:text" json:"summary"`
	// Origin is the caller's network address or an internal:<component> tag
	Origin string `gorm:"column:origin;type:varchar(255);not null" json:"origin"`
	// PrevHash / EntryHash form the tamper-evidence chain
	PrevHash  string `gorm:"column:prev_hash;type:varchar(64);not null" json:"prev_hash"`
	EntryHash string `gorm:"column:entry_hash;type:varchar(64);not null" json:"entry_hash"`
	// CreatedAt is when the entry was written
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName specifies the table name for GORM
func (*AuditLogEntry) TableName() string {
	return "audit_log"
}

// ComputeHash derives the entry hash from the previous hash and the entry's
// canonical fields. Timestamps are fixed to UTC RFC3339Nano so the hash is
// stable across drivers.
func (e *AuditLogEntry) ComputeHash(prevHash string) string {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		prevHash,
		e.EntryID,
		e.Actor,
		e.Action,
		e.TargetType,
		e.TargetID,
		e.Summary,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
