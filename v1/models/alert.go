package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity grades a compliance alert for triage.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// IsValid reports whether the severity is a known grade.
func (s AlertSeverity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// AlertStatus is the resolution state of a compliance alert.
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// AlertType names the detection pattern that raised the alert.
type AlertType string

const (
	AlertTypeEmergencyGrant        AlertType = "emergency_grant"
	AlertTypeRepeatedDenials       AlertType = "repeated_denials"
	AlertTypeTerminalContractUsage AlertType = "terminal_contract_usage"
)

// AlertSubjectType identifies what kind of entity an alert points at.
type AlertSubjectType string

const (
	SubjectRequest     AlertSubjectType = "request"
	SubjectContract    AlertSubjectType = "contract"
	SubjectAccessEvent AlertSubjectType = "access_event"
	SubjectAccessor    AlertSubjectType = "accessor"
)

// ComplianceAlert is a flagged pattern or event requiring human review.
// Created only by the compliance monitor; the only permitted mutation is
// open -> resolved.
type ComplianceAlert struct {
	// AlertID is the unique identifier for the alert
	AlertID uuid.UUID `gorm:"column:alert_id;type:uuid;primaryKey" json:"alert_id"`
	// AlertType names the detection pattern
	AlertType string `gorm:"column:alert_type;type:varchar(50);not null;index:idx_compliance_alerts_type" json:"alert_type"`
	// Severity is low, medium, high or critical
	Severity string `gorm:"column:severity;type:varchar(50);not null;index:idx_compliance_alerts_severity" json:"severity"`
	// SubjectType / SubjectID reference the request, contract, access event
	// or accessor the alert is about
	SubjectType string `gorm:"column:subject_type;type:varchar(50);not null" json:"subject_type"`
	SubjectID   string `gorm:"column:subject_id;type:varchar(255);not null;index:idx_compliance_alerts_subject_id" json:"subject_id"`
	// Description is a human-readable account of the detected pattern
	Description string `gorm:"column:description;type:text;not null" json:"description"`
	// Status is open or resolved
	Status string `gorm:"column:status;type:varchar(50);not null;index:idx_compliance_alerts_status" json:"status"`
	// ResolvedBy / ResolvedAt record the reviewer who closed the alert
	ResolvedBy *string    `gorm:"column:resolved_by;type:varchar(255)" json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	// CreatedAt is the detection timestamp
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_compliance_alerts_created_at" json:"created_at"`
}

// TableName specifies the table name for GORM
func (*ComplianceAlert) TableName() string {
	return "compliance_alerts"
}
