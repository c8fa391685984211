package models

import "time"

// SubmitRequestInput defines the payload for creating a consent request.
type SubmitRequestInput struct {
	PatientID               string   `json:"patient_id"`
	RequesterID             string   `json:"requester_id"`
	RequesterType           string   `json:"requester_type"`
	RequesterOrg            string   `json:"requester_org"`
	Purpose                 string   `json:"purpose"`
	Categories              []string `json:"categories"`
	Urgency                 string   `json:"urgency"`
	Justification           string   `json:"justification,omitempty"`
	ValidFrom               string   `json:"valid_from"`
	ValidUntil              string   `json:"valid_until"`
	RequestedMaxAccessCount *int64   `json:"requested_max_access_count,omitempty"`
	ExternalRef             *string  `json:"external_ref,omitempty"`
}

// DecisionInput defines the payload for a patient (or override) decision.
type DecisionInput struct {
	ActorID string `json:"actor_id"`
	Outcome string `json:"outcome"` // "approved" or "rejected"
	Notes   string `json:"notes,omitempty"`
}

// WithdrawInput defines the payload for a requester withdrawal.
type WithdrawInput struct {
	RequesterID string `json:"requester_id"`
}

// AuthorizeInput defines the payload for a single access attempt.
type AuthorizeInput struct {
	AccessorID string   `json:"accessor_id"`
	Categories []string `json:"categories"`
}

// ContractActionInput defines the payload for revoke/suspend/reactivate.
type ContractActionInput struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// ResolveAlertInput defines the payload for resolving a compliance alert.
type ResolveAlertInput struct {
	ResolverID string `json:"resolver_id"`
}

// RequestView is the API representation of a consent request.
type RequestView struct {
	RequestID     string         `json:"request_id"`
	PatientID     string         `json:"patient_id"`
	RequesterID   string         `json:"requester_id"`
	RequesterType string         `json:"requester_type"`
	RequesterOrg  string         `json:"requester_org"`
	Purpose       string         `json:"purpose"`
	Categories    []DataCategory `json:"categories"`
	Urgency       string         `json:"urgency"`
	Status        string         `json:"status"`
	ValidFrom     time.Time      `json:"valid_from"`
	ValidUntil    time.Time      `json:"valid_until"`
	RespondBy     time.Time      `json:"respond_by"`
	ExternalRef   *string        `json:"external_ref,omitempty"`
	// ContractID is set when the request has produced a contract
	ContractID *string   `json:"contract_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ToRequestView converts a ConsentRequest to its API representation.
func (r *ConsentRequest) ToRequestView() RequestView {
	return RequestView{
		RequestID:     r.RequestID.String(),
		PatientID:     r.PatientID,
		RequesterID:   r.RequesterID,
		RequesterType: r.RequesterType,
		RequesterOrg:  r.RequesterOrg,
		Purpose:       r.Purpose,
		Categories:    r.Categories,
		Urgency:       r.Urgency,
		Status:        r.Status,
		ValidFrom:     r.ValidFrom,
		ValidUntil:    r.ValidUntil,
		RespondBy:     r.RespondBy,
		ExternalRef:   r.ExternalRef,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ContractView is the API representation of a consent contract.
type ContractView struct {
	ContractID     string         `json:"contract_id"`
	RequestID      string         `json:"request_id"`
	PatientID      string         `json:"patient_id"`
	RequesterID    string         `json:"requester_id"`
	Categories     []DataCategory `json:"categories"`
	ValidFrom      time.Time      `json:"valid_from"`
	ValidUntil     time.Time      `json:"valid_until"`
	MaxAccessCount *int64         `json:"max_access_count,omitempty"`
	AccessCount    int64          `json:"access_count"`
	Status         string         `json:"status"`
	Emergency      bool           `json:"emergency"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ToContractView converts a ConsentContract to its API representation.
func (c *ConsentContract) ToContractView() ContractView {
	return ContractView{
		ContractID:     c.ContractID.String(),
		RequestID:      c.RequestID.String(),
		PatientID:      c.PatientID,
		RequesterID:    c.RequesterID,
		Categories:     c.Categories,
		ValidFrom:      c.ValidFrom,
		ValidUntil:     c.ValidUntil,
		MaxAccessCount: c.MaxAccessCount,
		AccessCount:    c.AccessCount,
		Status:         c.Status,
		Emergency:      c.Emergency,
		CreatedAt:      c.CreatedAt,
	}
}

// AccessDecision is the outcome of one authorize() call.
type AccessDecision struct {
	ContractID string        `json:"contract_id"`
	Outcome    AccessOutcome `json:"outcome"`
	// Categories echoes the granted data categories on success
	Categories []DataCategory `json:"categories,omitempty"`
	// DenialReason is set when the outcome is denied
	DenialReason DenialReason `json:"denial_reason,omitempty"`
	// AccessCount is the contract's consumed quota after a grant
	AccessCount int64 `json:"access_count,omitempty"`
}

// Granted reports whether the decision permits the access.
func (d *AccessDecision) Granted() bool {
	return d.Outcome == OutcomeGranted
}

// AlertView is the API representation of a compliance alert.
type AlertView struct {
	AlertID     string     `json:"alert_id"`
	AlertType   string     `json:"alert_type"`
	Severity    string     `json:"severity"`
	SubjectType string     `json:"subject_type"`
	SubjectID   string     `json:"subject_id"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	ResolvedBy  *string    `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToAlertView converts a ComplianceAlert to its API representation.
func (a *ComplianceAlert) ToAlertView() AlertView {
	return AlertView{
		AlertID:     a.AlertID.String(),
		AlertType:   a.AlertType,
		Severity:    a.Severity,
		SubjectType: a.SubjectType,
		SubjectID:   a.SubjectID,
		Description: a.Description,
		Status:      a.Status,
		ResolvedBy:  a.ResolvedBy,
		ResolvedAt:  a.ResolvedAt,
		CreatedAt:   a.CreatedAt,
	}
}
