package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    RequestStatus
		to      RequestStatus
		allowed bool
	}{
		{"submitted to patient_notified", RequestStatusSubmitted, RequestStatusPatientNotified, true},
		{"submitted to emergency_granted", RequestStatusSubmitted, RequestStatusEmergencyGranted, true},
		{"submitted to withdrawn", RequestStatusSubmitted, RequestStatusWithdrawn, true},
		{"submitted to approved skips notification", RequestStatusSubmitted, RequestStatusApproved, false},
		{"patient_notified to approved", RequestStatusPatientNotified, RequestStatusApproved, true},
		{"patient_notified to rejected", RequestStatusPatientNotified, RequestStatusRejected, true},
		{"patient_notified to expired", RequestStatusPatientNotified, RequestStatusExpired, true},
		{"approved is terminal", RequestStatusApproved, RequestStatusRejected, false},
		{"rejected is terminal", RequestStatusRejected, RequestStatusApproved, false},
		{"expired cannot be decided", RequestStatusExpired, RequestStatusApproved, false},
		{"withdrawn cannot be revived", RequestStatusWithdrawn, RequestStatusPatientNotified, false},
		{"emergency_granted is terminal", RequestStatusEmergencyGranted, RequestStatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRequestStatusIsTerminal(t *testing.T) {
	terminal := []RequestStatus{
		RequestStatusApproved, RequestStatusRejected, RequestStatusExpired,
		RequestStatusWithdrawn, RequestStatusEmergencyGranted,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	assert.False(t, RequestStatusSubmitted.IsTerminal())
	assert.False(t, RequestStatusPatientNotified.IsTerminal())
}

func TestContractStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    ContractStatus
		to      ContractStatus
		allowed bool
	}{
		{"active to revoked", ContractStatusActive, ContractStatusRevoked, true},
		{"active to suspended", ContractStatusActive, ContractStatusSuspended, true},
		{"active to expired", ContractStatusActive, ContractStatusExpired, true},
		{"suspended back to active", ContractStatusSuspended, ContractStatusActive, true},
		{"suspended to revoked", ContractStatusSuspended, ContractStatusRevoked, true},
		{"revoked is terminal", ContractStatusRevoked, ContractStatusActive, false},
		{"expired is terminal", ContractStatusExpired, ContractStatusActive, false},
		{"expired cannot be suspended", ContractStatusExpired, ContractStatusSuspended, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}
