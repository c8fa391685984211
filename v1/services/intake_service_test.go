package services

import (
	"context"
	"testing"
	"time"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestNormalPath(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	request, contract, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)
	require.Nil(t, contract, "normal urgency must not issue a contract")

	assert.Equal(t, string(models.RequestStatusPatientNotified), request.Status)
	assert.Equal(t, 1, s.notifier.count(), "patient must be notified")
	assert.WithinDuration(t, time.Now().UTC().Add(s.policy.ResponseDeadline), request.RespondBy, time.Minute)

	// submitted + patient_notified audit entries
	var actions []string
	require.NoError(t, s.db.Model(&models.AuditLogEntry{}).Order("seq ASC").Pluck("action", &actions).Error)
	assert.Equal(t, []string{models.AuditActionRequestSubmitted, models.AuditActionPatientNotified}, actions)
}

func TestSubmitRequestValidation(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*models.SubmitRequestInput)
	}{
		{"missing patient", func(in *models.SubmitRequestInput) { in.PatientID = "" }},
		{"missing purpose", func(in *models.SubmitRequestInput) { in.Purpose = "" }},
		{"unknown requester type", func(in *models.SubmitRequestInput) { in.RequesterType = "pharmacy" }},
		{"unknown category", func(in *models.SubmitRequestInput) { in.Categories = []string{"genome"} }},
		{"empty categories", func(in *models.SubmitRequestInput) { in.Categories = nil }},
		{"unknown urgency", func(in *models.SubmitRequestInput) { in.Urgency = "critical" }},
		{"bad valid_from", func(in *models.SubmitRequestInput) { in.ValidFrom = "yesterday" }},
		{"window inverted", func(in *models.SubmitRequestInput) {
			in.ValidFrom, in.ValidUntil = in.ValidUntil, in.ValidFrom
		}},
		{"window in the past", func(in *models.SubmitRequestInput) {
			in.ValidFrom = time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
			in.ValidUntil = time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339)
		}},
		{"window exceeds policy span", func(in *models.SubmitRequestInput) {
			in.ValidUntil = time.Now().UTC().Add(400 * 24 * time.Hour).Format(time.RFC3339)
		}},
		{"non-positive quota cap", func(in *models.SubmitRequestInput) {
			zero := int64(0)
			in.RequestedMaxAccessCount = &zero
		}},
		{"emergency without justification", func(in *models.SubmitRequestInput) {
			in.Urgency = string(models.UrgencyEmergency)
			in.Justification = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validSubmitInput()
			tt.mutate(input)
			_, _, err := s.intake.SubmitRequest(ctx, input, "test")
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	// Nothing may be persisted by rejected submissions
	var count int64
	require.NoError(t, s.db.Model(&models.ConsentRequest{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSubmitRequestDirectoryChecks(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	s.directory.unknown["ghost-patient"] = true
	input := validSubmitInput()
	input.PatientID = "ghost-patient"
	_, _, err := s.intake.SubmitRequest(ctx, input, "test")
	assert.ErrorIs(t, err, models.ErrNotFound)

	s.directory.unknown["ghost-requester"] = true
	input = validSubmitInput()
	input.RequesterID = "ghost-requester"
	_, _, err = s.intake.SubmitRequest(ctx, input, "test")
	assert.ErrorIs(t, err, models.ErrNotFound)

	s.directory.inactive["dormant-hospital"] = true
	input = validSubmitInput()
	input.RequesterID = "dormant-hospital"
	_, _, err = s.intake.SubmitRequest(ctx, input, "test")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSubmitRequestOpenRequestCap(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	for i := int64(0); i < s.policy.OpenRequestCap; i++ {
		_, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
		require.NoError(t, err)
	}

	_, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	assert.ErrorIs(t, err, models.ErrRateLimited)

	// Deciding one request frees a slot
	var request models.ConsentRequest
	require.NoError(t, s.db.Where("status = ?", string(models.RequestStatusPatientNotified)).First(&request).Error)
	_, _, err = s.decisions.Decide(ctx, request.RequestID.String(), &models.DecisionInput{
		ActorID: request.PatientID,
		Outcome: string(models.RequestStatusRejected),
	}, "test")
	require.NoError(t, err)

	_, _, err = s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	assert.NoError(t, err)
}

func TestSubmitRequestEmergencyPath(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	input := validSubmitInput()
	input.Urgency = string(models.UrgencyEmergency)
	input.Justification = "unconscious patient in ER, medication allergies unknown"
	input.Categories = []string{"demographics", "medications", "lab_results"}

	request, contract, err := s.intake.SubmitRequest(ctx, input, "test")
	require.NoError(t, err)
	require.NotNil(t, contract, "emergency submission must issue a contract immediately")

	assert.Equal(t, string(models.RequestStatusEmergencyGranted), request.Status)
	assert.True(t, contract.Emergency)

	// Scope is the intersection of requested and policy categories;
	// lab_results is outside the emergency set
	assert.ElementsMatch(t,
		[]models.DataCategory{models.CategoryDemographics, models.CategoryMedications},
		contract.Categories)

	require.NotNil(t, contract.MaxAccessCount)
	assert.Equal(t, s.policy.EmergencyMaxAccessCount, *contract.MaxAccessCount)
	assert.WithinDuration(t, time.Now().UTC().Add(s.policy.EmergencyValidity), contract.ValidUntil, time.Minute)

	// A high-severity alert must be open for retrospective review
	var alert models.ComplianceAlert
	require.NoError(t, s.db.Where("alert_type = ?", string(models.AlertTypeEmergencyGrant)).First(&alert).Error)
	assert.Equal(t, string(models.SeverityHigh), alert.Severity)
	assert.Equal(t, string(models.AlertStatusOpen), alert.Status)
	assert.Equal(t, contract.ContractID.String(), alert.SubjectID)

	// Patient is notified retrospectively
	assert.Equal(t, 1, s.notifier.count())
}

func TestSubmitRequestEmergencyOutsideScopeRejected(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	input := validSubmitInput()
	input.Urgency = string(models.UrgencyEmergency)
	input.Justification = "billing dispute"
	input.Categories = []string{"billing"}

	_, _, err := s.intake.SubmitRequest(ctx, input, "test")
	assert.ErrorIs(t, err, models.ErrValidation)

	// The rejected submission rolls back entirely: no request, no contract
	var requests, contracts int64
	require.NoError(t, s.db.Model(&models.ConsentRequest{}).Count(&requests).Error)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).Count(&contracts).Error)
	assert.Zero(t, requests)
	assert.Zero(t, contracts)
}

func TestGetRequestAttachesContract(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	request, contract := approvedContract(t, s)

	got, gotContract, err := s.intake.GetRequest(ctx, request.RequestID.String())
	require.NoError(t, err)
	assert.Equal(t, request.RequestID, got.RequestID)
	require.NotNil(t, gotContract)
	assert.Equal(t, contract.ContractID, gotContract.ContractID)

	_, _, err = s.intake.GetRequest(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, _, err = s.intake.GetRequest(ctx, "00000000-0000-0000-0000-000000000001")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListRequestsFilters(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)

	other := validSubmitInput()
	other.PatientID = "patient-2"
	other.RequesterID = "insurer-1"
	other.RequesterType = string(models.RequesterInsurer)
	_, _, err = s.intake.SubmitRequest(ctx, other, "test")
	require.NoError(t, err)

	byPatient, err := s.intake.ListRequests(ctx, RequestFilter{PatientID: "patient-1"})
	require.NoError(t, err)
	assert.Len(t, byPatient, 1)

	byRequester, err := s.intake.ListRequests(ctx, RequestFilter{RequesterID: "insurer-1"})
	require.NoError(t, err)
	assert.Len(t, byRequester, 1)

	byStatus, err := s.intake.ListRequests(ctx, RequestFilter{
		PatientID: "patient-1",
		Status:    string(models.RequestStatusPatientNotified),
	})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)
}
