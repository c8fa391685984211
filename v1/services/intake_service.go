package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/internal/directory"
	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/internal/notify"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// openStatuses are the request states that count against the per-requester
// open request cap.
var openStatuses = []string{
	string(models.RequestStatusSubmitted),
	string(models.RequestStatusPatientNotified),
}

// IntakeService validates and admits consent requests. It owns the
// submitted -> patient_notified hop and the emergency fast path; patient
// decisions live in DecisionService.
type IntakeService struct {
	db         *gorm.DB
	audit      *AuditService
	contracts  *ContractService
	compliance *ComplianceService
	directory  directory.Directory
	notifier   notify.Notifier
	policy     config.PolicyConfig
}

// NewIntakeService creates a new request intake service.
func NewIntakeService(db *gorm.DB, audit *AuditService, contracts *ContractService, compliance *ComplianceService, dir directory.Directory, notifier notify.Notifier, policy config.PolicyConfig) *IntakeService {
	return &IntakeService{
		db:         db,
		audit:      audit,
		contracts:  contracts,
		compliance: compliance,
		directory:  dir,
		notifier:   notifier,
		policy:     policy,
	}
}

// SubmitRequest validates, persists and (for emergencies) immediately
// grants a consent request. For the normal path the patient is notified
// after commit and the request advances to patient_notified.
func (s *IntakeService) SubmitRequest(ctx context.Context, input *models.SubmitRequestInput, origin string) (*models.ConsentRequest, *models.ConsentContract, error) {
	request, err := s.validate(input)
	if err != nil {
		return nil, nil, err
	}

	if err := s.resolveIdentities(ctx, request); err != nil {
		return nil, nil, err
	}

	var contract *models.ConsentContract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.ConsentRequest{}).
			Where("requester_id = ? AND status IN ?", request.RequesterID, openStatuses).
			Count(&open).Error; err != nil {
			return fmt.Errorf("failed to count open requests: %w", err)
		}
		if open >= s.policy.OpenRequestCap {
			return fmt.Errorf("%w: requester has %d undecided requests (cap %d)", models.ErrRateLimited, open, s.policy.OpenRequestCap)
		}

		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create consent request: %w", err)
		}

		if err := s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      request.RequesterID,
			Action:     models.AuditActionRequestSubmitted,
			TargetType: "request",
			TargetID:   request.RequestID.String(),
			Summary:    fmt.Sprintf("patient %s, purpose %q, categories %v, urgency %s", request.PatientID, request.Purpose, request.Categories, request.Urgency),
			Origin:     origin,
		}); err != nil {
			return err
		}

		if models.Urgency(request.Urgency) == models.UrgencyEmergency {
			c, err := s.emergencyGrant(ctx, tx, request, origin)
			if err != nil {
				return err
			}
			contract = c
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	monitoring.RecordBusinessEvent(models.AuditActionRequestSubmitted, "ok")

	if contract != nil {
		// Emergency grants still notify the patient, retrospectively.
		s.notifier.Notify(ctx, request.PatientID,
			fmt.Sprintf("Emergency access to your records was granted to %s. A compliance review has been opened.", request.RequesterOrg))
		return request, contract, nil
	}

	s.notifier.Notify(ctx, request.PatientID,
		fmt.Sprintf("%s has requested access to your medical records for: %s. Please respond by %s.",
			request.RequesterOrg, request.Purpose, request.RespondBy.Format(time.RFC3339)))

	if err := s.markNotified(ctx, request, origin); err != nil {
		// The request stays in submitted; the sweeper's deadline still
		// applies and a retry of notification is an operational concern.
		slog.Error("Failed to mark request as patient_notified", "requestId", request.RequestID, "error", err)
	}

	return request, nil, nil
}

// validate checks the submission against the closed vocabularies and the
// policy's window limits, and returns the record to persist.
func (s *IntakeService) validate(input *models.SubmitRequestInput) (*models.ConsentRequest, error) {
	if input.PatientID == "" || input.RequesterID == "" || input.RequesterOrg == "" {
		return nil, fmt.Errorf("%w: patient_id, requester_id and requester_org are required", models.ErrValidation)
	}
	if input.Purpose == "" {
		return nil, fmt.Errorf("%w: purpose is required", models.ErrValidation)
	}
	if !models.RequesterType(input.RequesterType).IsValid() {
		return nil, fmt.Errorf("%w: unknown requester_type %q", models.ErrValidation, input.RequesterType)
	}

	urgency := models.Urgency(input.Urgency)
	if input.Urgency == "" {
		urgency = models.UrgencyNormal
	}
	if !urgency.IsValid() {
		return nil, fmt.Errorf("%w: unknown urgency %q", models.ErrValidation, input.Urgency)
	}
	if urgency == models.UrgencyEmergency && input.Justification == "" {
		return nil, fmt.Errorf("%w: justification is required for emergency requests", models.ErrValidation)
	}

	categories, err := models.ParseDataCategories(input.Categories)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}

	validFrom, err := time.Parse(time.RFC3339, input.ValidFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_from must be RFC3339", models.ErrValidation)
	}
	validUntil, err := time.Parse(time.RFC3339, input.ValidUntil)
	if err != nil {
		return nil, fmt.Errorf("%w: valid_until must be RFC3339", models.ErrValidation)
	}

	now := time.Now().UTC()
	if !validUntil.After(validFrom) {
		return nil, fmt.Errorf("%w: valid_until must be after valid_from", models.ErrValidation)
	}
	if validUntil.Before(now) {
		return nil, fmt.Errorf("%w: valid_until is in the past", models.ErrValidation)
	}
	if validUntil.Sub(validFrom) > s.policy.MaxValiditySpan {
		return nil, fmt.Errorf("%w: validity window exceeds the %s maximum", models.ErrValidation, s.policy.MaxValiditySpan)
	}
	if input.RequestedMaxAccessCount != nil && *input.RequestedMaxAccessCount <= 0 {
		return nil, fmt.Errorf("%w: requested_max_access_count must be positive", models.ErrValidation)
	}

	return &models.ConsentRequest{
		RequestID:               uuid.New(),
		PatientID:               input.PatientID,
		RequesterID:             input.RequesterID,
		RequesterType:           input.RequesterType,
		RequesterOrg:            input.RequesterOrg,
		Purpose:                 input.Purpose,
		Categories:              categories,
		Urgency:                 string(urgency),
		Justification:           input.Justification,
		ValidFrom:               validFrom.UTC(),
		ValidUntil:              validUntil.UTC(),
		RequestedMaxAccessCount: input.RequestedMaxAccessCount,
		ExternalRef:             input.ExternalRef,
		Status:                  string(models.RequestStatusSubmitted),
		RespondBy:               now.Add(s.policy.ResponseDeadline),
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

// resolveIdentities confirms both parties exist and are active in the
// profile directory before any state is written.
func (s *IntakeService) resolveIdentities(ctx context.Context, request *models.ConsentRequest) error {
	patient, err := s.directory.ResolvePatient(ctx, request.PatientID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: unknown patient %s", models.ErrNotFound, request.PatientID)
		}
		return fmt.Errorf("patient lookup failed: %w", err)
	}
	if !patient.Active {
		return fmt.Errorf("%w: patient account %s is inactive", models.ErrForbidden, request.PatientID)
	}

	requester, err := s.directory.ResolveRequester(ctx, request.RequesterID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: unknown requester %s", models.ErrNotFound, request.RequesterID)
		}
		return fmt.Errorf("requester lookup failed: %w", err)
	}
	if !requester.Active {
		return fmt.Errorf("%w: requester account %s is inactive", models.ErrForbidden, request.RequesterID)
	}
	return nil
}

// emergencyGrant performs the expedited path inside the intake
// transaction: the request jumps to emergency_granted, a narrow contract
// is issued, and a compliance alert for retrospective review is raised.
// All three commit or none do.
func (s *IntakeService) emergencyGrant(ctx context.Context, tx *gorm.DB, request *models.ConsentRequest, origin string) (*models.ConsentContract, error) {
	now := time.Now().UTC()
	request.Status = string(models.RequestStatusEmergencyGranted)
	request.DecidedAt = &now
	request.UpdatedAt = now
	if err := tx.Save(request).Error; err != nil {
		return nil, fmt.Errorf("failed to mark request emergency_granted: %w", err)
	}

	if err := s.audit.Record(ctx, tx, AuditEntryParams{
		Actor:      request.RequesterID,
		Action:     models.AuditActionEmergencyGranted,
		TargetType: "request",
		TargetID:   request.RequestID.String(),
		Summary:    fmt.Sprintf("expedited grant, justification: %s", request.Justification),
		Origin:     origin,
	}); err != nil {
		return nil, err
	}

	contract, err := s.contracts.IssueInTx(tx, request, now, origin)
	if err != nil {
		return nil, err
	}

	if err := s.compliance.RaiseInTx(ctx, tx, models.AlertTypeEmergencyGrant, models.SeverityHigh,
		models.SubjectContract, contract.ContractID.String(),
		fmt.Sprintf("emergency grant to %s (%s) for patient %s: %s",
			request.RequesterOrg, request.RequesterID, request.PatientID, request.Justification),
		origin); err != nil {
		return nil, err
	}

	monitoring.RecordBusinessEvent(models.AuditActionEmergencyGranted, "ok")
	return contract, nil
}

// markNotified advances a submitted request to patient_notified after the
// notification has been dispatched.
func (s *IntakeService) markNotified(ctx context.Context, request *models.ConsentRequest, origin string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ConsentRequest{}).
			Where("request_id = ? AND status = ?", request.RequestID, string(models.RequestStatusSubmitted)).
			Updates(map[string]interface{}{
				"status":     string(models.RequestStatusPatientNotified),
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update request status: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// The sweeper or a withdrawal got there first.
			return nil
		}
		request.Status = string(models.RequestStatusPatientNotified)

		return s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      "consent-engine",
			Action:     models.AuditActionPatientNotified,
			TargetType: "request",
			TargetID:   request.RequestID.String(),
			Summary:    "status: submitted -> patient_notified",
			Origin:     OriginInternal("intake"),
		})
	})
}

// GetRequest loads a request by id, attaching the contract id when one has
// been issued.
func (s *IntakeService) GetRequest(ctx context.Context, requestID string) (*models.ConsentRequest, *models.ConsentContract, error) {
	parsedID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid request ID", models.ErrValidation)
	}

	var request models.ConsentRequest
	if err := s.db.WithContext(ctx).Where("request_id = ?", parsedID).First(&request).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: consent request %s", models.ErrNotFound, requestID)
		}
		return nil, nil, fmt.Errorf("failed to load consent request: %w", err)
	}

	var contract models.ConsentContract
	err = s.db.WithContext(ctx).Where("request_id = ?", parsedID).First(&contract).Error
	switch {
	case err == nil:
		return &request, &contract, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &request, nil, nil
	default:
		return nil, nil, fmt.Errorf("failed to load contract for request: %w", err)
	}
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	PatientID   string
	RequesterID string
	Status      string
}

// ListRequests returns requests matching the filter, newest first.
func (s *IntakeService) ListRequests(ctx context.Context, filter RequestFilter) ([]models.ConsentRequest, error) {
	if filter.Status != "" {
		if status := models.RequestStatus(filter.Status); !status.IsTerminal() && !isOpenStatus(filter.Status) {
			return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, filter.Status)
		}
	}

	query := s.db.WithContext(ctx).Model(&models.ConsentRequest{})
	if filter.PatientID != "" {
		query = query.Where("patient_id = ?", filter.PatientID)
	}
	if filter.RequesterID != "" {
		query = query.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var requests []models.ConsentRequest
	if err := query.Order("created_at DESC").Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to list consent requests: %w", err)
	}
	return requests, nil
}

func isOpenStatus(status string) bool {
	for _, s := range openStatuses {
		if s == status {
			return true
		}
	}
	return false
}
