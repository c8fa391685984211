package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// DecisionService applies patient decisions and requester withdrawals to
// consent requests. Approval issues the contract in the same transaction,
// so a decided request and its contract are never observed apart.
type DecisionService struct {
	db        *gorm.DB
	audit     *AuditService
	contracts *ContractService
	policy    config.PolicyConfig
}

// NewDecisionService creates a new decision service.
func NewDecisionService(db *gorm.DB, audit *AuditService, contracts *ContractService, policy config.PolicyConfig) *DecisionService {
	return &DecisionService{db: db, audit: audit, contracts: contracts, policy: policy}
}

// Decide records the patient's approve/reject decision. Only the subject
// patient, or a configured override actor, may decide. Returns the issued
// contract on approval.
func (s *DecisionService) Decide(ctx context.Context, requestID string, input *models.DecisionInput, origin string) (*models.ConsentRequest, *models.ConsentContract, error) {
	parsedID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid request ID", models.ErrValidation)
	}
	if input.ActorID == "" {
		return nil, nil, fmt.Errorf("%w: actor_id is required", models.ErrValidation)
	}

	var target models.RequestStatus
	switch input.Outcome {
	case string(models.RequestStatusApproved):
		target = models.RequestStatusApproved
	case string(models.RequestStatusRejected):
		target = models.RequestStatusRejected
	default:
		return nil, nil, fmt.Errorf("%w: outcome must be approved or rejected", models.ErrValidation)
	}

	var request models.ConsentRequest
	var contract *models.ConsentContract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", parsedID).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: consent request %s", models.ErrNotFound, requestID)
			}
			return fmt.Errorf("failed to load consent request: %w", err)
		}

		if input.ActorID != request.PatientID && !s.isOverrideActor(input.ActorID) {
			return fmt.Errorf("%w: only the patient may decide this request", models.ErrForbidden)
		}

		from := models.RequestStatus(request.Status)
		if !from.CanTransitionTo(target) {
			return fmt.Errorf("%w: cannot decide request in state %s", models.ErrConflict, from)
		}

		now := time.Now().UTC()
		request.Status = string(target)
		request.DecidedBy = &input.ActorID
		request.DecidedAt = &now
		if input.Notes != "" {
			request.DecisionNotes = &input.Notes
		}
		request.UpdatedAt = now
		if err := tx.Save(&request).Error; err != nil {
			return fmt.Errorf("failed to record decision: %w", err)
		}

		if err := s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      input.ActorID,
			Action:     models.AuditActionRequestDecided,
			TargetType: "request",
			TargetID:   request.RequestID.String(),
			Summary:    fmt.Sprintf("status: %s -> %s", from, target),
			Origin:     origin,
		}); err != nil {
			return err
		}

		if target == models.RequestStatusApproved {
			c, err := s.contracts.IssueInTx(tx, &request, now, origin)
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

	monitoring.RecordBusinessEvent(models.AuditActionRequestDecided, string(target))
	return &request, contract, nil
}

// Withdraw retracts an undecided request. Only the requester that
// submitted it may withdraw.
func (s *DecisionService) Withdraw(ctx context.Context, requestID, requesterID, origin string) (*models.ConsentRequest, error) {
	parsedID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request ID", models.ErrValidation)
	}
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester_id is required", models.ErrValidation)
	}

	var request models.ConsentRequest
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", parsedID).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: consent request %s", models.ErrNotFound, requestID)
			}
			return fmt.Errorf("failed to load consent request: %w", err)
		}

		if request.RequesterID != requesterID {
			return fmt.Errorf("%w: only the submitting requester may withdraw", models.ErrForbidden)
		}

		from := models.RequestStatus(request.Status)
		if !from.CanTransitionTo(models.RequestStatusWithdrawn) {
			return fmt.Errorf("%w: cannot withdraw request in state %s", models.ErrConflict, from)
		}

		request.Status = string(models.RequestStatusWithdrawn)
		request.UpdatedAt = time.Now().UTC()
		if err := tx.Save(&request).Error; err != nil {
			return fmt.Errorf("failed to withdraw request: %w", err)
		}

		return s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      requesterID,
			Action:     models.AuditActionRequestWithdrawn,
			TargetType: "request",
			TargetID:   request.RequestID.String(),
			Summary:    fmt.Sprintf("status: %s -> withdrawn", from),
			Origin:     origin,
		})
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordBusinessEvent(models.AuditActionRequestWithdrawn, "ok")
	return &request, nil
}

func (s *DecisionService) isOverrideActor(actorID string) bool {
	for _, a := range s.policy.EmergencyOverrideActors {
		if a == actorID {
			return true
		}
	}
	return false
}
