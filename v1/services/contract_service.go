package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// ContractService materializes and administers consent contracts. A
// contract is created exactly once per approved request; the unique index
// on request_id backs idempotence under concurrent issue calls.
type ContractService struct {
	db     *gorm.DB
	audit  *AuditService
	policy config.PolicyConfig
}

// NewContractService creates a new contract issuer.
func NewContractService(db *gorm.DB, audit *AuditService, policy config.PolicyConfig) *ContractService {
	return &ContractService{db: db, audit: audit, policy: policy}
}

// Issue returns the contract for an approved request, creating it on first
// call. Calling twice for the same request returns the same contract.
func (s *ContractService) Issue(ctx context.Context, requestID string, origin string) (*models.ConsentContract, error) {
	parsedID, err := uuid.Parse(requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid request ID", models.ErrValidation)
	}

	var contract *models.ConsentContract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request models.ConsentRequest
		if err := tx.Where("request_id = ?", parsedID).First(&request).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: consent request %s", models.ErrNotFound, requestID)
			}
			return fmt.Errorf("failed to load consent request: %w", err)
		}

		c, err := s.IssueInTx(tx, &request, time.Now().UTC(), origin)
		if err != nil {
			return err
		}
		contract = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// IssueInTx issues (or returns the existing) contract for the request
// inside the caller's transaction. The request must be in approved or
// emergency_granted state.
func (s *ContractService) IssueInTx(tx *gorm.DB, request *models.ConsentRequest, now time.Time, origin string) (*models.ConsentContract, error) {
	// Idempotence: the contract may already exist for this request.
	var existing models.ConsentContract
	err := tx.Where("request_id = ?", request.RequestID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check for existing contract: %w", err)
	}

	status := models.RequestStatus(request.Status)
	if status != models.RequestStatusApproved && status != models.RequestStatusEmergencyGranted {
		return nil, fmt.Errorf("%w: contract can only be issued from an approved request, got %s", models.ErrConflict, request.Status)
	}

	if status == models.RequestStatusEmergencyGranted &&
		len(models.IntersectCategories(request.Categories, s.policy.EmergencyCategories)) == 0 {
		// An empty intersection would grant a contract that can never
		// authorize anything; the expedited path cannot serve this request.
		return nil, fmt.Errorf("%w: none of the requested categories fall within the emergency scope %v", models.ErrValidation, s.policy.EmergencyCategories)
	}

	contract := s.buildContract(request, now)

	if err := tx.Create(contract).Error; err != nil {
		// A concurrent issue may have won the unique index race on
		// request_id; the existing contract is the answer either way.
		var raced models.ConsentContract
		if ferr := tx.Where("request_id = ?", request.RequestID).First(&raced).Error; ferr == nil {
			return &raced, nil
		}
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}

	if err := s.audit.Record(context.Background(), tx, AuditEntryParams{
		Actor:      request.RequesterID,
		Action:     models.AuditActionContractIssued,
		TargetType: "contract",
		TargetID:   contract.ContractID.String(),
		Summary:    fmt.Sprintf("issued from request %s, categories %v, quota %s", request.RequestID, contract.Categories, quotaString(contract.MaxAccessCount)),
		Origin:     origin,
	}); err != nil {
		return nil, err
	}

	return contract, nil
}

// buildContract derives the grant from the approved request. Allowed
// categories are exactly the approved categories, never a superset; the
// quota is the policy default unless the request asked for a tighter cap.
func (s *ContractService) buildContract(request *models.ConsentRequest, now time.Time) *models.ConsentContract {
	emergency := models.RequestStatus(request.Status) == models.RequestStatusEmergencyGranted

	categories := request.Categories
	validFrom := now
	validUntil := request.ValidUntil
	quota := s.quotaFor(request)

	if emergency {
		categories = models.IntersectCategories(request.Categories, s.policy.EmergencyCategories)
		if limit := now.Add(s.policy.EmergencyValidity); validUntil.After(limit) {
			validUntil = limit
		}
		q := s.policy.EmergencyMaxAccessCount
		quota = &q
	}

	return &models.ConsentContract{
		ContractID:     uuid.New(),
		RequestID:      request.RequestID,
		PatientID:      request.PatientID,
		RequesterID:    request.RequesterID,
		Categories:     categories,
		ValidFrom:      validFrom,
		ValidUntil:     validUntil,
		MaxAccessCount: quota,
		Status:         string(models.ContractStatusActive),
		Emergency:      emergency,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// quotaFor resolves the effective quota: policy default, tightened by the
// request's own cap when smaller. A zero policy default means unlimited.
func (s *ContractService) quotaFor(request *models.ConsentRequest) *int64 {
	var quota *int64
	if s.policy.DefaultMaxAccessCount > 0 {
		d := s.policy.DefaultMaxAccessCount
		quota = &d
	}
	if request.RequestedMaxAccessCount != nil && *request.RequestedMaxAccessCount > 0 {
		if quota == nil || *request.RequestedMaxAccessCount < *quota {
			quota = request.RequestedMaxAccessCount
		}
	}
	return quota
}

// GetContract loads a contract by id.
func (s *ContractService) GetContract(ctx context.Context, contractID string) (*models.ConsentContract, error) {
	parsedID, err := uuid.Parse(contractID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid contract ID", models.ErrValidation)
	}

	var contract models.ConsentContract
	if err := s.db.WithContext(ctx).Where("contract_id = ?", parsedID).First(&contract).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: contract %s", models.ErrNotFound, contractID)
		}
		return nil, fmt.Errorf("failed to load contract: %w", err)
	}
	return &contract, nil
}

// Revoke moves a contract to the terminal revoked state.
func (s *ContractService) Revoke(ctx context.Context, contractID, actorID, reason, origin string) (*models.ConsentContract, error) {
	return s.transition(ctx, contractID, actorID, reason, origin, models.ContractStatusRevoked, models.AuditActionContractRevoked)
}

// Suspend places a compliance hold on a contract. The hold is reversible
// only through an explicit Reactivate.
func (s *ContractService) Suspend(ctx context.Context, contractID, actorID, reason, origin string) (*models.ConsentContract, error) {
	return s.transition(ctx, contractID, actorID, reason, origin, models.ContractStatusSuspended, models.AuditActionContractSuspended)
}

// Reactivate lifts a compliance hold. The window and quota checks at the
// access gate still apply unchanged after reactivation.
func (s *ContractService) Reactivate(ctx context.Context, contractID, actorID, reason, origin string) (*models.ConsentContract, error) {
	return s.transition(ctx, contractID, actorID, reason, origin, models.ContractStatusActive, models.AuditActionContractResumed)
}

func (s *ContractService) transition(ctx context.Context, contractID, actorID, reason, origin string, target models.ContractStatus, auditAction string) (*models.ConsentContract, error) {
	parsedID, err := uuid.Parse(contractID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid contract ID", models.ErrValidation)
	}

	var contract models.ConsentContract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contract_id = ?", parsedID).First(&contract).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contract %s", models.ErrNotFound, contractID)
			}
			return fmt.Errorf("failed to load contract: %w", err)
		}

		from := models.ContractStatus(contract.Status)
		if !from.CanTransitionTo(target) {
			return fmt.Errorf("%w: cannot transition contract from %s to %s", models.ErrConflict, from, target)
		}

		now := time.Now().UTC()
		contract.Status = string(target)
		contract.UpdatedAt = now
		contract.StatusChangedBy = &actorID
		if reason != "" {
			contract.StatusReason = &reason
		}

		if err := tx.Save(&contract).Error; err != nil {
			return fmt.Errorf("failed to update contract status: %w", err)
		}

		return s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      actorID,
			Action:     auditAction,
			TargetType: "contract",
			TargetID:   contract.ContractID.String(),
			Summary:    fmt.Sprintf("status: %s -> %s (%s)", from, target, reason),
			Origin:     origin,
		})
	})
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func quotaString(quota *int64) string {
	if quota == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *quota)
}
