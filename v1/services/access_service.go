package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// AccessService is the runtime access gate. Every attempt, granted or
// denied, leaves exactly one access event and one audit entry, committed
// atomically with the quota consumption that a grant implies.
type AccessService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewAccessService creates a new access gate.
func NewAccessService(db *gorm.DB, audit *AuditService) *AccessService {
	return &AccessService{db: db, audit: audit}
}

// Authorize evaluates one access attempt against a contract. A denial is a
// normal decision, not an error; errors are reserved for bad input, unknown
// contracts and storage failures.
//
// Checks run in a fixed order: status, validity window, category scope,
// quota. The quota check and consumption are a single guarded UPDATE so two
// concurrent attempts at the last remaining access cannot both be granted.
func (s *AccessService) Authorize(ctx context.Context, contractID string, input *models.AuthorizeInput, origin string) (*models.AccessDecision, error) {
	parsedID, err := uuid.Parse(contractID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid contract ID", models.ErrValidation)
	}
	if input.AccessorID == "" {
		return nil, fmt.Errorf("%w: accessor_id is required", models.ErrValidation)
	}
	categories, err := models.ParseDataCategories(input.Categories)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}

	var decision *models.AccessDecision
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var contract models.ConsentContract
		if err := tx.Where("contract_id = ?", parsedID).First(&contract).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contract %s", models.ErrNotFound, contractID)
			}
			return fmt.Errorf("failed to load contract: %w", err)
		}

		now := time.Now().UTC()

		if reason, ok := s.statusDenial(ctx, tx, &contract, now, origin); ok {
			d, err := s.deny(ctx, tx, &contract, input.AccessorID, categories, reason, origin)
			decision = d
			return err
		}

		if now.Before(contract.ValidFrom) {
			d, err := s.deny(ctx, tx, &contract, input.AccessorID, categories, models.DenialReasonOutOfWindow, origin)
			decision = d
			return err
		}

		if !models.IsSubsetOf(categories, contract.Categories) {
			d, err := s.deny(ctx, tx, &contract, input.AccessorID, categories, models.DenialReasonCategoryNotPermitted, origin)
			decision = d
			return err
		}

		// The serialization point. The guarded UPDATE re-checks status and
		// quota so that of N concurrent attempts at the last remaining
		// access, exactly one row update wins.
		var resultingCount int64
		row := tx.Raw(`UPDATE consent_contracts
			SET access_count = access_count + 1, updated_at = ?
			WHERE contract_id = ?
			  AND status = ?
			  AND (max_access_count IS NULL OR access_count < max_access_count)
			RETURNING access_count`,
			now, contract.ContractID, string(models.ContractStatusActive)).Row()
		if err := row.Scan(&resultingCount); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to consume access quota: %w", err)
			}
			// No row qualified: either the quota ran out or the status
			// changed under us. Re-read to name the reason precisely.
			if err := tx.Where("contract_id = ?", parsedID).First(&contract).Error; err != nil {
				return fmt.Errorf("failed to re-load contract: %w", err)
			}
			reason := models.DenialReasonQuotaExhausted
			if status := models.ContractStatus(contract.Status); status != models.ContractStatusActive {
				reason = statusDenialReason(status)
			}
			d, err := s.deny(ctx, tx, &contract, input.AccessorID, categories, reason, origin)
			decision = d
			return err
		}

		event := &models.AccessEvent{
			EventID:              uuid.New(),
			ContractID:           contract.ContractID,
			AccessorID:           input.AccessorID,
			Categories:           categories,
			Outcome:              string(models.OutcomeGranted),
			ResultingAccessCount: &resultingCount,
			Origin:               origin,
			CreatedAt:            now,
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to record access event: %w", err)
		}

		if err := s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      input.AccessorID,
			Action:     models.AuditActionAccessGranted,
			TargetType: "contract",
			TargetID:   contract.ContractID.String(),
			Summary:    fmt.Sprintf("categories %v, access %d of %s", categories, resultingCount, quotaString(contract.MaxAccessCount)),
			Origin:     origin,
		}); err != nil {
			return err
		}

		decision = &models.AccessDecision{
			ContractID:  contract.ContractID.String(),
			Outcome:     models.OutcomeGranted,
			Categories:  contract.Categories,
			AccessCount: resultingCount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if decision.Granted() {
		monitoring.RecordAccessDecision(string(models.OutcomeGranted), "")
	} else {
		monitoring.RecordAccessDecision(string(models.OutcomeDenied), string(decision.DenialReason))
	}
	return decision, nil
}

// statusDenial checks the contract's lifecycle state, lazily expiring a
// contract whose window has passed before the sweeper reached it.
func (s *AccessService) statusDenial(ctx context.Context, tx *gorm.DB, contract *models.ConsentContract, now time.Time, origin string) (models.DenialReason, bool) {
	status := models.ContractStatus(contract.Status)
	if status != models.ContractStatusActive {
		return statusDenialReason(status), true
	}
	if now.After(contract.ValidUntil) {
		// Window passed but the sweeper has not caught up; expire now so
		// the stored state matches the decision. The denial itself is a
		// window check, so the reason is out_of_window, not the expired
		// status the contract only reaches by this very transition.
		contract.Status = string(models.ContractStatusExpired)
		contract.UpdatedAt = now
		if err := tx.Save(contract).Error; err == nil {
			_ = s.audit.Record(ctx, tx, AuditEntryParams{
				Actor:      "consent-engine",
				Action:     models.AuditActionContractExpired,
				TargetType: "contract",
				TargetID:   contract.ContractID.String(),
				Summary:    "status: active -> expired (window passed, detected at access gate)",
				Origin:     OriginInternal("access-gate"),
			})
		}
		return models.DenialReasonOutOfWindow, true
	}
	return "", false
}

// deny records the denied attempt and returns its decision.
func (s *AccessService) deny(ctx context.Context, tx *gorm.DB, contract *models.ConsentContract, accessorID string, categories []models.DataCategory, reason models.DenialReason, origin string) (*models.AccessDecision, error) {
	reasonStr := string(reason)
	event := &models.AccessEvent{
		EventID:      uuid.New(),
		ContractID:   contract.ContractID,
		AccessorID:   accessorID,
		Categories:   categories,
		Outcome:      string(models.OutcomeDenied),
		DenialReason: &reasonStr,
		Origin:       origin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("failed to record access event: %w", err)
	}

	if err := s.audit.Record(ctx, tx, AuditEntryParams{
		Actor:      accessorID,
		Action:     models.AuditActionAccessDenied,
		TargetType: "contract",
		TargetID:   contract.ContractID.String(),
		Summary:    fmt.Sprintf("categories %v, reason %s", categories, reason),
		Origin:     origin,
	}); err != nil {
		return nil, err
	}

	return &models.AccessDecision{
		ContractID:   contract.ContractID.String(),
		Outcome:      models.OutcomeDenied,
		DenialReason: reason,
	}, nil
}

func statusDenialReason(status models.ContractStatus) models.DenialReason {
	switch status {
	case models.ContractStatusRevoked:
		return models.DenialReasonRevoked
	case models.ContractStatusSuspended:
		return models.DenialReasonSuspended
	default:
		return models.DenialReasonExpired
	}
}

// ListEvents returns a contract's access history, newest first.
func (s *AccessService) ListEvents(ctx context.Context, contractID string) ([]models.AccessEvent, error) {
	parsedID, err := uuid.Parse(contractID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid contract ID", models.ErrValidation)
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&models.ConsentContract{}).
		Where("contract_id = ?", parsedID).Count(&exists).Error; err != nil {
		return nil, fmt.Errorf("failed to check contract: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: contract %s", models.ErrNotFound, contractID)
	}

	var events []models.AccessEvent
	if err := s.db.WithContext(ctx).
		Where("contract_id = ?", parsedID).
		Order("created_at DESC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list access events: %w", err)
	}
	return events, nil
}
