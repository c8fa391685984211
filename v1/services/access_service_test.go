package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authorize(t *testing.T, s *testStack, contractID string, categories ...string) *models.AccessDecision {
	t.Helper()
	if len(categories) == 0 {
		categories = []string{"demographics"}
	}
	decision, err := s.access.Authorize(context.Background(), contractID, &models.AuthorizeInput{
		AccessorID: "clinician-1",
		Categories: categories,
	}, "test")
	require.NoError(t, err)
	return decision
}

func TestAuthorizeGrantConsumesQuota(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)

	decision := authorize(t, s, contract.ContractID.String(), "demographics", "medications")
	assert.Equal(t, models.OutcomeGranted, decision.Outcome)
	assert.Equal(t, int64(1), decision.AccessCount)
	assert.Equal(t, contract.Categories, decision.Categories)

	// One granted event with the resulting count
	var event models.AccessEvent
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&event).Error)
	assert.Equal(t, string(models.OutcomeGranted), event.Outcome)
	require.NotNil(t, event.ResultingAccessCount)
	assert.Equal(t, int64(1), *event.ResultingAccessCount)
	assert.Nil(t, event.DenialReason)

	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, int64(1), stored.AccessCount)
}

func TestAuthorizeGrantedEventsAreTotallyOrdered(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)

	for i := int64(1); i <= 5; i++ {
		decision := authorize(t, s, contract.ContractID.String())
		assert.Equal(t, i, decision.AccessCount)
	}

	var counts []int64
	require.NoError(t, s.db.Model(&models.AccessEvent{}).
		Where("contract_id = ? AND outcome = ?", contract.ContractID, string(models.OutcomeGranted)).
		Order("resulting_access_count ASC").
		Pluck("resulting_access_count", &counts).Error)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, counts)
}

func TestAuthorizeDeniesCategoryOutsideScope(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)

	decision := authorize(t, s, contract.ContractID.String(), "demographics", "billing")
	assert.Equal(t, models.OutcomeDenied, decision.Outcome)
	assert.Equal(t, models.DenialReasonCategoryNotPermitted, decision.DenialReason)

	// Denials never consume quota
	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Zero(t, stored.AccessCount)
}

func TestAuthorizeDeniesBeforeWindowOpens(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("valid_from", time.Now().UTC().Add(24*time.Hour)).Error)

	decision := authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.OutcomeDenied, decision.Outcome)
	assert.Equal(t, models.DenialReasonOutOfWindow, decision.DenialReason)
}

func TestAuthorizeExpiresContractPastWindow(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("valid_until", time.Now().UTC().Add(-time.Hour)).Error)

	decision := authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.OutcomeDenied, decision.Outcome)
	assert.Equal(t, models.DenialReasonOutOfWindow, decision.DenialReason)

	// The gate expired the contract rather than waiting for the sweeper
	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, string(models.ContractStatusExpired), stored.Status)

	// Subsequent attempts hit the stored expired status
	decision = authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.DenialReasonExpired, decision.DenialReason)
}

func TestAuthorizeDeniesRevokedAndSuspended(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	_, err := s.contracts.Suspend(ctx, contract.ContractID.String(), "compliance-1", "review", "test")
	require.NoError(t, err)
	decision := authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.DenialReasonSuspended, decision.DenialReason)

	_, err = s.contracts.Revoke(ctx, contract.ContractID.String(), "patient-1", "done", "test")
	require.NoError(t, err)
	decision = authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.DenialReasonRevoked, decision.DenialReason)
}

func TestAuthorizeExhaustsQuota(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("max_access_count", 2).Error)

	assert.Equal(t, models.OutcomeGranted, authorize(t, s, contract.ContractID.String()).Outcome)
	assert.Equal(t, models.OutcomeGranted, authorize(t, s, contract.ContractID.String()).Outcome)

	decision := authorize(t, s, contract.ContractID.String())
	assert.Equal(t, models.OutcomeDenied, decision.Outcome)
	assert.Equal(t, models.DenialReasonQuotaExhausted, decision.DenialReason)

	// The count never exceeds the quota
	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, int64(2), stored.AccessCount)
}

func TestAuthorizeConcurrentAttemptsAtLastAccess(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("max_access_count", 1).Error)

	const attempts = 4
	decisions := make([]*models.AccessDecision, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], errs[i] = s.access.Authorize(context.Background(), contract.ContractID.String(), &models.AuthorizeInput{
				AccessorID: "clinician-1",
				Categories: []string{"demographics"},
			}, "test")
		}(i)
	}
	wg.Wait()

	granted := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if decisions[i].Granted() {
			granted++
		} else {
			assert.Equal(t, models.DenialReasonQuotaExhausted, decisions[i].DenialReason)
		}
	}
	assert.Equal(t, 1, granted, "exactly one of the concurrent attempts may win the last access")

	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, int64(1), stored.AccessCount)
}

func TestAuthorizeEveryAttemptLeavesOneEvent(t *testing.T) {
	s := newTestStack(t)

	_, contract := approvedContract(t, s)

	authorize(t, s, contract.ContractID.String())                       // granted
	authorize(t, s, contract.ContractID.String(), "billing")            // denied: category
	authorize(t, s, contract.ContractID.String(), "demographics")       // granted

	var count int64
	require.NoError(t, s.db.Model(&models.AccessEvent{}).
		Where("contract_id = ?", contract.ContractID).Count(&count).Error)
	assert.Equal(t, int64(3), count)

	// And an audit entry per attempt alongside the lifecycle entries
	var auditCount int64
	require.NoError(t, s.db.Model(&models.AuditLogEntry{}).
		Where("action IN ?", []string{models.AuditActionAccessGranted, models.AuditActionAccessDenied}).
		Count(&auditCount).Error)
	assert.Equal(t, int64(3), auditCount)
}

func TestAuthorizeValidation(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	_, err := s.access.Authorize(ctx, "not-a-uuid", &models.AuthorizeInput{
		AccessorID: "clinician-1", Categories: []string{"demographics"},
	}, "test")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.access.Authorize(ctx, contract.ContractID.String(), &models.AuthorizeInput{
		Categories: []string{"demographics"},
	}, "test")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.access.Authorize(ctx, contract.ContractID.String(), &models.AuthorizeInput{
		AccessorID: "clinician-1", Categories: []string{"genome"},
	}, "test")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.access.Authorize(ctx, "00000000-0000-0000-0000-000000000001", &models.AuthorizeInput{
		AccessorID: "clinician-1", Categories: []string{"demographics"},
	}, "test")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Rejected attempts leave no events behind
	var count int64
	require.NoError(t, s.db.Model(&models.AccessEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListEvents(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)
	authorize(t, s, contract.ContractID.String())
	authorize(t, s, contract.ContractID.String(), "billing")

	events, err := s.access.ListEvents(ctx, contract.ContractID.String())
	require.NoError(t, err)
	assert.Len(t, events, 2)

	_, err = s.access.ListEvents(ctx, "00000000-0000-0000-0000-000000000001")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
