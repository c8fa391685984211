package services

import (
	"context"
	"testing"
	"time"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresOverdueRequests(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	overdue, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&models.ConsentRequest{}).
		Where("request_id = ?", overdue.RequestID).
		Update("respond_by", time.Now().UTC().Add(-time.Hour)).Error)

	fresh, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)

	requestsExpired, contractsExpired, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requestsExpired)
	assert.Zero(t, contractsExpired)

	var stored models.ConsentRequest
	require.NoError(t, s.db.Where("request_id = ?", overdue.RequestID).First(&stored).Error)
	assert.Equal(t, string(models.RequestStatusExpired), stored.Status)

	var freshStored models.ConsentRequest
	require.NoError(t, s.db.Where("request_id = ?", fresh.RequestID).First(&freshStored).Error)
	assert.Equal(t, string(models.RequestStatusPatientNotified), freshStored.Status)

	// An expired request can no longer be decided
	_, _, err = s.decisions.Decide(ctx, overdue.RequestID.String(), &models.DecisionInput{
		ActorID: "patient-1",
		Outcome: string(models.RequestStatusApproved),
	}, "test")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestSweepExpiresContractsPastWindow(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("valid_until", time.Now().UTC().Add(-time.Hour)).Error)

	requestsExpired, contractsExpired, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, requestsExpired)
	assert.Equal(t, int64(1), contractsExpired)

	var stored models.ConsentContract
	require.NoError(t, s.db.Where("contract_id = ?", contract.ContractID).First(&stored).Error)
	assert.Equal(t, string(models.ContractStatusExpired), stored.Status)
}

func TestSweepExpiresSuspendedContracts(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)
	_, err := s.contracts.Suspend(ctx, contract.ContractID.String(), "compliance-1", "review", "test")
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&models.ConsentContract{}).
		Where("contract_id = ?", contract.ContractID).
		Update("valid_until", time.Now().UTC().Add(-time.Hour)).Error)

	// A suspended contract whose window passes expires; the hold does not
	// keep it alive
	_, contractsExpired, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contractsExpired)
}

func TestSweepIsIdempotent(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	overdue, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&models.ConsentRequest{}).
		Where("request_id = ?", overdue.RequestID).
		Update("respond_by", time.Now().UTC().Add(-time.Hour)).Error)

	requestsExpired, _, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requestsExpired)

	// Second pass finds nothing and writes no audit entry
	var before int64
	require.NoError(t, s.db.Model(&models.AuditLogEntry{}).Count(&before).Error)

	requestsExpired, contractsExpired, err := s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, requestsExpired)
	assert.Zero(t, contractsExpired)

	var after int64
	require.NoError(t, s.db.Model(&models.AuditLogEntry{}).Count(&after).Error)
	assert.Equal(t, before, after)
}

func TestSweepWritesAuditSummary(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	overdue, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)
	require.NoError(t, s.db.Model(&models.ConsentRequest{}).
		Where("request_id = ?", overdue.RequestID).
		Update("respond_by", time.Now().UTC().Add(-time.Hour)).Error)

	_, _, err = s.sweeper.SweepOnce(ctx)
	require.NoError(t, err)

	var entry models.AuditLogEntry
	require.NoError(t, s.db.Where("action = ?", models.AuditActionSweepCompleted).First(&entry).Error)
	assert.Contains(t, entry.Summary, "expired 1 requests")
	assert.Equal(t, OriginInternal("sweeper"), entry.Origin)
}
