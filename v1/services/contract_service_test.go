package services

import (
	"context"
	"testing"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueIsIdempotent(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	request, contract := approvedContract(t, s)

	again, err := s.contracts.Issue(ctx, request.RequestID.String(), "test")
	require.NoError(t, err)
	assert.Equal(t, contract.ContractID, again.ContractID)

	var count int64
	require.NoError(t, s.db.Model(&models.ConsentContract{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIssueRequiresApprovedRequest(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	submitted, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)

	_, err = s.contracts.Issue(ctx, submitted.RequestID.String(), "test")
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = s.contracts.Issue(ctx, "00000000-0000-0000-0000-000000000001", "test")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestQuotaHonorsTighterRequestCap(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	input := validSubmitInput()
	tight := int64(5)
	input.RequestedMaxAccessCount = &tight

	submitted, _, err := s.intake.SubmitRequest(ctx, input, "test")
	require.NoError(t, err)

	_, contract, err := s.decisions.Decide(ctx, submitted.RequestID.String(), &models.DecisionInput{
		ActorID: "patient-1",
		Outcome: string(models.RequestStatusApproved),
	}, "test")
	require.NoError(t, err)

	require.NotNil(t, contract.MaxAccessCount)
	assert.Equal(t, tight, *contract.MaxAccessCount)
}

func TestQuotaIgnoresLooserRequestCap(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	input := validSubmitInput()
	loose := int64(1000)
	input.RequestedMaxAccessCount = &loose

	submitted, _, err := s.intake.SubmitRequest(ctx, input, "test")
	require.NoError(t, err)

	_, contract, err := s.decisions.Decide(ctx, submitted.RequestID.String(), &models.DecisionInput{
		ActorID: "patient-1",
		Outcome: string(models.RequestStatusApproved),
	}, "test")
	require.NoError(t, err)

	require.NotNil(t, contract.MaxAccessCount)
	assert.Equal(t, s.policy.DefaultMaxAccessCount, *contract.MaxAccessCount)
}

func TestRevokeContract(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	revoked, err := s.contracts.Revoke(ctx, contract.ContractID.String(), "patient-1", "changed my mind", "test")
	require.NoError(t, err)
	assert.Equal(t, string(models.ContractStatusRevoked), revoked.Status)
	require.NotNil(t, revoked.StatusChangedBy)
	assert.Equal(t, "patient-1", *revoked.StatusChangedBy)
	require.NotNil(t, revoked.StatusReason)
	assert.Equal(t, "changed my mind", *revoked.StatusReason)

	// Revocation is terminal
	_, err = s.contracts.Reactivate(ctx, contract.ContractID.String(), "admin-1", "", "test")
	assert.ErrorIs(t, err, models.ErrConflict)
	_, err = s.contracts.Revoke(ctx, contract.ContractID.String(), "patient-1", "", "test")
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestSuspendAndReactivateContract(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	suspended, err := s.contracts.Suspend(ctx, contract.ContractID.String(), "compliance-1", "under review", "test")
	require.NoError(t, err)
	assert.Equal(t, string(models.ContractStatusSuspended), suspended.Status)

	// No automatic resumption; only the explicit action lifts the hold
	reactivated, err := s.contracts.Reactivate(ctx, contract.ContractID.String(), "compliance-1", "review cleared", "test")
	require.NoError(t, err)
	assert.Equal(t, string(models.ContractStatusActive), reactivated.Status)
}

func TestContractTimeColumnsSurviveRoundTrip(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	stored, err := s.contracts.GetContract(ctx, contract.ContractID.String())
	require.NoError(t, err)
	assert.True(t, stored.ValidFrom.Equal(contract.ValidFrom), "valid_from changed across the round trip")
	assert.True(t, stored.ValidUntil.Equal(contract.ValidUntil), "valid_until changed across the round trip")
	assert.True(t, stored.InWindow(contract.ValidFrom))
}

func TestGetContract(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	_, contract := approvedContract(t, s)

	got, err := s.contracts.GetContract(ctx, contract.ContractID.String())
	require.NoError(t, err)
	assert.Equal(t, contract.ContractID, got.ContractID)

	_, err = s.contracts.GetContract(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = s.contracts.GetContract(ctx, "00000000-0000-0000-0000-000000000001")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
