package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/internal/directory"
	"github.com/healthdx/consent-engine/v1/database"
	"github.com/healthdx/consent-engine/v1/models"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB creates an isolated in-memory SQLite database with the full
// schema. cache=shared keeps the database alive across pooled connections;
// a single open connection serializes access the way tests need.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// testPolicy returns policy defaults sized for tests.
func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		MaxValiditySpan:         365 * 24 * time.Hour,
		ResponseDeadline:        72 * time.Hour,
		OpenRequestCap:          3,
		DefaultMaxAccessCount:   25,
		EmergencyMaxAccessCount: 1,
		EmergencyCategories:     []models.DataCategory{models.CategoryDemographics, models.CategoryMedications},
		EmergencyValidity:       24 * time.Hour,
		SweepInterval:           time.Minute,
		ComplianceScanInterval:  time.Minute,
		DenialAlertThreshold:    3,
		DenialAlertWindow:       15 * time.Minute,
	}
}

// fakeDirectory is an in-memory directory.Directory. Any account not
// explicitly marked unknown resolves as active.
type fakeDirectory struct {
	unknown  map[string]bool
	inactive map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		unknown:  make(map[string]bool),
		inactive: make(map[string]bool),
	}
}

func (d *fakeDirectory) ResolvePatient(_ context.Context, patientID string) (*directory.Patient, error) {
	if d.unknown[patientID] {
		return nil, fmt.Errorf("%w: directory has no such account", models.ErrNotFound)
	}
	return &directory.Patient{PatientID: patientID, Active: !d.inactive[patientID]}, nil
}

func (d *fakeDirectory) ResolveRequester(_ context.Context, requesterID string) (*directory.Requester, error) {
	if d.unknown[requesterID] {
		return nil, fmt.Errorf("%w: directory has no such account", models.ErrNotFound)
	}
	return &directory.Requester{RequesterID: requesterID, Organization: "Test Org", Active: !d.inactive[requesterID]}, nil
}

// fakeNotifier records dispatched notifications for assertions.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	patients []string
}

func (n *fakeNotifier) Notify(_ context.Context, patientID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.patients = append(n.patients, patientID)
	n.messages = append(n.messages, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// testStack wires the full service graph over one test database.
type testStack struct {
	db         *gorm.DB
	audit      *AuditService
	contracts  *ContractService
	compliance *ComplianceService
	intake     *IntakeService
	decisions  *DecisionService
	access     *AccessService
	sweeper    *Sweeper
	directory  *fakeDirectory
	notifier   *fakeNotifier
	policy     config.PolicyConfig
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := setupTestDB(t)
	policy := testPolicy()
	dir := newFakeDirectory()
	notifier := &fakeNotifier{}

	audit := NewAuditService(db)
	contracts := NewContractService(db, audit, policy)
	compliance := NewComplianceService(db, audit, policy)
	intake := NewIntakeService(db, audit, contracts, compliance, dir, notifier, policy)
	decisions := NewDecisionService(db, audit, contracts, policy)
	access := NewAccessService(db, audit)
	sweeper := NewSweeper(db, audit, policy.SweepInterval)

	return &testStack{
		db:         db,
		audit:      audit,
		contracts:  contracts,
		compliance: compliance,
		intake:     intake,
		decisions:  decisions,
		access:     access,
		sweeper:    sweeper,
		directory:  dir,
		notifier:   notifier,
		policy:     policy,
	}
}

// validSubmitInput returns a well-formed submission for patient-1.
func validSubmitInput() *models.SubmitRequestInput {
	now := time.Now().UTC()
	return &models.SubmitRequestInput{
		PatientID:     "patient-1",
		RequesterID:   "hospital-1",
		RequesterType: string(models.RequesterHospital),
		RequesterOrg:  "General Hospital",
		Purpose:       "treatment planning",
		Categories:    []string{"demographics", "medications", "lab_results"},
		Urgency:       string(models.UrgencyNormal),
		ValidFrom:     now.Format(time.RFC3339),
		ValidUntil:    now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
	}
}

// approvedContract submits and approves a request, returning the contract.
func approvedContract(t *testing.T, s *testStack) (*models.ConsentRequest, *models.ConsentContract) {
	t.Helper()
	ctx := context.Background()

	request, _, err := s.intake.SubmitRequest(ctx, validSubmitInput(), "test")
	require.NoError(t, err)

	request, contract, err := s.decisions.Decide(ctx, request.RequestID.String(), &models.DecisionInput{
		ActorID: request.PatientID,
		Outcome: string(models.RequestStatusApproved),
	}, "test")
	require.NoError(t, err)
	require.NotNil(t, contract)
	return request, contract
}
