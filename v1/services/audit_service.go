package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// OriginInternal tags audit entries triggered by background components
// rather than a network caller.
func OriginInternal(component string) string {
	return "internal:" + component
}

// AuditService writes the append-only, hash-chained audit log. Rows are
// never updated or deleted; each entry's hash covers its predecessor's, so
// in-place tampering is detectable by VerifyChain.
type AuditService struct {
	db *gorm.DB

	// mu serializes appends so the chain head read and the insert are not
	// interleaved between goroutines of this process.
	mu sync.Mutex
}

// NewAuditService creates a new audit recorder.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// auditChainLockID keys the Postgres advisory lock serializing chain
// appends across transactions and processes.
const auditChainLockID int64 = 74201

// AuditEntryParams describes one state-changing action to record.
type AuditEntryParams struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	// Summary is a short before/after account, e.g. "status: submitted -> approved"
	Summary string
	Origin  string
}

// Record appends one entry to the audit log. When tx is non-nil the write
// joins the caller's transaction so the action and its audit entry commit
// together; otherwise the append runs in a transaction of its own.
func (s *AuditService) Record(ctx context.Context, tx *gorm.DB, params AuditEntryParams) error {
	if tx == nil {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.Record(ctx, tx, params)
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The mutex only serializes appends within this process. Under READ
	// COMMITTED two open transactions could still read the same committed
	// head and fork the chain, so on Postgres the head read is guarded by
	// an advisory lock held until the transaction ends.
	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", auditChainLockID).Error; err != nil {
			return fmt.Errorf("failed to lock audit chain: %w", err)
		}
	}

	var head models.AuditLogEntry
	prevHash := ""
	err := tx.Order("seq DESC").Limit(1).First(&head).Error
	switch {
	case err == nil:
		prevHash = head.EntryHash
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Empty log: genesis entry chains from the empty hash.
	default:
		return fmt.Errorf("failed to read audit chain head: %w", err)
	}

	entry := models.AuditLogEntry{
		EntryID:    uuid.New(),
		Actor:      params.Actor,
		Action:     params.Action,
		TargetType: params.TargetType,
		TargetID:   params.TargetID,
		Summary:    params.Summary,
		Origin:     params.Origin,
		PrevHash:   prevHash,
		// Truncated to microseconds: timestamptz stores no finer, and the
		// hash must survive a write/read round trip.
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	entry.EntryHash = entry.ComputeHash(prevHash)

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// VerifyChain walks the full audit log in sequence order and reports the
// first entry whose hash does not match its recomputed value, if any.
// Returns the number of verified entries.
func (s *AuditService) VerifyChain(ctx context.Context) (int64, error) {
	var entries []models.AuditLogEntry
	if err := s.db.WithContext(ctx).Order("seq ASC").Find(&entries).Error; err != nil {
		return 0, fmt.Errorf("failed to load audit log: %w", err)
	}

	prevHash := ""
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prevHash {
			return int64(i), fmt.Errorf("audit chain broken at seq %d: prev_hash mismatch", e.Seq)
		}
		if e.ComputeHash(prevHash) != e.EntryHash {
			return int64(i), fmt.Errorf("audit chain broken at seq %d: entry_hash mismatch", e.Seq)
		}
		prevHash = e.EntryHash
	}
	return int64(len(entries)), nil
}
