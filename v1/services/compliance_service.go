package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// ComplianceService raises and administers compliance alerts. Emergency
// grants are flagged synchronously at intake; the periodic scan looks for
// patterns in the access event stream that no single request reveals.
type ComplianceService struct {
	db     *gorm.DB
	audit  *AuditService
	policy config.PolicyConfig
}

// NewComplianceService creates a new compliance monitor.
func NewComplianceService(db *gorm.DB, audit *AuditService, policy config.PolicyConfig) *ComplianceService {
	return &ComplianceService{db: db, audit: audit, policy: policy}
}

// RaiseInTx creates an alert inside the caller's transaction, unless an
// open alert of the same type for the same subject already exists. The
// dedup keeps a persistent pattern from flooding the review queue.
func (s *ComplianceService) RaiseInTx(ctx context.Context, tx *gorm.DB, alertType models.AlertType, severity models.AlertSeverity, subjectType models.AlertSubjectType, subjectID, description, origin string) error {
	var open int64
	if err := tx.Model(&models.ComplianceAlert{}).
		Where("alert_type = ? AND subject_id = ? AND status = ?", string(alertType), subjectID, string(models.AlertStatusOpen)).
		Count(&open).Error; err != nil {
		return fmt.Errorf("failed to check for open alert: %w", err)
	}
	if open > 0 {
		return nil
	}

	alert := &models.ComplianceAlert{
		AlertID:     uuid.New(),
		AlertType:   string(alertType),
		Severity:    string(severity),
		SubjectType: string(subjectType),
		SubjectID:   subjectID,
		Description: description,
		Status:      string(models.AlertStatusOpen),
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create compliance alert: %w", err)
	}

	if err := s.audit.Record(ctx, tx, AuditEntryParams{
		Actor:      "consent-engine",
		Action:     models.AuditActionAlertRaised,
		TargetType: "alert",
		TargetID:   alert.AlertID.String(),
		Summary:    fmt.Sprintf("%s (%s) on %s %s", alertType, severity, subjectType, subjectID),
		Origin:     origin,
	}); err != nil {
		return err
	}

	monitoring.RecordBusinessEvent(models.AuditActionAlertRaised, string(alertType))
	slog.Warn("Compliance alert raised",
		"alertId", alert.AlertID, "type", alertType, "severity", severity,
		"subjectType", subjectType, "subjectId", subjectID)
	return nil
}

// Start runs the periodic scan until ctx is cancelled.
func (s *ComplianceService) Start(ctx context.Context) {
	go func() {
		slog.Info("Compliance scanner started", "interval", s.policy.ComplianceScanInterval)
		ticker := time.NewTicker(s.policy.ComplianceScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("Compliance scanner stopped")
				return
			case <-ticker.C:
				if _, err := s.ScanOnce(ctx); err != nil {
					slog.Error("Compliance scan failed", "error", err)
				}
			}
		}
	}()
}

// ScanOnce runs one detection pass over the recent access event stream and
// returns the number of alerts raised.
func (s *ComplianceService) ScanOnce(ctx context.Context) (int64, error) {
	var raised int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.scanRepeatedDenials(ctx, tx)
		if err != nil {
			return err
		}
		raised += n

		n, err = s.scanTerminalContractUsage(ctx, tx)
		if err != nil {
			return err
		}
		raised += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return raised, nil
}

// scanRepeatedDenials flags accessors who accumulated enough quota or
// scope denials inside the configured window to look like probing.
// Revoked/expired-contract denials are the terminal-usage scan's concern.
func (s *ComplianceService) scanRepeatedDenials(ctx context.Context, tx *gorm.DB) (int64, error) {
	since := time.Now().UTC().Add(-s.policy.DenialAlertWindow)
	probingReasons := []string{
		string(models.DenialReasonQuotaExhausted),
		string(models.DenialReasonCategoryNotPermitted),
	}

	type denialRow struct {
		AccessorID string
		Denials    int64
	}
	var rows []denialRow
	if err := tx.Model(&models.AccessEvent{}).
		Select("accessor_id, COUNT(*) AS denials").
		Where("outcome = ? AND denial_reason IN ? AND created_at >= ?",
			string(models.OutcomeDenied), probingReasons, since).
		Group("accessor_id").
		Having("COUNT(*) >= ?", s.policy.DenialAlertThreshold).
		Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to scan denials: %w", err)
	}

	var raised int64
	for _, row := range rows {
		severity := models.SeverityMedium
		if row.Denials >= 2*s.policy.DenialAlertThreshold {
			severity = models.SeverityHigh
		}
		before, err := s.openAlertCount(tx, models.AlertTypeRepeatedDenials, row.AccessorID)
		if err != nil {
			return raised, err
		}
		if err := s.RaiseInTx(ctx, tx, models.AlertTypeRepeatedDenials, severity,
			models.SubjectAccessor, row.AccessorID,
			fmt.Sprintf("%d denied access attempts within %s", row.Denials, s.policy.DenialAlertWindow),
			OriginInternal("compliance-scan")); err != nil {
			return raised, err
		}
		if before == 0 {
			raised++
		}
	}
	return raised, nil
}

// scanTerminalContractUsage flags contracts that keep receiving access
// attempts after revocation or expiry.
func (s *ComplianceService) scanTerminalContractUsage(ctx context.Context, tx *gorm.DB) (int64, error) {
	since := time.Now().UTC().Add(-s.policy.DenialAlertWindow)
	terminalReasons := []string{
		string(models.DenialReasonRevoked),
		string(models.DenialReasonExpired),
	}

	type usageRow struct {
		ContractID string
		Attempts   int64
	}
	var rows []usageRow
	if err := tx.Model(&models.AccessEvent{}).
		Select("contract_id, COUNT(*) AS attempts").
		Where("outcome = ? AND denial_reason IN ? AND created_at >= ?",
			string(models.OutcomeDenied), terminalReasons, since).
		Group("contract_id").
		Scan(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to scan terminal contract usage: %w", err)
	}

	var raised int64
	for _, row := range rows {
		before, err := s.openAlertCount(tx, models.AlertTypeTerminalContractUsage, row.ContractID)
		if err != nil {
			return raised, err
		}
		if err := s.RaiseInTx(ctx, tx, models.AlertTypeTerminalContractUsage, models.SeverityMedium,
			models.SubjectContract, row.ContractID,
			fmt.Sprintf("%d access attempts against a revoked or expired contract within %s", row.Attempts, s.policy.DenialAlertWindow),
			OriginInternal("compliance-scan")); err != nil {
			return raised, err
		}
		if before == 0 {
			raised++
		}
	}
	return raised, nil
}

func (s *ComplianceService) openAlertCount(tx *gorm.DB, alertType models.AlertType, subjectID string) (int64, error) {
	var n int64
	err := tx.Model(&models.ComplianceAlert{}).
		Where("alert_type = ? AND subject_id = ? AND status = ?", string(alertType), subjectID, string(models.AlertStatusOpen)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count open alerts: %w", err)
	}
	return n, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status    string
	Severity  string
	AlertType string
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *ComplianceService) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.ComplianceAlert, error) {
	if filter.Status != "" {
		if st := models.AlertStatus(filter.Status); st != models.AlertStatusOpen && st != models.AlertStatusResolved {
			return nil, fmt.Errorf("%w: unknown alert status %q", models.ErrValidation, filter.Status)
		}
	}
	if filter.Severity != "" && !models.AlertSeverity(filter.Severity).IsValid() {
		return nil, fmt.Errorf("%w: unknown severity %q", models.ErrValidation, filter.Severity)
	}

	query := s.db.WithContext(ctx).Model(&models.ComplianceAlert{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.AlertType != "" {
		query = query.Where("alert_type = ?", filter.AlertType)
	}

	var alerts []models.ComplianceAlert
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list compliance alerts: %w", err)
	}
	return alerts, nil
}

// ResolveAlert closes an open alert. The only permitted mutation of an
// alert is open -> resolved.
func (s *ComplianceService) ResolveAlert(ctx context.Context, alertID, resolverID, origin string) (*models.ComplianceAlert, error) {
	parsedID, err := uuid.Parse(alertID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid alert ID", models.ErrValidation)
	}
	if resolverID == "" {
		return nil, fmt.Errorf("%w: resolver_id is required", models.ErrValidation)
	}

	var alert models.ComplianceAlert
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("alert_id = ?", parsedID).First(&alert).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: alert %s", models.ErrNotFound, alertID)
			}
			return fmt.Errorf("failed to load alert: %w", err)
		}

		if alert.Status != string(models.AlertStatusOpen) {
			return fmt.Errorf("%w: alert is already %s", models.ErrConflict, alert.Status)
		}

		now := time.Now().UTC()
		alert.Status = string(models.AlertStatusResolved)
		alert.ResolvedBy = &resolverID
		alert.ResolvedAt = &now
		if err := tx.Save(&alert).Error; err != nil {
			return fmt.Errorf("failed to resolve alert: %w", err)
		}

		return s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      resolverID,
			Action:     models.AuditActionAlertResolved,
			TargetType: "alert",
			TargetID:   alert.AlertID.String(),
			Summary:    "status: open -> resolved",
			Origin:     origin,
		})
	})
	if err != nil {
		return nil, err
	}

	monitoring.RecordBusinessEvent(models.AuditActionAlertResolved, alert.AlertType)
	return &alert, nil
}
