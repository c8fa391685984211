package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/v1/models"
	"gorm.io/gorm"
)

// Sweeper is the lifecycle background worker. On each tick it expires
// requests that passed their response deadline and contracts that passed
// their validity window. Both passes are single set-based updates, so a
// missed tick only delays transitions and a doubled tick changes nothing.
type Sweeper struct {
	db       *gorm.DB
	audit    *AuditService
	interval time.Duration
}

// NewSweeper creates a new lifecycle sweeper.
func NewSweeper(db *gorm.DB, audit *AuditService, interval time.Duration) *Sweeper {
	return &Sweeper{db: db, audit: audit, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled. An immediate first
// pass clears anything that expired while the service was down.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		slog.Info("Lifecycle sweeper started", "interval", s.interval)

		if _, _, err := s.SweepOnce(ctx); err != nil {
			slog.Error("Initial sweep failed", "error", err)
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("Lifecycle sweeper stopped")
				return
			case <-ticker.C:
				if _, _, err := s.SweepOnce(ctx); err != nil {
					slog.Error("Sweep failed", "error", err)
				}
			}
		}
	}()
}

// SweepOnce runs one sweep pass and returns the number of requests and
// contracts it expired.
func (s *Sweeper) SweepOnce(ctx context.Context) (requestsExpired, contractsExpired int64, err error) {
	now := time.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ConsentRequest{}).
			Where("status IN ? AND (respond_by < ? OR valid_until < ?)", openStatuses, now, now).
			Updates(map[string]interface{}{
				"status":     string(models.RequestStatusExpired),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to expire requests: %w", res.Error)
		}
		requestsExpired = res.RowsAffected

		res = tx.Model(&models.ConsentContract{}).
			Where("status IN ? AND valid_until < ?",
				[]string{string(models.ContractStatusActive), string(models.ContractStatusSuspended)}, now).
			Updates(map[string]interface{}{
				"status":     string(models.ContractStatusExpired),
				"updated_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to expire contracts: %w", res.Error)
		}
		contractsExpired = res.RowsAffected

		if requestsExpired == 0 && contractsExpired == 0 {
			return nil
		}
		return s.audit.Record(ctx, tx, AuditEntryParams{
			Actor:      "consent-engine",
			Action:     models.AuditActionSweepCompleted,
			TargetType: "sweep",
			TargetID:   now.Format(time.RFC3339),
			Summary:    fmt.Sprintf("expired %d requests, %d contracts", requestsExpired, contractsExpired),
			Origin:     OriginInternal("sweeper"),
		})
	})
	if err != nil {
		return 0, 0, err
	}

	if requestsExpired > 0 || contractsExpired > 0 {
		slog.Info("Sweep completed", "requestsExpired", requestsExpired, "contractsExpired", contractsExpired)
		monitoring.RecordSweepTransitions("request", requestsExpired)
		monitoring.RecordSweepTransitions("contract", contractsExpired)
	}
	return requestsExpired, contractsExpired, nil
}
