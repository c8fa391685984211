package handlers

import (
	"net/http"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/healthdx/consent-engine/v1/services"
)

// ComplianceHandler handles the compliance alert and audit endpoints.
type ComplianceHandler struct {
	compliance *services.ComplianceService
	audit      *services.AuditService
}

// NewComplianceHandler creates a new compliance handler.
func NewComplianceHandler(compliance *services.ComplianceService, audit *services.AuditService) *ComplianceHandler {
	return &ComplianceHandler{compliance: compliance, audit: audit}
}

// ListAlerts handles GET /api/v1/compliance-alerts?status=&severity=&type=
func (h *ComplianceHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := services.AlertFilter{
		Status:    r.URL.Query().Get("status"),
		Severity:  r.URL.Query().Get("severity"),
		AlertType: r.URL.Query().Get("type"),
	}

	alerts, err := h.compliance.ListAlerts(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, r, err, "list compliance alerts")
		return
	}

	views := make([]models.AlertView, 0, len(alerts))
	for i := range alerts {
		views = append(views, alerts[i].ToAlertView())
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": views,
		"count": len(views),
	})
}

// ResolveAlert handles POST /api/v1/compliance-alerts/{alertId}/resolve
func (h *ComplianceHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("alertId")
	if alertID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "alertId is required")
		return
	}

	var input models.ResolveAlertInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	alert, err := h.compliance.ResolveAlert(r.Context(), alertID, input.ResolverID, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, "resolve compliance alert")
		return
	}
	respondWithJSON(w, http.StatusOK, alert.ToAlertView())
}

// VerifyAuditChain handles GET /internal/api/v1/audit/verify
//
// Walks the full audit log and reports whether the hash chain is intact.
// Internal surface only; a broken chain is an incident, not a 500.
func (h *ComplianceHandler) VerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	verified, err := h.audit.VerifyChain(r.Context())
	if err != nil {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"intact":           false,
			"verified_entries": verified,
			"detail":           err.Error(),
		})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"intact":           true,
		"verified_entries": verified,
	})
}
