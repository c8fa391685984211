package handlers

import (
	"net/http"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/healthdx/consent-engine/v1/services"
)

// RequestHandler handles the consent request lifecycle endpoints.
type RequestHandler struct {
	intake    *services.IntakeService
	decisions *services.DecisionService
}

// NewRequestHandler creates a new consent request handler.
func NewRequestHandler(intake *services.IntakeService, decisions *services.DecisionService) *RequestHandler {
	return &RequestHandler{intake: intake, decisions: decisions}
}

// submitResponse is the 201 payload. Contract is present only when the
// emergency fast path issued one at submission time.
type submitResponse struct {
	Request  models.RequestView   `json:"request"`
	Contract *models.ContractView `json:"contract,omitempty"`
}

// SubmitRequest handles POST /api/v1/consent-requests
func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var input models.SubmitRequestInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	request, contract, err := h.intake.SubmitRequest(r.Context(), &input, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, "submit consent request")
		return
	}

	response := submitResponse{Request: request.ToRequestView()}
	if contract != nil {
		view := contract.ToContractView()
		response.Contract = &view
		response.Request.ContractID = &view.ContractID
	}
	respondWithJSON(w, http.StatusCreated, response)
}

// GetRequest handles GET /api/v1/consent-requests/{requestId}
func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	if requestID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "requestId is required")
		return
	}

	request, contract, err := h.intake.GetRequest(r.Context(), requestID)
	if err != nil {
		respondWithServiceError(w, r, err, "get consent request")
		return
	}

	view := request.ToRequestView()
	if contract != nil {
		contractID := contract.ContractID.String()
		view.ContractID = &contractID
	}
	respondWithJSON(w, http.StatusOK, view)
}

// ListRequests handles GET /api/v1/consent-requests?patient_id=&requester_id=&status=
func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := services.RequestFilter{
		PatientID:   r.URL.Query().Get("patient_id"),
		RequesterID: r.URL.Query().Get("requester_id"),
		Status:      r.URL.Query().Get("status"),
	}
	if filter.PatientID == "" && filter.RequesterID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "patient_id or requester_id is required")
		return
	}

	requests, err := h.intake.ListRequests(r.Context(), filter)
	if err != nil {
		respondWithServiceError(w, r, err, "list consent requests")
		return
	}

	views := make([]models.RequestView, 0, len(requests))
	for i := range requests {
		views = append(views, requests[i].ToRequestView())
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": views,
		"count": len(views),
	})
}

// Decide handles POST /api/v1/consent-requests/{requestId}/decision
func (h *RequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	if requestID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "requestId is required")
		return
	}

	var input models.DecisionInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	request, contract, err := h.decisions.Decide(r.Context(), requestID, &input, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, "decide consent request")
		return
	}

	response := submitResponse{Request: request.ToRequestView()}
	if contract != nil {
		view := contract.ToContractView()
		response.Contract = &view
		response.Request.ContractID = &view.ContractID
	}
	respondWithJSON(w, http.StatusOK, response)
}

// Withdraw handles POST /api/v1/consent-requests/{requestId}/withdraw
func (h *RequestHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("requestId")
	if requestID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "requestId is required")
		return
	}

	var input models.WithdrawInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	request, err := h.decisions.Withdraw(r.Context(), requestID, input.RequesterID, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, "withdraw consent request")
		return
	}
	respondWithJSON(w, http.StatusOK, request.ToRequestView())
}
