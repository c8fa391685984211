package handlers

import (
	"context"
	"net/http"

	"github.com/healthdx/consent-engine/v1/models"
	"github.com/healthdx/consent-engine/v1/services"
)

// AccessHandler handles the contract and access gate endpoints.
type AccessHandler struct {
	contracts *services.ContractService
	access    *services.AccessService
}

// NewAccessHandler creates a new contract/access handler.
func NewAccessHandler(contracts *services.ContractService, access *services.AccessService) *AccessHandler {
	return &AccessHandler{contracts: contracts, access: access}
}

// GetContract handles GET /api/v1/contracts/{contractId}
func (h *AccessHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractId")
	if contractID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "contractId is required")
		return
	}

	contract, err := h.contracts.GetContract(r.Context(), contractID)
	if err != nil {
		respondWithServiceError(w, r, err, "get contract")
		return
	}
	respondWithJSON(w, http.StatusOK, contract.ToContractView())
}

// Authorize handles POST /api/v1/access/{contractId}/authorize
//
// A grant is 200; a denial is 403 with the machine-readable reason in the
// decision body. Both outcomes are recorded server-side.
func (h *AccessHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractId")
	if contractID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "contractId is required")
		return
	}

	var input models.AuthorizeInput
	if !decodeJSONBody(w, r, &input) {
		return
	}

	decision, err := h.access.Authorize(r.Context(), contractID, &input, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, "authorize access")
		return
	}

	if decision.Granted() {
		respondWithJSON(w, http.StatusOK, decision)
		return
	}
	respondWithJSON(w, http.StatusForbidden, decision)
}

// ListEvents handles GET /api/v1/contracts/{contractId}/events
func (h *AccessHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	contractID := r.PathValue("contractId")
	if contractID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "contractId is required")
		return
	}

	events, err := h.access.ListEvents(r.Context(), contractID)
	if err != nil {
		respondWithServiceError(w, r, err, "list access events")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
		"count": len(events),
	})
}

// Revoke handles POST /api/v1/contracts/{contractId}/revoke
func (h *AccessHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Revoke, "revoke contract")
}

// Suspend handles POST /api/v1/contracts/{contractId}/suspend
func (h *AccessHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Suspend, "suspend contract")
}

// Reactivate handles POST /api/v1/contracts/{contractId}/reactivate
func (h *AccessHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.contracts.Reactivate, "reactivate contract")
}

func (h *AccessHandler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, contractID, actorID, reason, origin string) (*models.ConsentContract, error), operation string) {
	contractID := r.PathValue("contractId")
	if contractID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "contractId is required")
		return
	}

	var input models.ContractActionInput
	if !decodeJSONBody(w, r, &input) {
		return
	}
	if input.ActorID == "" {
		respondWithError(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "actor_id is required")
		return
	}

	contract, err := fn(r.Context(), contractID, input.ActorID, input.Reason, callerOrigin(r))
	if err != nil {
		respondWithServiceError(w, r, err, operation)
		return
	}
	respondWithJSON(w, http.StatusOK, contract.ToContractView())
}
