package router

import (
	"net/http"

	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/v1/auth"
	"github.com/healthdx/consent-engine/v1/handlers"
	"github.com/healthdx/consent-engine/v1/middleware"
)

// V1Router handles all V1 API route registration
type V1Router struct {
	requestHandler    *handlers.RequestHandler
	accessHandler     *handlers.AccessHandler
	complianceHandler *handlers.ComplianceHandler
	authMiddleware    *middleware.JWTAuthMiddleware
	corsMiddleware    func(http.Handler) http.Handler
	authEnabled       bool
}

// NewV1Router creates a new V1 router with all dependencies. When
// jwtVerifier is nil (auth disabled for local development) the decision
// surface is registered without token enforcement.
func NewV1Router(
	requestHandler *handlers.RequestHandler,
	accessHandler *handlers.AccessHandler,
	complianceHandler *handlers.ComplianceHandler,
	jwtVerifier *auth.JWTVerifier,
) *V1Router {
	r := &V1Router{
		requestHandler:    requestHandler,
		accessHandler:     accessHandler,
		complianceHandler: complianceHandler,
		corsMiddleware:    middleware.NewCORSMiddleware(),
	}
	if jwtVerifier != nil {
		r.authMiddleware = middleware.NewJWTAuthMiddleware(jwtVerifier)
		r.authEnabled = true
	}
	return r
}

// RegisterRoutes registers all V1 API routes to the provided mux
func (r *V1Router) RegisterRoutes(mux *http.ServeMux) {
	r.registerRequestRoutes(mux)
	r.registerContractRoutes(mux)
	r.registerComplianceRoutes(mux)
}

// registerRequestRoutes registers the consent request lifecycle routes.
// The decision endpoint carries patient identity and is the one surface
// behind JWT auth when enabled.
func (r *V1Router) registerRequestRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/v1/consent-requests",
		r.public(http.HandlerFunc(r.requestHandler.SubmitRequest)))
	mux.Handle("GET /api/v1/consent-requests",
		r.public(http.HandlerFunc(r.requestHandler.ListRequests)))
	mux.Handle("GET /api/v1/consent-requests/{requestId}",
		r.public(http.HandlerFunc(r.requestHandler.GetRequest)))
	mux.Handle("POST /api/v1/consent-requests/{requestId}/decision",
		r.protected(http.HandlerFunc(r.requestHandler.Decide)))
	mux.Handle("POST /api/v1/consent-requests/{requestId}/withdraw",
		r.public(http.HandlerFunc(r.requestHandler.Withdraw)))
}

// registerContractRoutes registers the contract and access gate routes
func (r *V1Router) registerContractRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/contracts/{contractId}",
		r.public(http.HandlerFunc(r.accessHandler.GetContract)))
	mux.Handle("GET /api/v1/contracts/{contractId}/events",
		r.public(http.HandlerFunc(r.accessHandler.ListEvents)))
	mux.Handle("POST /api/v1/access/{contractId}/authorize",
		r.public(http.HandlerFunc(r.accessHandler.Authorize)))
	mux.Handle("POST /api/v1/contracts/{contractId}/revoke",
		r.protected(http.HandlerFunc(r.accessHandler.Revoke)))
	mux.Handle("POST /api/v1/contracts/{contractId}/suspend",
		r.protected(http.HandlerFunc(r.accessHandler.Suspend)))
	mux.Handle("POST /api/v1/contracts/{contractId}/reactivate",
		r.protected(http.HandlerFunc(r.accessHandler.Reactivate)))
}

// registerComplianceRoutes registers the alert review and audit routes
func (r *V1Router) registerComplianceRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/compliance-alerts",
		r.protected(http.HandlerFunc(r.complianceHandler.ListAlerts)))
	mux.Handle("POST /api/v1/compliance-alerts/{alertId}/resolve",
		r.protected(http.HandlerFunc(r.complianceHandler.ResolveAlert)))

	// Internal surface, never exposed through the public gateway
	mux.Handle("GET /internal/api/v1/audit/verify",
		middleware.PanicRecoveryMiddleware(http.HandlerFunc(r.complianceHandler.VerifyAuditChain)))
}

// public wraps a handler with panic recovery and metrics only
func (r *V1Router) public(h http.Handler) http.Handler {
	return middleware.PanicRecoveryMiddleware(monitoring.HTTPMetricsMiddleware(h))
}

// protected wraps a handler with panic recovery, metrics and, when
// enabled, JWT authentication
func (r *V1Router) protected(h http.Handler) http.Handler {
	if r.authEnabled {
		h = r.authMiddleware.Authenticate(h)
	}
	return middleware.PanicRecoveryMiddleware(monitoring.HTTPMetricsMiddleware(h))
}

// ApplyCORS wraps a handler with CORS middleware
func (r *V1Router) ApplyCORS(handler http.Handler) http.Handler {
	return r.corsMiddleware(handler)
}
