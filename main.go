package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/healthdx/consent-engine/internal/config"
	"github.com/healthdx/consent-engine/internal/directory"
	"github.com/healthdx/consent-engine/internal/monitoring"
	"github.com/healthdx/consent-engine/internal/notify"
	"github.com/healthdx/consent-engine/internal/server"
	"github.com/healthdx/consent-engine/v1/auth"
	"github.com/healthdx/consent-engine/v1/database"
	"github.com/healthdx/consent-engine/v1/handlers"
	"github.com/healthdx/consent-engine/v1/middleware"
	"github.com/healthdx/consent-engine/v1/router"
	"github.com/healthdx/consent-engine/v1/services"
	"github.com/joho/godotenv"
)

const serviceName = "consent-engine"

func main() {
	// Local development convenience; production supplies real env vars
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg := config.LoadConfig(serviceName)
	server.SetupLogging(cfg.Logging.Format, cfg.Logging.Level)

	slog.Info("Starting consent engine", "environment", cfg.Environment, "port", cfg.Service.Port)

	if err := monitoring.Initialize(monitoring.DefaultConfig(serviceName)); err != nil {
		slog.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	db, err := database.ConnectGormDB(database.NewDatabaseConfig(&cfg.DB))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	dir, err := directory.NewClient(cfg.Collab.DirectoryURL)
	if err != nil {
		slog.Error("Failed to create directory client", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewClient(cfg.Collab.NotifyURL)

	auditService := services.NewAuditService(db)
	contractService := services.NewContractService(db, auditService, cfg.Policy)
	complianceService := services.NewComplianceService(db, auditService, cfg.Policy)
	intakeService := services.NewIntakeService(db, auditService, contractService, complianceService, dir, notifier, cfg.Policy)
	decisionService := services.NewDecisionService(db, auditService, contractService, cfg.Policy)
	accessService := services.NewAccessService(db, auditService)
	sweeper := services.NewSweeper(db, auditService, cfg.Policy.SweepInterval)

	var jwtVerifier *auth.JWTVerifier
	if cfg.Security.EnableAuth {
		jwtVerifier, err = auth.NewJWTVerifier(auth.JWTVerifierConfig{
			JWKSUrl:  cfg.IDP.JwksURL,
			Issuer:   cfg.IDP.Issuer,
			Audience: cfg.IDP.Audience,
		})
		if err != nil {
			slog.Error("Failed to create JWT verifier", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("JWT authentication disabled", "environment", cfg.Environment)
	}

	requestHandler := handlers.NewRequestHandler(intakeService, decisionService)
	accessHandler := handlers.NewAccessHandler(contractService, accessService)
	complianceHandler := handlers.NewComplianceHandler(complianceService, auditService)

	mux := http.NewServeMux()
	v1Router := router.NewV1Router(requestHandler, accessHandler, complianceHandler, jwtVerifier)
	v1Router.RegisterRoutes(mux)

	mux.Handle("GET /health", middleware.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service":"` + serviceName + `","status":"healthy"}`))
	})))
	mux.Handle("GET /metrics", monitoring.Handler())

	var handler http.Handler = mux
	if cfg.Security.EnableCORS {
		handler = v1Router.ApplyCORS(handler)
	}

	// Background workers stop before the listener on shutdown
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	sweeper.Start(workerCtx)
	complianceService.Start(workerCtx)

	srv := server.New(server.DefaultConfig(cfg.Service.Port), handler)
	if err := server.StartWithGracefulShutdown(srv, serviceName, stopWorkers); err != nil {
		os.Exit(1)
	}
}
