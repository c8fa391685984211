// Package config provides environment-driven configuration for the
// consent engine, including the auditable access policy defaults.
package config

import (
	"flag"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/healthdx/consent-engine/v1/models"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	Service     ServiceConfig
	Logging     LoggingConfig
	Security    SecurityConfig
	IDP         IDPConfig
	DB          DBConfig
	Policy      PolicyConfig
	Collab      CollaboratorConfig
}

// ServiceConfig holds service-specific configuration
type ServiceConfig struct {
	Name           string
	Port           string
	Host           string
	Timeout        time.Duration
	AllowedOrigins string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	EnableCORS bool
	// EnableAuth gates JWT enforcement on the patient decision surface.
	// Disabled for local development, required in production.
	EnableAuth bool
}

// IDPConfig holds identity-provider configuration for JWT verification
type IDPConfig struct {
	Issuer   string
	JwksURL  string
	Audience string
}

// DBConfig holds database configuration
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// PolicyConfig holds the explicit, auditable access-policy defaults. These
// are configuration rather than hardcoded constants so that emergency-access
// scope and quota changes leave a deployment trail.
type PolicyConfig struct {
	// MaxValiditySpan caps the validity window a request may ask for
	MaxValiditySpan time.Duration
	// ResponseDeadline is how long a request may await a patient decision
	// before the sweeper expires it
	ResponseDeadline time.Duration
	// OpenRequestCap bounds a single requester's undecided requests
	OpenRequestCap int64
	// DefaultMaxAccessCount is the contract quota unless the request asked
	// for a tighter cap; 0 means unlimited
	DefaultMaxAccessCount int64
	// EmergencyMaxAccessCount is the quota for emergency-path contracts
	EmergencyMaxAccessCount int64
	// EmergencyCategories is the widest category set an emergency grant
	// may carry
	EmergencyCategories []models.DataCategory
	// EmergencyValidity caps the emergency contract window
	EmergencyValidity time.Duration
	// EmergencyOverrideActors may decide requests on behalf of patients
	// on the emergency fast path
	EmergencyOverrideActors []string
	// SweepInterval is the lifecycle sweeper period
	SweepInterval time.Duration
	// ComplianceScanInterval is the compliance monitor period
	ComplianceScanInterval time.Duration
	// DenialAlertThreshold is the per-accessor denial count within
	// DenialAlertWindow that raises a probing alert
	DenialAlertThreshold int64
	DenialAlertWindow    time.Duration
}

// CollaboratorConfig holds endpoints of external collaborators
type CollaboratorConfig struct {
	// NotifyURL is the notification sender endpoint; empty disables dispatch
	NotifyURL string
	// DirectoryURL is the profile directory endpoint
	DirectoryURL string
}

// LoadConfig loads configuration from flags and environment variables
func LoadConfig(serviceName string) *Config {
	env := GetEnvOrDefault("ENVIRONMENT", "local")

	envFlag := flag.String("env", env, "Environment: local or production")
	port := flag.String("port", GetEnvOrDefault("PORT", "8081"), "Service port")
	host := flag.String("host", GetEnvOrDefault("HOST", "0.0.0.0"), "Host address")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	logLevel := flag.String("log-level", getDefaultLogLevel(env), "Log level")
	logFormat := flag.String("log-format", getDefaultLogFormat(env), "Log format")
	flag.Parse()

	cfg := &Config{
		Environment: *envFlag,
		Service: ServiceConfig{
			Name:           serviceName,
			Port:           *port,
			Host:           *host,
			Timeout:        *timeout,
			AllowedOrigins: GetEnvOrDefault("CORS_ALLOWED_ORIGINS", ""),
		},
		Logging: LoggingConfig{
			Level:  *logLevel,
			Format: *logFormat,
		},
		Security: SecurityConfig{
			EnableCORS: getEnvBoolOrDefault("ENABLE_CORS", env != "production"),
			EnableAuth: getEnvBoolOrDefault("ENABLE_AUTH", env == "production"),
		},
		IDP: IDPConfig{
			Issuer:   GetEnvOrDefault("IDP_ISSUER", ""),
			JwksURL:  GetEnvOrDefault("IDP_JWKS_URL", ""),
			Audience: GetEnvOrDefault("IDP_AUDIENCE", ""),
		},
		DB: DBConfig{
			Host:     GetEnvOrDefault("DB_HOST", "localhost"),
			Port:     GetEnvOrDefault("DB_PORT", "5432"),
			Username: GetEnvOrDefault("DB_USERNAME", "postgres"),
			Password: GetEnvOrDefault("DB_PASSWORD", ""),
			Database: GetEnvOrDefault("DB_NAME", "consent_engine"),
			SSLMode:  GetEnvOrDefault("DB_SSLMODE", "require"),
		},
		Policy:  loadPolicyConfig(),
		Collab:  loadCollaboratorConfig(),
	}

	return cfg
}

// loadPolicyConfig reads the policy knobs and logs the effective values so
// every deployment's emergency-access scope is on record.
func loadPolicyConfig() PolicyConfig {
	p := PolicyConfig{
		MaxValiditySpan:         getEnvDurationOrDefault("POLICY_MAX_VALIDITY_SPAN", 365*24*time.Hour),
		ResponseDeadline:        getEnvDurationOrDefault("POLICY_RESPONSE_DEADLINE", 72*time.Hour),
		OpenRequestCap:          getEnvInt64OrDefault("POLICY_OPEN_REQUEST_CAP", 10),
		DefaultMaxAccessCount:   getEnvInt64OrDefault("POLICY_DEFAULT_MAX_ACCESS_COUNT", 25),
		EmergencyMaxAccessCount: getEnvInt64OrDefault("POLICY_EMERGENCY_MAX_ACCESS_COUNT", 1),
		EmergencyCategories:     parseEmergencyCategories(GetEnvOrDefault("POLICY_EMERGENCY_CATEGORIES", "demographics,medications")),
		EmergencyValidity:       getEnvDurationOrDefault("POLICY_EMERGENCY_VALIDITY", 24*time.Hour),
		EmergencyOverrideActors: splitNonEmpty(GetEnvOrDefault("POLICY_EMERGENCY_OVERRIDE_ACTORS", "")),
		SweepInterval:           getEnvDurationOrDefault("SWEEP_INTERVAL", 5*time.Minute),
		ComplianceScanInterval:  getEnvDurationOrDefault("COMPLIANCE_SCAN_INTERVAL", time.Minute),
		DenialAlertThreshold:    getEnvInt64OrDefault("COMPLIANCE_DENIAL_ALERT_THRESHOLD", 5),
		DenialAlertWindow:       getEnvDurationOrDefault("COMPLIANCE_DENIAL_ALERT_WINDOW", 15*time.Minute),
	}

	slog.Info("Access policy loaded",
		"maxValiditySpan", p.MaxValiditySpan,
		"responseDeadline", p.ResponseDeadline,
		"openRequestCap", p.OpenRequestCap,
		"defaultMaxAccessCount", p.DefaultMaxAccessCount,
		"emergencyMaxAccessCount", p.EmergencyMaxAccessCount,
		"emergencyCategories", p.EmergencyCategories,
		"emergencyValidity", p.EmergencyValidity)

	return p
}

func loadCollaboratorConfig() CollaboratorConfig {
	return CollaboratorConfig{
		NotifyURL:    GetEnvOrDefault("NOTIFY_URL", ""),
		DirectoryURL: GetEnvOrDefault("DIRECTORY_URL", "http://localhost:8085"),
	}
}

// parseEmergencyCategories validates the configured emergency category list
// against the closed vocabulary, dropping unknown values with a warning
// rather than granting them.
func parseEmergencyCategories(raw string) []models.DataCategory {
	out := make([]models.DataCategory, 0, 4)
	for _, part := range splitNonEmpty(raw) {
		c := models.DataCategory(part)
		if !c.IsValid() {
			slog.Warn("Ignoring unknown emergency category in policy", "category", part)
			continue
		}
		out = append(out, c)
	}
	return out
}

func splitNonEmpty(raw string) []string {
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvOrDefault returns the environment variable value or a default
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Invalid boolean environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		slog.Warn("Invalid integer environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration environment variable, using default", "key", key, "value", value)
		return defaultValue
	}
	return parsed
}

func getDefaultLogLevel(env string) string {
	if env == "production" {
		return "warn"
	}
	return "debug"
}

func getDefaultLogFormat(env string) string {
	if env == "production" {
		return "json"
	}
	return "text"
}
