package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OtotaO/hipaa-voice-agent/internal/platform/hipaa"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// PHI handling
	PHIRedactionEnabled    bool   `mapstructure:"PHI_REDACTION_ENABLED"`
	PHIMaskCharacter       string `mapstructure:"PHI_MASK_CHARACTER"`
	PHIPatternsFile        string `mapstructure:"PHI_PATTERNS_FILE"`
	HIPAAEncryptionKey     string `mapstructure:"HIPAA_ENCRYPTION_KEY"`
	AuditHMACSecret        string `mapstructure:"AUDIT_HMAC_SECRET"`
	AuditRetentionDays     int    `mapstructure:"AUDIT_RETENTION_DAYS"`
	AuditRetentionSchedule string `mapstructure:"AUDIT_RETENTION_SCHEDULE"`

	// Medplum FHIR backend
	MedplumBaseURL      string `mapstructure:"MEDPLUM_BASE_URL"`
	MedplumTokenURL     string `mapstructure:"MEDPLUM_TOKEN_URL"`
	MedplumClientID     string `mapstructure:"MEDPLUM_CLIENT_ID"`
	MedplumClientSecret string `mapstructure:"MEDPLUM_CLIENT_SECRET"`

	// Stedi clearinghouse
	StediAPIKey       string  `mapstructure:"STEDI_API_KEY"`
	StediBaseURL      string  `mapstructure:"STEDI_BASE_URL"`
	StediRateLimitRPS float64 `mapstructure:"STEDI_RATE_LIMIT_RPS"`
	PracticeName      string  `mapstructure:"PRACTICE_NAME"`

	EligibilityCacheTTLHours int `mapstructure:"ELIGIBILITY_CACHE_TTL_HOURS"`
	EligibilityCacheSize     int `mapstructure:"ELIGIBILITY_CACHE_SIZE"`

	// LLM
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	LLMModel        string `mapstructure:"LLM_MODEL"`

	// Patient line
	BusinessTimezone        string `mapstructure:"BUSINESS_TIMEZONE"`
	OfficeAddress           string `mapstructure:"OFFICE_ADDRESS"`
	OfficeCity              string `mapstructure:"OFFICE_CITY"`
	OfficeState             string `mapstructure:"OFFICE_STATE"`
	OfficeZip               string `mapstructure:"OFFICE_ZIP"`
	OfficePhone             string `mapstructure:"OFFICE_PHONE"`
	CallerSessionTTLMinutes int    `mapstructure:"CALLER_SESSION_TTL_MINUTES"`
	CallerMaxAttempts       int    `mapstructure:"CALLER_MAX_ATTEMPTS"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"PHI_REDACTION_ENABLED", "PHI_MASK_CHARACTER", "PHI_PATTERNS_FILE",
	"HIPAA_ENCRYPTION_KEY", "AUDIT_HMAC_SECRET", "AUDIT_RETENTION_DAYS", "AUDIT_RETENTION_SCHEDULE",
	"MEDPLUM_BASE_URL", "MEDPLUM_TOKEN_URL", "MEDPLUM_CLIENT_ID", "MEDPLUM_CLIENT_SECRET",
	"STEDI_API_KEY", "STEDI_BASE_URL", "STEDI_RATE_LIMIT_RPS", "PRACTICE_NAME",
	"ELIGIBILITY_CACHE_TTL_HOURS", "ELIGIBILITY_CACHE_SIZE",
	"ANTHROPIC_API_KEY", "LLM_MODEL",
	"BUSINESS_TIMEZONE", "OFFICE_ADDRESS", "OFFICE_CITY", "OFFICE_STATE", "OFFICE_ZIP", "OFFICE_PHONE",
	"CALLER_SESSION_TTL_MINUTES", "CALLER_MAX_ATTEMPTS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("PHI_REDACTION_ENABLED", true)
	v.SetDefault("PHI_MASK_CHARACTER", "*")
	v.SetDefault("AUDIT_RETENTION_DAYS", 2555)
	v.SetDefault("AUDIT_RETENTION_SCHEDULE", "@daily")
	v.SetDefault("MEDPLUM_BASE_URL", "https://api.medplum.com/fhir/R4")
	v.SetDefault("MEDPLUM_TOKEN_URL", "https://api.medplum.com/oauth2/token")
	v.SetDefault("STEDI_BASE_URL", "https://healthcare.us.stedi.com/2024-04-01/change/medicalnetwork/eligibility/v3")
	v.SetDefault("STEDI_RATE_LIMIT_RPS", 5)
	v.SetDefault("PRACTICE_NAME", "Medical Practice")
	v.SetDefault("ELIGIBILITY_CACHE_TTL_HOURS", 24)
	v.SetDefault("ELIGIBILITY_CACHE_SIZE", 5000)
	v.SetDefault("LLM_MODEL", "claude-sonnet-4-5")
	v.SetDefault("BUSINESS_TIMEZONE", "America/New_York")
	v.SetDefault("OFFICE_ADDRESS", "123 Medical Center Dr")
	v.SetDefault("OFFICE_CITY", "Louisville")
	v.SetDefault("OFFICE_STATE", "KY")
	v.SetDefault("OFFICE_ZIP", "40202")
	v.SetDefault("OFFICE_PHONE", "502-555-0100")
	v.SetDefault("CALLER_SESSION_TTL_MINUTES", 5)
	v.SetDefault("CALLER_MAX_ATTEMPTS", 3)

	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active; every request gets admin access.")
		if !cfg.PHIRedactionEnabled {
			log.Println("WARNING: PHI_REDACTION_ENABLED=false; logs and audit details will carry raw PHI.")
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. An explicit AUTH_MODE
// wins; otherwise development ENV means "development" and anything else
// means "external".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "external"
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set. In production HIPAA_ENCRYPTION_KEY and
// AUDIT_HMAC_SECRET are required, and PHI redaction cannot be disabled.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "external" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"external\", got %q", mode)
	}
	if mode == "external" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
	}

	if err := hipaa.ValidateMaskChar(c.PHIMaskCharacter); err != nil {
		return fmt.Errorf("PHI_MASK_CHARACTER: %w", err)
	}

	if c.IsProduction() {
		if c.HIPAAEncryptionKey == "" {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is required in production")
		}
		if c.AuditHMACSecret == "" {
			return fmt.Errorf("AUDIT_HMAC_SECRET is required in production")
		}
		if !c.PHIRedactionEnabled {
			return fmt.Errorf("PHI_REDACTION_ENABLED cannot be false in production")
		}
	}
	if c.HIPAAEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.HIPAAEncryptionKey)
		if err != nil {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("HIPAA_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if _, err := time.LoadLocation(c.BusinessTimezone); err != nil {
		return fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}
	if c.CallerMaxAttempts < 1 {
		return fmt.Errorf("CALLER_MAX_ATTEMPTS must be at least 1, got %d", c.CallerMaxAttempts)
	}

	if c.AuditRetentionDays < 2190 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 2190 (6 years), got %d", c.AuditRetentionDays)
	}

	return nil
}

// EncryptionKey returns the decoded HIPAA encryption key, or nil when unset.
// Validate must have succeeded first.
func (c *Config) EncryptionKey() []byte {
	if c.HIPAAEncryptionKey == "" {
		return nil
	}
	b, _ := hex.DecodeString(c.HIPAAEncryptionKey)
	return b
}

// FHIREnabled reports whether Medplum client credentials are configured.
func (c *Config) FHIREnabled() bool {
	return c.MedplumClientID != "" && c.MedplumClientSecret != ""
}

// Location returns the business time zone. Validate must have succeeded
// first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
