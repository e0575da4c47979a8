package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr  string
	ServerPort  int
	AppBaseURL  string
	AppName     string
	Environment string // "development" or "production"

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Verification token lifetimes
	EmailVerificationTTL  time.Duration
	PasswordResetTTL      time.Duration
	AccountDeletionTTL    time.Duration
	TwoFactorChallengeTTL time.Duration

	// Workflow policy
	RequireEmailVerification   bool
	RequireDeleteConfirmation  bool
	AllowUnverifiedEmailChange bool

	// Two-factor
	TwoFactorEncryptionKey string // 64-char hex (32 bytes) for AES-256

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig
	PasswordPolicy  PasswordPolicyConfig
}

// RateLimitConfig holds the per-class request budgets. The default
// budget mirrors the deployment default of 120 requests per 60 seconds.
type RateLimitConfig struct {
	Enabled bool

	// Default budget applied at the HTTP edge.
	Window      time.Duration
	MaxRequests int

	// Per-operation-class budgets for the injected limiter.
	AuthMaxRequests   int
	ResetMaxRequests  int
	VerifyMaxRequests int
	OTPMaxRequests    int
}

// SecurityHeadersConfig holds OWASP security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
}

// ValidationConfig holds input validation settings.
type ValidationConfig struct {
	StrictEmailValidation bool
	BlockDisposableEmail  bool
	MaxRequestBodySize    int64
}

// PasswordPolicyConfig holds password complexity requirements.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerAddr:  getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:  getEnvInt("SERVER_PORT", 7000),
		AppBaseURL:  getEnv("APP_BASE_URL", "http://localhost:7000"),
		AppName:     getEnv("APP_NAME", "Finora"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "identity"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTIssuer:       getEnv("JWT_ISSUER", "finora-identity"),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		EmailVerificationTTL:  getEnvDuration("EMAIL_VERIFICATION_TTL", time.Hour),
		PasswordResetTTL:      getEnvDuration("PASSWORD_RESET_TTL", 30*time.Minute),
		AccountDeletionTTL:    getEnvDuration("ACCOUNT_DELETION_TTL", 15*time.Minute),
		TwoFactorChallengeTTL: getEnvDuration("TWO_FACTOR_CHALLENGE_TTL", 5*time.Minute),

		RequireEmailVerification:   getEnvBool("REQUIRE_EMAIL_VERIFICATION", true),
		RequireDeleteConfirmation:  getEnvBool("REQUIRE_DELETE_CONFIRMATION", true),
		AllowUnverifiedEmailChange: getEnvBool("ALLOW_UNVERIFIED_EMAIL_CHANGE", false),

		TwoFactorEncryptionKey: getEnv("TWO_FACTOR_ENCRYPTION_KEY", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),

		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("RATE_LIMIT_ENABLED", true),
			Window:            getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			MaxRequests:       getEnvInt("RATE_LIMIT_MAX", 120),
			AuthMaxRequests:   getEnvInt("RATE_LIMIT_AUTH_MAX", 10),
			ResetMaxRequests:  getEnvInt("RATE_LIMIT_RESET_MAX", 5),
			VerifyMaxRequests: getEnvInt("RATE_LIMIT_VERIFY_MAX", 10),
			OTPMaxRequests:    getEnvInt("RATE_LIMIT_OTP_MAX", 10),
		},

		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 31536000),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
		},

		Validation: ValidationConfig{
			StrictEmailValidation: getEnvBool("STRICT_EMAIL_VALIDATION", true),
			BlockDisposableEmail:  getEnvBool("BLOCK_DISPOSABLE_EMAIL", false),
			MaxRequestBodySize:    int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	return cfg, nil
}

// IsProduction reports whether diagnostics should be suppressed in responses.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HasSMTP returns true if outbound email is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// HasGoogleOAuth returns true if Google OAuth is configured.
func (c *Config) HasGoogleOAuth() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// HasTwoFactor returns true if two-factor authentication is configured.
func (c *Config) HasTwoFactor() bool {
	return c.TwoFactorEncryptionKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
