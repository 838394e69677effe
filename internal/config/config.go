package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(LoadValidated),
	fx.Provide(NewTenancyPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	PublicURL   string

	OTLPEndpoint string

	Auth     AuthConfig
	APIKey   APIKeyConfig
	Tenancy  TenancyConfig
	Redis    RedisConfig
	Email    EmailConfig
	Seed     SeedConfig
	Realtime RealtimeConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

type AuthConfig struct {
	JWTSecret          string
	JWTIssuer          string
	TokenTTL           time.Duration
	PasswordAlgorithm  string
	BcryptCost         int
	ResetTokenTTL      time.Duration
	MaxFailedLogins    int
	LockoutDuration    time.Duration
	LoginRatePerMinute int
	SessionSweepEvery  time.Duration
}

type APIKeyConfig struct {
	Prefix string
}

type TenancyConfig struct {
	BaseDomains        []string
	ReservedSubdomains []string
	PolicyFile         string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// RealtimeConfig lists the browser origins allowed to open /ws. An empty
// list accepts same-origin requests only.
type RealtimeConfig struct {
	AllowedOrigins []string
}

type SeedConfig struct {
	DemoOrg       bool
	AdminPassword string
}

const (
	PasswordAlgorithmBcrypt   = "bcrypt"
	PasswordAlgorithmArgon2id = "argon2id"

	MinJWTSecretLength = 32
	MinBcryptCost      = 4
	MaxBcryptCost      = 31
)

var (
	ErrMissingJWTSecret       = errors.New("AUTH_JWT_SECRET must be at least 32 bytes")
	ErrInvalidBcryptCost      = errors.New("AUTH_BCRYPT_COST out of range")
	ErrInvalidPasswordAlgo    = errors.New("AUTH_PASSWORD_ALGORITHM must be bcrypt or argon2id")
	ErrInvalidAPIKeyPrefix    = errors.New("APIKEY_PREFIX must be non-empty and must not contain '_'")
	ErrInvalidTokenTTL        = errors.New("AUTH_TOKEN_TTL must be positive")
	ErrInvalidResetTokenTTL   = errors.New("AUTH_RESET_TOKEN_TTL must be positive")
	ErrInvalidMaxFailedLogins = errors.New("AUTH_MAX_FAILED_LOGINS must not be negative")
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "crmauth"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		PublicURL:    strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_APP_URL", "http://localhost:8080")), "/"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Auth: AuthConfig{
			JWTSecret:          strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			JWTIssuer:          strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "crmauth")),
			TokenTTL:           getenvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
			PasswordAlgorithm:  strings.ToLower(strings.TrimSpace(getenv("AUTH_PASSWORD_ALGORITHM", PasswordAlgorithmBcrypt))),
			BcryptCost:         getenvInt("AUTH_BCRYPT_COST", 12),
			ResetTokenTTL:      getenvDuration("AUTH_RESET_TOKEN_TTL", time.Hour),
			MaxFailedLogins:    getenvInt("AUTH_MAX_FAILED_LOGINS", 5),
			LockoutDuration:    getenvDuration("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			LoginRatePerMinute: getenvInt("AUTH_LOGIN_RATE_PER_MINUTE", 20),
			SessionSweepEvery:  getenvDuration("AUTH_SESSION_SWEEP_INTERVAL", 30*time.Minute),
		},
		APIKey: APIKeyConfig{
			Prefix: strings.TrimSpace(getenv("APIKEY_PREFIX", "crmk")),
		},
		Tenancy: TenancyConfig{
			BaseDomains:        getenvList("TENANCY_BASE_DOMAINS", nil),
			ReservedSubdomains: getenvList("TENANCY_RESERVED_SUBDOMAINS", DefaultReservedSubdomains),
			PolicyFile:         strings.TrimSpace(getenv("TENANCY_POLICY_FILE", "")),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins: getenvList("REALTIME_ALLOWED_ORIGINS", nil),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     strings.TrimSpace(getenv("SMTP_FROM", "no-reply@localhost")),
		},
		Seed: SeedConfig{
			DemoOrg:       getenvBool("SEED_DEMO_ORG", false),
			AdminPassword: getenv("SEED_DEMO_ADMIN_PASSWORD", "acme-admin-password"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "crm"),
		DBUser:            getenv("DATABASE_USER", "crm_app"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
	}

	return cfg
}

// LoadValidated loads the configuration and rejects settings the auth core
// cannot run safely with.
func LoadValidated() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !c.IsDevelopment() && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return ErrMissingJWTSecret
	}
	switch c.Auth.PasswordAlgorithm {
	case PasswordAlgorithmBcrypt, PasswordAlgorithmArgon2id:
	default:
		return ErrInvalidPasswordAlgo
	}
	if c.Auth.BcryptCost < MinBcryptCost || c.Auth.BcryptCost > MaxBcryptCost {
		return fmt.Errorf("%w: %d", ErrInvalidBcryptCost, c.Auth.BcryptCost)
	}
	if c.Auth.TokenTTL <= 0 {
		return ErrInvalidTokenTTL
	}
	if c.Auth.ResetTokenTTL <= 0 {
		return ErrInvalidResetTokenTTL
	}
	if c.Auth.MaxFailedLogins < 0 {
		return ErrInvalidMaxFailedLogins
	}
	if c.APIKey.Prefix == "" || strings.Contains(c.APIKey.Prefix, "_") {
		return ErrInvalidAPIKeyPrefix
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return append([]string(nil), def...)
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
