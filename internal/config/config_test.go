package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Environment: "production",
		Auth: AuthConfig{
			JWTSecret:         strings.Repeat("s", MinJWTSecretLength),
			PasswordAlgorithm: PasswordAlgorithmBcrypt,
			BcryptCost:        12,
			TokenTTL:          24 * time.Hour,
			ResetTokenTTL:     time.Hour,
			MaxFailedLogins:   5,
		},
		APIKey: APIKeyConfig{Prefix: "crmk"},
	}
}

func TestValidateRejectsShortSecretOutsideDevelopment(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "short"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingJWTSecret)

	cfg.Environment = "development"
	assert.NoError(t, cfg.Validate())
}

func TestValidateBcryptCostBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.BcryptCost = 3
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBcryptCost)

	cfg.Auth.BcryptCost = 32
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBcryptCost)
}

func TestValidateAPIKeyPrefixMustNotContainSeparator(t *testing.T) {
	cfg := validConfig()
	cfg.APIKey.Prefix = "crm_key"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidAPIKeyPrefix)
}

func TestLoadReadsAuthSettings(t *testing.T) {
	t.Setenv("AUTH_BCRYPT_COST", "10")
	t.Setenv("AUTH_TOKEN_TTL", "2h")
	t.Setenv("TENANCY_BASE_DOMAINS", "CRM.Example.com, app.test")
	t.Setenv("REALTIME_ALLOWED_ORIGINS", "https://App.acme.com, ")

	cfg := Load()
	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"crm.example.com", "app.test"}, cfg.Tenancy.BaseDomains)
	assert.Equal(t, DefaultReservedSubdomains, cfg.Tenancy.ReservedSubdomains)
	assert.Equal(t, []string{"https://app.acme.com"}, cfg.Realtime.AllowedOrigins)
}

func TestTenancyPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenancy.yml")
	content := "tenancy:\n  baseDomains:\n    - crm.example.com\n  reservedSubdomains:\n    - www\n    - Billing\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := Config{Tenancy: TenancyConfig{PolicyFile: path}}
	holder, err := NewTenancyPolicyHolder(cfg)
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, []string{"crm.example.com"}, policy.BaseDomains)
	assert.True(t, policy.IsReserved("billing"))
	assert.False(t, policy.IsReserved("acme"))
}

func TestStaticTenancyPolicyHolder(t *testing.T) {
	holder := NewStaticTenancyPolicyHolder(TenancyPolicy{
		BaseDomains:        []string{".crm.example.com."},
		ReservedSubdomains: []string{" WWW "},
	})
	policy := holder.Get()
	assert.Equal(t, []string{"crm.example.com"}, policy.BaseDomains)
	assert.True(t, policy.IsReserved("www"))
}
