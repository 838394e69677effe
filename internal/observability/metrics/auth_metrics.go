package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	OutcomeSuccess      = "success"
	OutcomeInvalid      = "invalid"
	OutcomeLocked       = "locked"
	OutcomeThrottled    = "throttled"
	OutcomeAmbiguous    = "ambiguous"
	OutcomeRevoked      = "revoked"
	OutcomeForbiddenIP  = "forbidden_ip"
	OutcomeStoreFailure = "store_failure"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonConnection           = "connection"
	ReasonUnknown              = "unknown"
)

// AuthMetrics captures authentication and tenant isolation signals.
type AuthMetrics struct {
	loginAttempts      *prometheus.CounterVec
	sessionLookups     *prometheus.CounterVec
	apiKeyVerification *prometheus.CounterVec
	rateLimitDenied    *prometheus.CounterVec
	crossTenantLookups *prometheus.CounterVec
	storeErrors        *prometheus.CounterVec
}

var (
	authMetricsOnce sync.Once
	authMetrics     *AuthMetrics
)

// Auth returns the process-wide auth metrics registered on the default registry.
func Auth(cfg Config) *AuthMetrics {
	authMetricsOnce.Do(func() {
		authMetrics = NewAuthMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return authMetrics
}

// NewAuthMetrics registers the auth collectors on registerer.
func NewAuthMetrics(registerer prometheus.Registerer, cfg Config) *AuthMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "crmauth"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	loginAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_login_attempts_total",
		Help:        "Password login attempts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	sessionLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_session_lookups_total",
		Help:        "Bearer token session lookups by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	apiKeyVerification := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_api_key_verifications_total",
		Help:        "API key verifications by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	rateLimitDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_rate_limit_denied_total",
		Help:        "Requests rejected by a rate limit, by limiter.",
		ConstLabels: constLabels,
	}, []string{"limiter"})
	crossTenantLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_cross_tenant_lookups_total",
		Help:        "Unscoped lookups by named lookup.",
		ConstLabels: constLabels,
	}, []string{"lookup"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "crmauth_store_errors_total",
		Help:        "Store failures on the authentication path, by reason.",
		ConstLabels: constLabels,
	}, []string{"component", "reason"})

	registerer.MustRegister(
		loginAttempts,
		sessionLookups,
		apiKeyVerification,
		rateLimitDenied,
		crossTenantLookups,
		storeErrors,
	)

	return &AuthMetrics{
		loginAttempts:      loginAttempts,
		sessionLookups:     sessionLookups,
		apiKeyVerification: apiKeyVerification,
		rateLimitDenied:    rateLimitDenied,
		crossTenantLookups: crossTenantLookups,
		storeErrors:        storeErrors,
	}
}

func (m *AuthMetrics) IncLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) IncSessionLookup(outcome string) {
	if m == nil {
		return
	}
	m.sessionLookups.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) IncAPIKeyVerification(outcome string) {
	if m == nil {
		return
	}
	m.apiKeyVerification.WithLabelValues(outcome).Inc()
}

func (m *AuthMetrics) IncRateLimitDenied(limiter string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(limiter).Inc()
}

func (m *AuthMetrics) IncCrossTenantLookup(lookup string) {
	if m == nil {
		return
	}
	m.crossTenantLookups.WithLabelValues(lookup).Inc()
}

// IncStoreError counts a failed store call and returns its reason for logging.
func (m *AuthMetrics) IncStoreError(component string, err error) string {
	reason := ClassifyStoreError(err)
	if m != nil && err != nil {
		m.storeErrors.WithLabelValues(component, reason).Inc()
	}
	return reason
}

// ClassifyStoreError maps store errors to low-cardinality reasons.
func ClassifyStoreError(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || errors.Is(err, gorm.ErrInvalidDB) {
		return ReasonConnection
	}
	return ReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
