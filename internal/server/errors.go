package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/crmauth/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/authorization"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// unauthenticatedPayload is the one body every authentication failure gets,
// whatever the underlying cause.
var unauthenticatedPayload = errorPayload{
	Type:    "unauthenticated",
	Message: "invalid token",
}

type validationRule struct {
	err   error
	field string
	code  string
}

var validationRules = []validationRule{
	{ErrInvalidRequest, "request", "invalid_request"},
	{authdomain.ErrInvalidEmail, "email", "invalid_email"},
	{authdomain.ErrWeakPassword, "password", "weak_password"},
	{authdomain.ErrInvalidName, "name", "invalid_name"},
	{authdomain.ErrCannotDeleteSelf, "id", "cannot_delete_self"},
	{authdomain.ErrInvalidResetToken, "token", "invalid_reset_token"},
	{orgdomain.ErrInvalidOrganization, "organization", "invalid_organization"},
	{orgdomain.ErrInvalidName, "name", "invalid_name"},
	{orgdomain.ErrInvalidSlug, "slug", "invalid_slug"},
	{orgdomain.ErrReservedSlug, "slug", "reserved_slug"},
	{orgdomain.ErrInvalidDomain, "domain", "invalid_domain"},
	{orgdomain.ErrInvalidMaxUsers, "max_users", "invalid_max_users"},
	{orgdomain.ErrConfirmationMismatch, "confirm", "confirmation_mismatch"},
	{apikeydomain.ErrInvalidOrganization, "organization", "invalid_organization"},
	{apikeydomain.ErrInvalidName, "name", "invalid_name"},
	{apikeydomain.ErrInvalidAllowedIP, "allowed_ips", "invalid_allowed_ip"},
	{apikeydomain.ErrInvalidRateLimit, "rate_limit_per_hour", "invalid_rate_limit"},
	{apikeydomain.ErrInvalidExpiry, "expires_at", "invalid_expiry"},
	{authorization.ErrInvalidRole, "role", "invalid_role"},
	{authorization.ErrInvalidPermission, "permissions", "invalid_permission"},
	{authorization.ErrImmutableRole, "role", "immutable_role"},
	{auditdomain.ErrInvalidPageToken, "page_token", "invalid_page_token"},
	{auditdomain.ErrInvalidTimeRange, "start_at", "invalid_time_range"},
	{auditdomain.ErrInvalidAction, "action", "invalid_action"},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if rule, ok := matchValidationRule(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   rule.field,
					Code:    rule.code,
					Message: rule.err.Error(),
				},
			},
		}
	}

	switch {
	case isUnauthenticatedError(err):
		return http.StatusUnauthorized, unauthenticatedPayload
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, orgdomain.ErrOrganizationInactive):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, orgdomain.ErrOrganizationNotFound):
		return http.StatusBadRequest, errorPayload{
			Type:    "organization_not_found",
			Message: "organization could not be resolved",
		}
	case errors.Is(err, authdomain.ErrOrganizationRequired):
		return http.StatusBadRequest, errorPayload{
			Type:    "organization_required",
			Message: "email belongs to several organizations, name one",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, authdomain.ErrDuplicateEmail),
		errors.Is(err, orgdomain.ErrDuplicateSlug),
		errors.Is(err, orgdomain.ErrDuplicateDomain),
		errors.Is(err, authdomain.ErrLastAdmin),
		errors.Is(err, authdomain.ErrUserLimitReached):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrRateLimited),
		errors.Is(err, authdomain.ErrTooManyAttempts):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds error_type and error_code of the request log.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	if err == nil {
		return payload.Type, ""
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchValidationRule(err error) (validationRule, bool) {
	for _, rule := range validationRules {
		if errors.Is(err, rule.err) {
			return rule, true
		}
	}
	return validationRule{}, false
}

func isUnauthenticatedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrUnauthenticated),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, apikeydomain.ErrMalformedKey),
		errors.Is(err, apikeydomain.ErrInvalidKey),
		errors.Is(err, apikeydomain.ErrIPNotAllowed):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, apikeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
