package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/providers/email"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const resetTokenBytes = 32

// RequestPasswordReset stores a single-use reset token for the user with
// email in orgID and mails it. Unknown addresses are not reported, callers
// always answer the same way.
func (s *Service) RequestPasswordReset(ctx context.Context, orgID uuid.UUID, rawEmail string) error {
	addr, err := domain.NormalizeEmail(rawEmail)
	if err != nil {
		return nil
	}

	rawToken, err := newResetToken()
	if err != nil {
		return err
	}

	now := s.now()
	expiresAt := now.Add(s.resetTTL)
	var user *domain.User
	err = rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		found, err := s.users.FindByEmail(ctx, scope, addr)
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !found.Live() {
			return nil
		}
		user = found
		return s.users.Update(ctx, scope, found.ID, map[string]any{
			"reset_token_hash":       hashToken(rawToken),
			"reset_token_expires_at": expiresAt,
			"updated_at":             now,
		})
	})
	if err != nil {
		s.storeFailure(ctx, "password_reset_request", err)
		return nil
	}
	if user == nil {
		return nil
	}

	org, err := s.orgs.FindByID(ctx, orgID)
	if err != nil {
		s.storeFailure(ctx, "password_reset_request", err)
		return nil
	}

	if s.mailer != nil {
		err := s.mailer.SendTemplate(ctx, []string{user.Email}, email.TemplatePasswordReset, map[string]any{
			"name":       user.Name,
			"org_name":   org.Name,
			"reset_url":  s.resetURL(rawToken),
			"expires_in": s.resetTTL.String(),
		})
		if err != nil {
			s.log.Warn("failed to send password reset email", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}

	s.audit(ctx, orgID, string(auditdomain.ActorTypeAnonymous), "", auditdomain.ActionPasswordResetSent, "user", user.ID.String(), nil)
	return nil
}

// ResetPassword redeems a reset token. The owner is found with the named
// cross-tenant lookup; the update itself runs in the owner's tenant scope and
// revokes every session of the user.
func (s *Service) ResetPassword(ctx context.Context, rawToken, next string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return domain.ErrInvalidResetToken
	}
	if err := domain.ValidatePassword(next); err != nil {
		return err
	}

	tokenHash := hashToken(rawToken)
	now := s.now()

	var candidate *domain.ResetCandidate
	err := rls.CrossTenant(ctx, s.db, rls.LookupResetByToken, func(tx *gorm.DB) error {
		var err error
		candidate, err = s.users.FindByResetToken(ctx, tx, tokenHash, now)
		return err
	})
	s.metrics.IncCrossTenantLookup(string(rls.LookupResetByToken))
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidResetToken) {
			s.storeFailure(ctx, "password_reset_lookup", err)
		}
		return domain.ErrInvalidResetToken
	}

	hashed, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	var revoked int64
	err = rls.WithTenant(ctx, s.db, candidate.OrgID, func(scope *rls.Scope) error {
		err := s.users.ConsumeResetToken(ctx, scope, candidate.UserID, tokenHash, now, map[string]any{
			"password_hash":          hashed,
			"reset_token_hash":       nil,
			"reset_token_expires_at": nil,
			"failed_login_count":     0,
			"locked_until":           nil,
			"updated_at":             now,
		})
		if err != nil {
			return err
		}
		revoked, err = s.sessions.DeleteByUser(ctx, scope, candidate.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidResetToken) || errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrInvalidResetToken
		}
		return err
	}

	s.sessionsRevoked(ctx, candidate.OrgID, candidate.UserID, "password_reset")
	s.audit(ctx, candidate.OrgID, string(auditdomain.ActorTypeAnonymous), "", auditdomain.ActionCrossTenantLookup, "user", candidate.UserID.String(), map[string]any{
		"lookup": string(rls.LookupResetByToken),
	})
	s.audit(ctx, candidate.OrgID, string(auditdomain.ActorTypeUser), candidate.UserID.String(), auditdomain.ActionPasswordReset, "user", candidate.UserID.String(), map[string]any{
		"sessions_revoked": revoked,
	})
	return nil
}

func (s *Service) resetURL(rawToken string) string {
	return s.publicURL + "/reset-password?token=" + url.QueryEscape(rawToken)
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
