package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/token"
	"github.com/smallbiznis/crmauth/internal/authorization"
	"github.com/smallbiznis/crmauth/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) Authenticate(ctx context.Context, req domain.AuthenticateRequest) (*domain.User, error) {
	user, _, err := s.authenticate(ctx, req)
	return user, err
}

func (s *Service) authenticate(ctx context.Context, req domain.AuthenticateRequest) (*domain.User, *orgdomain.Organization, error) {
	if allowed, _ := s.limiter.Allow(ctx, req.IPAddress); !allowed {
		s.metrics.IncLogin(metrics.OutcomeThrottled)
		s.metrics.IncRateLimitDenied("login")
		return nil, nil, domain.ErrTooManyAttempts
	}

	email, err := domain.NormalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		s.equalizeTiming(req.Password)
		s.metrics.IncLogin(metrics.OutcomeInvalid)
		return nil, nil, domain.ErrInvalidCredentials
	}

	var candidates []domain.LoginCandidate
	err = rls.CrossTenant(ctx, s.db, rls.LookupLoginByEmail, func(tx *gorm.DB) error {
		var err error
		candidates, err = s.users.FindLoginCandidates(ctx, tx, email)
		return err
	})
	s.metrics.IncCrossTenantLookup(string(rls.LookupLoginByEmail))
	if err != nil {
		s.storeFailure(ctx, "login_lookup", err)
		s.metrics.IncLogin(metrics.OutcomeStoreFailure)
		return nil, nil, domain.ErrInvalidCredentials
	}

	candidates = filterCandidates(candidates, req.OrgHint)
	switch {
	case len(candidates) == 0:
		s.equalizeTiming(req.Password)
		s.metrics.IncLogin(metrics.OutcomeInvalid)
		s.audit(ctx, uuid.Nil, string(auditdomain.ActorTypeAnonymous), "", auditdomain.ActionLoginFailed, "user", "", map[string]any{
			"email":  email,
			"reason": "unknown_user",
		})
		return nil, nil, domain.ErrInvalidCredentials
	case len(candidates) > 1:
		s.equalizeTiming(req.Password)
		s.metrics.IncLogin(metrics.OutcomeAmbiguous)
		return nil, nil, domain.ErrOrganizationRequired
	}

	candidate := candidates[0]
	s.audit(ctx, candidate.OrgID, string(auditdomain.ActorTypeAnonymous), "", auditdomain.ActionCrossTenantLookup, "user", candidate.UserID.String(), map[string]any{
		"lookup": string(rls.LookupLoginByEmail),
	})

	outcome, user, err := s.verifyCandidate(ctx, candidate, req.Password)
	if err != nil {
		s.storeFailure(ctx, "login_verify", err)
		s.metrics.IncLogin(metrics.OutcomeStoreFailure)
		return nil, nil, domain.ErrInvalidCredentials
	}
	s.metrics.IncLogin(outcome)

	if outcome != metrics.OutcomeSuccess {
		s.audit(ctx, candidate.OrgID, string(auditdomain.ActorTypeAnonymous), "", auditdomain.ActionLoginFailed, "user", candidate.UserID.String(), map[string]any{
			"email":  email,
			"reason": outcome,
		})
		return nil, nil, domain.ErrInvalidCredentials
	}

	org, err := s.orgs.FindByID(ctx, candidate.OrgID)
	if err != nil {
		s.storeFailure(ctx, "login_org", err)
		return nil, nil, domain.ErrInvalidCredentials
	}

	s.audit(ctx, org.ID, string(auditdomain.ActorTypeUser), user.ID.String(), auditdomain.ActionLoginSucceeded, "user", user.ID.String(), map[string]any{
		"email": email,
	})
	return user, org, nil
}

// verifyCandidate checks the password inside the candidate's tenant scope.
// Failure counters are committed even when the password is wrong, so the
// outcome is returned rather than an error.
func (s *Service) verifyCandidate(ctx context.Context, candidate domain.LoginCandidate, plain string) (string, *domain.User, error) {
	now := s.now()
	outcome := metrics.OutcomeInvalid
	var user *domain.User

	err := rls.WithTenant(ctx, s.db, candidate.OrgID, func(scope *rls.Scope) error {
		found, err := s.users.FindByID(ctx, scope, candidate.UserID)
		if errors.Is(err, domain.ErrUserNotFound) {
			s.equalizeTiming(plain)
			return nil
		}
		if err != nil {
			return err
		}
		if !found.Live() {
			s.equalizeTiming(plain)
			return nil
		}
		if found.Locked(now) {
			s.equalizeTiming(plain)
			outcome = metrics.OutcomeLocked
			return nil
		}

		ok, err := s.hasher.Verify(found.PasswordHash, plain)
		if err != nil {
			s.log.Warn("stored password hash unreadable", zap.String("user_id", found.ID.String()), zap.Error(err))
			ok = false
		}
		if !ok {
			failed, err := s.users.IncrementFailedLogins(ctx, scope, found.ID, now)
			if err != nil {
				return err
			}
			if s.maxFailed <= 0 || failed < s.maxFailed {
				return nil
			}
			outcome = metrics.OutcomeLocked
			return s.users.Update(ctx, scope, found.ID, map[string]any{
				"failed_login_count": 0,
				"locked_until":       now.Add(s.lockoutDuration),
				"updated_at":         now,
			})
		}

		fields := map[string]any{
			"failed_login_count": 0,
			"locked_until":       nil,
			"last_login_at":      now,
			"updated_at":         now,
		}
		if s.hasher.NeedsRehash(found.PasswordHash) {
			if rehashed, err := s.hasher.Hash(plain); err == nil {
				fields["password_hash"] = rehashed
			}
		}
		if err := s.users.Update(ctx, scope, found.ID, fields); err != nil {
			return err
		}

		outcome = metrics.OutcomeSuccess
		user, err = s.users.FindByID(ctx, scope, found.ID)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return outcome, user, nil
}

func (s *Service) equalizeTiming(plain string) {
	_, _ = s.hasher.Verify(s.dummyHash, plain)
}

// filterCandidates narrows login candidates to an organization slug or id.
func filterCandidates(candidates []domain.LoginCandidate, hint string) []domain.LoginCandidate {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return candidates
	}
	out := make([]domain.LoginCandidate, 0, 1)
	for _, c := range candidates {
		if c.OrgSlug == hint || c.OrgID.String() == hint {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	user, org, err := s.authenticate(ctx, domain.AuthenticateRequest{
		Email:     req.Email,
		Password:  req.Password,
		OrgHint:   req.OrgHint,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	return s.startSession(ctx, user, org, req.ClientInfo, "")
}

// startSession issues a token and stores its session. When replaceHash is set
// the old session is removed in the same transaction and must still exist.
func (s *Service) startSession(ctx context.Context, user *domain.User, org *orgdomain.Organization, client domain.ClientInfo, replaceHash string) (*domain.LoginResult, error) {
	issued, err := s.tokens.Issue(token.Subject{
		UserID: user.ID,
		OrgID:  org.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:         uuid.New(),
		UserID:     user.ID,
		OrgID:      org.ID,
		TokenHash:  hashToken(issued.Token),
		ExpiresAt:  issued.ExpiresAt,
		IPAddress:  strings.TrimSpace(client.IPAddress),
		UserAgent:  strings.TrimSpace(client.UserAgent),
		CreatedAt:  issued.IssuedAt,
		LastSeenAt: issued.IssuedAt,
	}

	err = rls.WithTenant(ctx, s.db, org.ID, func(scope *rls.Scope) error {
		if replaceHash != "" {
			removed, err := s.sessions.DeleteByHash(ctx, scope, replaceHash)
			if err != nil {
				return err
			}
			if removed == 0 {
				return domain.ErrUnauthenticated
			}
		}
		return s.sessions.CreateSession(ctx, scope, session)
	})
	if err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		Token:        issued.Token,
		ExpiresAt:    issued.ExpiresAt,
		SessionID:    session.ID,
		User:         user,
		Organization: org,
	}, nil
}

// Authorize turns a bearer token into a principal. A valid signature is not
// enough: the session row must exist, be unexpired and belong to an active
// user of an active organization. Store failures deny.
func (s *Service) Authorize(ctx context.Context, rawToken string) (*domain.Principal, error) {
	claims, err := s.tokens.Verify(strings.TrimSpace(rawToken))
	if err != nil {
		s.metrics.IncSessionLookup(metrics.OutcomeInvalid)
		return nil, domain.ErrUnauthenticated
	}

	now := s.now()
	var ident *domain.SessionIdentity
	err = rls.WithTenant(ctx, s.db, claims.OrgID, func(scope *rls.Scope) error {
		var err error
		ident, err = s.sessions.Lookup(ctx, scope, hashToken(strings.TrimSpace(rawToken)), now)
		return err
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		s.metrics.IncSessionLookup(metrics.OutcomeRevoked)
		return nil, domain.ErrUnauthenticated
	}
	if err != nil {
		s.storeFailure(ctx, "session_lookup", err)
		s.metrics.IncSessionLookup(metrics.OutcomeStoreFailure)
		return nil, domain.ErrUnauthenticated
	}
	if ident.UserID != claims.UserID || ident.OrgID != claims.OrgID {
		s.metrics.IncSessionLookup(metrics.OutcomeInvalid)
		return nil, domain.ErrUnauthenticated
	}

	role, err := authorization.ParseRole(ident.Role)
	if err != nil {
		s.metrics.IncSessionLookup(metrics.OutcomeInvalid)
		return nil, domain.ErrUnauthenticated
	}

	if now.Sub(ident.LastSeenAt) >= touchInterval {
		s.touch(ctx, ident.OrgID, ident.SessionID, now)
	}

	s.metrics.IncSessionLookup(metrics.OutcomeSuccess)
	return &domain.Principal{
		UserID:      ident.UserID,
		OrgID:       ident.OrgID,
		OrgSlug:     ident.OrgSlug,
		Email:       ident.Email,
		Name:        ident.Name,
		Role:        role,
		Permissions: authorization.PermissionsFromStored(ident.Permissions),
		SessionID:   ident.SessionID,
	}, nil
}

func (s *Service) touch(ctx context.Context, orgID, sessionID uuid.UUID, now time.Time) {
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		return s.sessions.Touch(ctx, scope, sessionID, now)
	})
	if err != nil {
		s.log.Debug("session touch failed", zap.String("session_id", sessionID.String()), zap.Error(err))
	}
}

func (s *Service) Logout(ctx context.Context, principal *domain.Principal, rawToken string) error {
	if principal == nil {
		return domain.ErrUnauthenticated
	}
	err := rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		_, err := s.sessions.DeleteByHash(ctx, scope, hashToken(strings.TrimSpace(rawToken)))
		return err
	})
	if err != nil {
		return err
	}

	s.audit(ctx, principal.OrgID, string(auditdomain.ActorTypeUser), principal.UserID.String(),
		auditdomain.ActionLogout, "session", principal.SessionID.String(), nil)
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, principal *domain.Principal) (int64, error) {
	if principal == nil {
		return 0, domain.ErrUnauthenticated
	}
	var revoked int64
	err := rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		var err error
		revoked, err = s.sessions.DeleteByUser(ctx, scope, principal.UserID)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.sessionsRevoked(ctx, principal.OrgID, principal.UserID, "logout_all")
	s.audit(ctx, principal.OrgID, string(auditdomain.ActorTypeUser), principal.UserID.String(),
		auditdomain.ActionLogoutAll, "user", principal.UserID.String(), map[string]any{
			"sessions_revoked": revoked,
		})
	return revoked, nil
}

// Refresh swaps the caller's session for a new one with a fresh expiry.
func (s *Service) Refresh(ctx context.Context, principal *domain.Principal, rawToken string, client domain.ClientInfo) (*domain.LoginResult, error) {
	if principal == nil {
		return nil, domain.ErrUnauthenticated
	}

	user, err := s.GetUser(ctx, principal.OrgID, principal.UserID)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}
	org, err := s.orgs.FindByID(ctx, principal.OrgID)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}

	return s.startSession(ctx, user, org, client, hashToken(strings.TrimSpace(rawToken)))
}

// ChangePassword replaces the caller's password and revokes every session the
// user holds, including the current one.
func (s *Service) ChangePassword(ctx context.Context, principal *domain.Principal, current, next string) error {
	if principal == nil {
		return domain.ErrUnauthenticated
	}
	if err := domain.ValidatePassword(next); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}

	now := s.now()
	var revoked int64
	err = rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		user, err := s.users.FindByID(ctx, scope, principal.UserID)
		if err != nil {
			return err
		}
		ok, err := s.hasher.Verify(user.PasswordHash, current)
		if err != nil || !ok {
			return domain.ErrInvalidCredentials
		}
		if err := s.users.Update(ctx, scope, user.ID, map[string]any{
			"password_hash": hashed,
			"updated_at":    now,
		}); err != nil {
			return err
		}
		revoked, err = s.sessions.DeleteByUser(ctx, scope, user.ID)
		return err
	})
	if err != nil {
		return err
	}

	s.sessionsRevoked(ctx, principal.OrgID, principal.UserID, "password_changed")
	s.audit(ctx, principal.OrgID, string(auditdomain.ActorTypeUser), principal.UserID.String(),
		auditdomain.ActionPasswordChanged, "user", principal.UserID.String(), map[string]any{
			"sessions_revoked": revoked,
		})
	return nil
}

func (s *Service) ListSessions(ctx context.Context, principal *domain.Principal) ([]domain.SessionView, error) {
	if principal == nil {
		return nil, domain.ErrUnauthenticated
	}
	var sessions []domain.Session
	err := rls.WithTenant(ctx, s.db, principal.OrgID, func(scope *rls.Scope) error {
		var err error
		sessions, err = s.sessions.ListByUser(ctx, scope, principal.UserID, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	views := make([]domain.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, domain.SessionView{
			ID:         session.ID,
			IPAddress:  session.IPAddress,
			UserAgent:  session.UserAgent,
			CreatedAt:  session.CreatedAt,
			LastSeenAt: session.LastSeenAt,
			ExpiresAt:  session.ExpiresAt,
			Current:    session.ID == principal.SessionID,
		})
	}
	return views, nil
}

func (s *Service) storeFailure(ctx context.Context, component string, err error) {
	reason := s.metrics.IncStoreError(component, err)
	s.log.Error("auth store failure",
		zap.String("component", component),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
