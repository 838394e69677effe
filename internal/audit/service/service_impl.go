package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/crmauth/internal/audit/domain"
	"github.com/smallbiznis/crmauth/internal/audit/masking"
	"github.com/smallbiznis/crmauth/internal/auditcontext"
	"github.com/smallbiznis/crmauth/internal/clock"
	"github.com/smallbiznis/crmauth/pkg/db/pagination"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

// AuditLog writes one entry. Entries with an organization are written inside
// that organization's tenant scope; entries without one (for example a login
// attempt for an unknown email) are written unscoped.
func (s *Service) AuditLog(ctx context.Context, orgID *uuid.UUID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	resolvedActorType, resolvedActorID := s.resolveActor(ctx, strings.TrimSpace(actorType), actorID)

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      normalizeOrgID(orgID),
		ActorType:  resolvedActorType,
		ActorID:    resolvedActorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		Metadata:   datatypes.JSONMap(masking.MaskSensitive(metadata)),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if ipAddress := auditcontext.IPAddress(ctx); ipAddress != "" {
		entry.IPAddress = &ipAddress
	}
	if userAgent := auditcontext.UserAgent(ctx); userAgent != "" {
		entry.UserAgent = &userAgent
	}
	if requestID := auditcontext.RequestID(ctx); requestID != "" {
		entry.RequestID = &requestID
	}

	var err error
	if entry.OrgID != nil {
		err = rls.WithTenant(ctx, s.db, *entry.OrgID, func(scope *rls.Scope) error {
			return s.repo.Insert(ctx, scope.DB(), &entry)
		})
	} else {
		err = s.repo.Insert(ctx, s.db, &entry)
	}
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, orgID uuid.UUID, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if orgID == uuid.Nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidOrganization
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{
			ID:        id,
			CreatedAt: createdAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	var items []*auditdomain.AuditLog
	err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
		var err error
		items, err = s.repo.List(ctx, scope.DB(), auditdomain.ListFilter{
			OrgID:      scope.OrgID(),
			Action:     req.Action,
			TargetType: req.TargetType,
			TargetID:   req.TargetID,
			ActorType:  req.ActorType,
			StartAt:    req.StartAt,
			EndAt:      req.EndAt,
			Cursor:     cursor,
			Limit:      pageSize,
		})
		return err
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		logs = append(logs, *item)
	}

	resp := auditdomain.ListAuditLogResponse{AuditLogs: logs}
	resp.HasMore = hasMore
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err == nil {
			resp.NextPageToken = token
		}
	}
	return resp, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	if actorType == "" {
		if ctxType, ctxID := auditcontext.Actor(ctx); ctxType != "" {
			actorType = ctxType
			if actorID == nil || strings.TrimSpace(*actorID) == "" {
				if ctxID != "" {
					actorID = &ctxID
				}
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	return actorType, normalizePointer(actorID)
}

func normalizeOrgID(orgID *uuid.UUID) *uuid.UUID {
	if orgID == nil || *orgID == uuid.Nil {
		return nil
	}
	value := *orgID
	return &value
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
