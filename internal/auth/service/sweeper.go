package service

import (
	"context"
	"time"

	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/ratelimit"
	"github.com/smallbiznis/crmauth/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepLockKey = "auth:session-sweep:lock"

// SweepExpiredSessions deletes expired sessions organization by organization.
// Expired rows never authenticate; sweeping only reclaims space.
func (s *Service) SweepExpiredSessions(ctx context.Context) (int64, error) {
	orgIDs, err := s.sessions.ListOrganizationIDs(ctx, s.db)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var total int64
	for _, orgID := range orgIDs {
		err := rls.WithTenant(ctx, s.db, orgID, func(scope *rls.Scope) error {
			deleted, err := s.sessions.DeleteExpired(ctx, scope, now)
			total += deleted
			return err
		})
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type SweeperParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Service   *Service
	Log       *zap.Logger
	Locker    *ratelimit.Locker `optional:"true"`
}

// RegisterSweeper runs SweepExpiredSessions every AUTH_SESSION_SWEEP_INTERVAL.
// With redis configured only the replica holding the lock sweeps.
func RegisterSweeper(p SweeperParams) {
	interval := p.Config.Auth.SessionSweepEvery
	if interval <= 0 {
		return
	}
	log := p.Log.Named("auth.sweeper")

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			go runSweeper(ctx, p.Service, p.Locker, interval, log)

			p.Lifecycle.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}

func runSweeper(ctx context.Context, svc *Service, locker *ratelimit.Locker, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if locker != nil {
			lockToken, ok, err := locker.TryLock(ctx, sweepLockKey, interval)
			if err != nil {
				log.Warn("sweeper lock failed", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			sweepOnce(ctx, svc, log)
			if err := locker.Release(ctx, sweepLockKey, lockToken); err != nil {
				log.Debug("sweeper lock release failed", zap.Error(err))
			}
			continue
		}
		sweepOnce(ctx, svc, log)
	}
}

func sweepOnce(ctx context.Context, svc *Service, log *zap.Logger) {
	deleted, err := svc.SweepExpiredSessions(ctx)
	if err != nil {
		log.Warn("session sweep failed", zap.Int64("deleted", deleted), zap.Error(err))
		return
	}
	if deleted > 0 {
		log.Info("expired sessions removed", zap.Int64("deleted", deleted))
	}
}
