package seed

import (
	"context"
	"errors"

	"github.com/smallbiznis/crmauth/internal/config"
	orgdomain "github.com/smallbiznis/crmauth/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	demoOrgName    = "Acme"
	demoOrgSlug    = "acme"
	demoAdminEmail = "a@acme.com"
	demoAdminName  = "Acme Admin"
)

var Module = fx.Module("seed",
	fx.Invoke(func(cfg config.Config, repo orgdomain.Repository, svc orgdomain.Service, log *zap.Logger) error {
		if !cfg.Seed.DemoOrg {
			return nil
		}
		if cfg.IsProduction() {
			log.Warn("demo organization seed ignored in production")
			return nil
		}
		return EnsureDemoOrg(context.Background(), repo, svc, cfg.Seed.AdminPassword, log)
	}),
)

// EnsureDemoOrg bootstraps the acme organization and its admin unless the
// slug is already taken.
func EnsureDemoOrg(ctx context.Context, repo orgdomain.Repository, svc orgdomain.Service, adminPassword string, log *zap.Logger) error {
	if repo == nil || svc == nil {
		return errors.New("seed organization service is required")
	}

	existing, err := repo.FindBySlug(ctx, demoOrgSlug)
	if err == nil {
		log.Info("demo organization present", zap.String("org_id", existing.ID.String()))
		return nil
	}
	if !errors.Is(err, orgdomain.ErrOrganizationNotFound) {
		return err
	}

	result, err := svc.Bootstrap(ctx, orgdomain.BootstrapRequest{
		Name:          demoOrgName,
		Slug:          demoOrgSlug,
		AdminEmail:    demoAdminEmail,
		AdminPassword: adminPassword,
		AdminName:     demoAdminName,
	})
	if errors.Is(err, orgdomain.ErrDuplicateSlug) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info("demo organization seeded",
		zap.String("org_id", result.Organization.ID.String()),
		zap.String("admin_email", result.AdminEmail),
	)
	return nil
}
