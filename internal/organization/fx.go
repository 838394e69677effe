package organization

import (
	"github.com/smallbiznis/crmauth/internal/organization/repository"
	"github.com/smallbiznis/crmauth/internal/organization/resolver"
	"github.com/smallbiznis/crmauth/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
	fx.Provide(resolver.New),
)
