package auth

import (
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/auth/password"
	"github.com/smallbiznis/crmauth/internal/auth/repository"
	"github.com/smallbiznis/crmauth/internal/auth/service"
	"github.com/smallbiznis/crmauth/internal/auth/token"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	token.Module,
	fx.Provide(password.New),
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) authdomain.Service { return s }),
	fx.Invoke(service.RegisterSweeper),
)
