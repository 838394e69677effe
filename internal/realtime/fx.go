package realtime

import (
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/organization/event"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("realtime",
	fx.Provide(NewHub),
	fx.Provide(func(h *Hub) event.EventPublisher { return h }),
	fx.Provide(func(hub *Hub, auth authdomain.Service, cfg config.Config, log *zap.Logger) *Handler {
		return NewHandler(hub, auth, log, cfg.Realtime.AllowedOrigins...)
	}),
)
