package email

import (
	"context"

	"go.uber.org/zap"
)

const TemplatePasswordReset = "password_reset"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error
}

// NoOpProvider drops messages. Only the recipient count and template are
// logged; bodies carry reset links.
type NoOpProvider struct {
	log *zap.Logger
}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if p.log != nil {
		p.log.Debug("email dropped", zap.Int("recipients", len(to)), zap.String("subject", subject))
	}
	return nil
}

func (p *NoOpProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]any) error {
	if p.log != nil {
		p.log.Debug("email dropped", zap.Int("recipients", len(to)), zap.String("template", templateName))
	}
	return nil
}
