package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultReservedSubdomains are host labels that never name a tenant.
var DefaultReservedSubdomains = []string{"www", "api", "app", "admin", "auth", "static", "mail", "ws"}

// TenancyPolicy controls how inbound hosts map to organizations.
type TenancyPolicy struct {
	BaseDomains        []string `mapstructure:"baseDomains"`
	ReservedSubdomains []string `mapstructure:"reservedSubdomains"`
}

// IsReserved reports whether label may not be used as a tenant subdomain.
func (p TenancyPolicy) IsReserved(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, reserved := range p.ReservedSubdomains {
		if reserved == label {
			return true
		}
	}
	return false
}

type TenancyPolicyHolder struct {
	current atomic.Value // holds TenancyPolicy
}

// NewStaticTenancyPolicyHolder returns a holder that never reloads.
func NewStaticTenancyPolicyHolder(policy TenancyPolicy) *TenancyPolicyHolder {
	holder := &TenancyPolicyHolder{}
	holder.current.Store(normalizeTenancyPolicy(policy))
	return holder
}

// NewTenancyPolicyHolder reads the tenancy policy file when configured and
// keeps it in sync with changes on disk. Without a file the env values apply.
func NewTenancyPolicyHolder(cfg Config) (*TenancyPolicyHolder, error) {
	defaults := TenancyPolicy{
		BaseDomains:        cfg.Tenancy.BaseDomains,
		ReservedSubdomains: cfg.Tenancy.ReservedSubdomains,
	}
	if cfg.Tenancy.PolicyFile == "" {
		return NewStaticTenancyPolicyHolder(defaults), nil
	}

	v := viper.New()
	v.SetConfigFile(cfg.Tenancy.PolicyFile)
	v.SetDefault("tenancy.baseDomains", defaults.BaseDomains)
	v.SetDefault("tenancy.reservedSubdomains", defaults.ReservedSubdomains)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var policy TenancyPolicy
	if err := v.UnmarshalKey("tenancy", &policy); err != nil {
		return nil, err
	}
	if err := validateTenancyPolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticTenancyPolicyHolder(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TenancyPolicy
		if err := v.UnmarshalKey("tenancy", &updated); err != nil {
			log.Printf("[tenancy-policy] reload failed: %v", err)
			return
		}
		if err := validateTenancyPolicy(updated); err != nil {
			log.Printf("[tenancy-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(normalizeTenancyPolicy(updated))
		log.Printf("[tenancy-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TenancyPolicyHolder) Get() TenancyPolicy {
	return h.current.Load().(TenancyPolicy)
}

func validateTenancyPolicy(policy TenancyPolicy) error {
	if len(policy.ReservedSubdomains) == 0 {
		return errors.New("tenancy.reservedSubdomains cannot be empty")
	}
	for _, domain := range policy.BaseDomains {
		if strings.TrimSpace(domain) == "" || strings.Contains(domain, "/") {
			return errors.New("tenancy.baseDomains contains an invalid domain")
		}
	}
	return nil
}

func normalizeTenancyPolicy(policy TenancyPolicy) TenancyPolicy {
	return TenancyPolicy{
		BaseDomains:        normalizeLabels(policy.BaseDomains),
		ReservedSubdomains: normalizeLabels(policy.ReservedSubdomains),
	}
}

func normalizeLabels(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.Trim(strings.ToLower(strings.TrimSpace(value)), ".")
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
