// Package resolver maps an inbound request to the organization it targets.
package resolver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/organization/domain"
	"go.uber.org/zap"
)

const (
	HeaderOrganizationSlug = "X-Organization-Slug"
	HeaderOrganizationID   = "X-Organization-Id"
)

// Source names the hint an organization was resolved from.
type Source string

const (
	SourceNone         Source = ""
	SourceSubdomain    Source = "subdomain"
	SourceCustomDomain Source = "custom_domain"
	SourceSlugHeader   Source = "slug_header"
	SourceIDHeader     Source = "id_header"
)

// Hints are the raw request values that can name an organization.
type Hints struct {
	Host string
	Slug string
	ID   string
}

func (h Hints) Empty() bool {
	return h.Host == "" && h.Slug == "" && h.ID == ""
}

func HintsFromRequest(r *http.Request) Hints {
	if r == nil {
		return Hints{}
	}
	return Hints{
		Host: NormalizeHost(r.Host),
		Slug: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderOrganizationSlug))),
		ID:   strings.TrimSpace(r.Header.Get(HeaderOrganizationID)),
	}
}

type Resolver struct {
	repo    domain.Repository
	tenancy *config.TenancyPolicyHolder
	log     *zap.Logger
}

func New(repo domain.Repository, tenancy *config.TenancyPolicyHolder, log *zap.Logger) *Resolver {
	return &Resolver{
		repo:    repo,
		tenancy: tenancy,
		log:     log.Named("organization.resolver"),
	}
}

// Resolve tries the hints in order: tenant subdomain, custom domain, slug
// header, id header. The first active organization wins.
func (r *Resolver) Resolve(ctx context.Context, hints Hints) (*domain.Organization, Source, error) {
	host := NormalizeHost(hints.Host)

	if label, ok := r.SubdomainLabel(host); ok {
		org, err := r.active(r.repo.FindBySlug(ctx, label))
		if err != nil {
			return nil, SourceNone, err
		}
		if org != nil {
			return org, SourceSubdomain, nil
		}
	}

	if host != "" && strings.Contains(host, ".") && !r.isBaseDomain(host) {
		org, err := r.active(r.repo.FindByDomain(ctx, host))
		if err != nil {
			return nil, SourceNone, err
		}
		if org != nil {
			return org, SourceCustomDomain, nil
		}
	}

	if slugHint := strings.ToLower(strings.TrimSpace(hints.Slug)); slugHint != "" {
		org, err := r.active(r.repo.FindBySlug(ctx, slugHint))
		if err != nil {
			return nil, SourceNone, err
		}
		if org != nil {
			return org, SourceSlugHeader, nil
		}
	}

	if idHint := strings.TrimSpace(hints.ID); idHint != "" {
		if orgID, err := uuid.Parse(idHint); err == nil && orgID != uuid.Nil {
			org, err := r.active(r.repo.FindByID(ctx, orgID))
			if err != nil {
				return nil, SourceNone, err
			}
			if org != nil {
				return org, SourceIDHeader, nil
			}
		}
	}

	return nil, SourceNone, domain.ErrOrganizationNotFound
}

// SubdomainLabel returns the tenant label when host is exactly one level
// below a configured base domain and the label is not reserved.
func (r *Resolver) SubdomainLabel(host string) (string, bool) {
	host = NormalizeHost(host)
	if host == "" || r.tenancy == nil {
		return "", false
	}
	policy := r.tenancy.Get()
	for _, base := range policy.BaseDomains {
		suffix := "." + base
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		label := strings.TrimSuffix(host, suffix)
		if label == "" || strings.Contains(label, ".") || policy.IsReserved(label) {
			return "", false
		}
		return label, true
	}
	return "", false
}

func (r *Resolver) isBaseDomain(host string) bool {
	if r.tenancy == nil {
		return false
	}
	for _, base := range r.tenancy.Get().BaseDomains {
		if host == base || strings.HasSuffix(host, "."+base) {
			return true
		}
	}
	return false
}

func (r *Resolver) active(org *domain.Organization, err error) (*domain.Organization, error) {
	if errors.Is(err, domain.ErrOrganizationNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Warn("organization lookup failed", zap.Error(err))
		return nil, err
	}
	if !org.IsActive {
		return nil, nil
	}
	return org, nil
}

// NormalizeHost lowercases host and drops the port and any trailing dot.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
