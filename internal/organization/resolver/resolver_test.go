package resolver

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/internal/config"
	"github.com/smallbiznis/crmauth/internal/organization/domain"
	"github.com/smallbiznis/crmauth/internal/organization/repository"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestResolver(t *testing.T) (*Resolver, domain.Repository) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Organization{}))

	repo := repository.NewRepository(conn)
	holder := config.NewStaticTenancyPolicyHolder(config.TenancyPolicy{
		BaseDomains:        []string{"crm.example.com"},
		ReservedSubdomains: config.DefaultReservedSubdomains,
	})
	return New(repo, holder, zaptest.NewLogger(t)), repo
}

func createOrg(t *testing.T, repo domain.Repository, slug string, customDomain *string, active bool) *domain.Organization {
	t.Helper()
	now := time.Now().UTC()
	org := &domain.Organization{
		ID:        uuid.New(),
		Name:      slug,
		Slug:      slug,
		Domain:    customDomain,
		Plan:      "free",
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), org))
	return org
}

func TestResolveBySubdomain(t *testing.T) {
	r, repo := newTestResolver(t)
	acme := createOrg(t, repo, "acme", nil, true)

	org, source, err := r.Resolve(context.Background(), Hints{Host: "ACME.crm.example.com:8443"})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, org.ID)
	assert.Equal(t, SourceSubdomain, source)
}

func TestReservedSubdomainIsNotATenant(t *testing.T) {
	r, repo := newTestResolver(t)
	createOrg(t, repo, "www", nil, true)

	_, _, err := r.Resolve(context.Background(), Hints{Host: "www.crm.example.com"})
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}

func TestResolveByCustomDomain(t *testing.T) {
	r, repo := newTestResolver(t)
	customDomain := "crm.acme.io"
	acme := createOrg(t, repo, "acme", &customDomain, true)

	org, source, err := r.Resolve(context.Background(), Hints{Host: "CRM.Acme.io"})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, org.ID)
	assert.Equal(t, SourceCustomDomain, source)
}

func TestHostTakesPrecedenceOverHeaders(t *testing.T) {
	r, repo := newTestResolver(t)
	acme := createOrg(t, repo, "acme", nil, true)
	globex := createOrg(t, repo, "globex", nil, true)

	org, source, err := r.Resolve(context.Background(), Hints{
		Host: "acme.crm.example.com",
		Slug: "globex",
		ID:   globex.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, org.ID)
	assert.Equal(t, SourceSubdomain, source)
}

func TestResolveByHeaders(t *testing.T) {
	r, repo := newTestResolver(t)
	acme := createOrg(t, repo, "acme", nil, true)

	org, source, err := r.Resolve(context.Background(), Hints{Host: "localhost:8080", Slug: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, org.ID)
	assert.Equal(t, SourceSlugHeader, source)

	org, source, err = r.Resolve(context.Background(), Hints{ID: acme.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, acme.ID, org.ID)
	assert.Equal(t, SourceIDHeader, source)

	_, _, err = r.Resolve(context.Background(), Hints{ID: "not-a-uuid"})
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}

func TestInactiveOrganizationIsSkipped(t *testing.T) {
	r, repo := newTestResolver(t)
	createOrg(t, repo, "gone", nil, false)

	_, _, err := r.Resolve(context.Background(), Hints{Host: "gone.crm.example.com", Slug: "gone"})
	assert.ErrorIs(t, err, domain.ErrOrganizationNotFound)
}

func TestHintsFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "http://Acme.CRM.example.com:8080/auth/login", nil)
	req.Header.Set(HeaderOrganizationSlug, " Acme ")
	req.Header.Set(HeaderOrganizationID, "abc")

	hints := HintsFromRequest(req)
	assert.Equal(t, Hints{Host: "acme.crm.example.com", Slug: "acme", ID: "abc"}, hints)
}
