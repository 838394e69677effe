package rls

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrgID uuid.UUID `gorm:"type:uuid;index"`
	Body  string
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&note{}))
	return conn
}

func TestWithTenantCommitsAndExposesScope(t *testing.T) {
	conn := newTestDB(t)
	orgID := uuid.New()

	err := WithTenant(context.Background(), conn, orgID, func(scope *Scope) error {
		assert.Equal(t, orgID, scope.OrgID())
		assert.NoError(t, scope.Check())
		return scope.DB().Create(&note{ID: uuid.New(), OrgID: scope.OrgID(), Body: "hello"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&note{}).Where("org_id = ?", orgID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWithTenantRollsBackOnError(t *testing.T) {
	conn := newTestDB(t)
	boom := errors.New("boom")

	err := WithTenant(context.Background(), conn, uuid.New(), func(scope *Scope) error {
		if err := scope.DB().Create(&note{ID: uuid.New(), OrgID: scope.OrgID()}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&note{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithTenantRequiresOrganization(t *testing.T) {
	conn := newTestDB(t)
	called := false
	err := WithTenant(context.Background(), conn, uuid.Nil, func(*Scope) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.False(t, called)
}

func TestCrossTenantOnlyAllowsNamedLookups(t *testing.T) {
	conn := newTestDB(t)

	for _, lookup := range []Lookup{LookupLoginByEmail, LookupResetByToken} {
		called := false
		err := CrossTenant(context.Background(), conn, lookup, func(*gorm.DB) error {
			called = true
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, called, string(lookup))
	}

	err := CrossTenant(context.Background(), conn, Lookup("list_all_users"), func(*gorm.DB) error {
		t.Fatalf("unnamed lookup must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLookupNotAllowed)
}

func TestNilScopeFailsCheck(t *testing.T) {
	var scope *Scope
	assert.ErrorIs(t, scope.Check(), ErrMissingScope)
}
