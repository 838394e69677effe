package authorization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Manager ")
	require.NoError(t, err)
	assert.Equal(t, RoleManager, role)

	_, err = ParseRole("owner")
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestParsePermissionsRejectsUnknown(t *testing.T) {
	set, err := ParsePermissions([]string{"contacts:read", "REPORTS:EXPORT"})
	require.NoError(t, err)
	assert.True(t, set.Has(ContactsRead))
	assert.True(t, set.Has(ReportsExport))

	_, err = ParsePermissions([]string{"contacts:read", "contacts:delete"})
	assert.ErrorIs(t, err, ErrInvalidPermission)
}

func TestPermissionsFromStoredSkipsRetiredValues(t *testing.T) {
	set := PermissionsFromStored([]string{"audit:read", "legacy:thing"})
	assert.Equal(t, []string{"audit:read"}, set.Strings())
}

func TestDefaultPermissions(t *testing.T) {
	assert.Empty(t, DefaultPermissions(RoleAdmin))
	assert.True(t, DefaultPermissions(RoleManager).Has(ReportsExport))
	assert.False(t, DefaultPermissions(RoleUser).Has(ReportsExport))
	assert.False(t, DefaultPermissions(RoleViewer).Has(ContactsWrite))
}
