package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/crmauth/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestRowLevelSecurityCoversTenantTables(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000004_row_level_security.up.sql")
	require.NoError(t, err)
	policy := string(raw)

	for _, table := range []string{"users", "sessions", "api_keys", "api_key_usage_logs", "audit_logs"} {
		assert.Contains(t, policy, "ALTER TABLE "+table+" FORCE ROW LEVEL SECURITY", table)
	}
	assert.Contains(t, policy, "app.current_org_id")
	assert.Contains(t, policy, "app.cross_tenant_lookup")
}

func TestAutoMigrateOnSQLite(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)

	require.NoError(t, AutoMigrate(conn))
	for _, table := range []string{"organizations", "users", "sessions", "api_keys", "api_key_usage_logs", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
