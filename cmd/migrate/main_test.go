package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"003_create_communication_logs.sql",
		"001_create_customers.sql",
		"002_create_campaigns.sql",
		"README.md",
		"4_bad_version.sql",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "seed"), 0o755))

	migrations, err := loadMigrations(dir)
	require.NoError(t, err)

	require.Len(t, migrations, 3)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_customers", migrations[0].Name)
	assert.Equal(t, 3, migrations[2].Version)
	assert.Equal(t, filepath.Join(dir, "003_create_communication_logs.sql"), migrations[2].FilePath)
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	migrations, err := loadMigrations(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.Empty(t, migrations)
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	applied := map[int]Migration{1: {Version: 1}, 3: {Version: 3}}

	assert.Equal(t, []Migration{{Version: 2}}, pending(all, applied))
	assert.Empty(t, pending(all, map[int]Migration{1: {}, 2: {}, 3: {}}))
}

func TestRollbacksCoverSchema(t *testing.T) {
	migrations, err := loadMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for _, mig := range migrations {
		assert.Contains(t, rollbacks, mig.Version, mig.Name)
	}
}
