package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpMigrations_OrderedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_ledger.up.sql",
		"000001_init.down.sql",
		"000001_init.up.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "000003_dir.up.sql"), 0o755))

	files, err := upMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init.up.sql", "000002_ledger.up.sql"}, files)
}

func TestUpMigrations_EmptyDir(t *testing.T) {
	_, err := upMigrations(t.TempDir())
	assert.Error(t, err)
}

func TestFindMigrationsDir_ModuleRoot(t *testing.T) {
	dir, err := findMigrationsDir()
	require.NoError(t, err)
	assert.Equal(t, "migrations", filepath.Base(dir))

	files, err := upMigrations(dir)
	require.NoError(t, err)
	assert.Contains(t, files, "000001_init.up.sql")
}
