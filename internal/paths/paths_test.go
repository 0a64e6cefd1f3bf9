package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDatabasePathPrecedence(t *testing.T) {
	home := t.TempDir()
	origHomeDir := homeDir
	homeDir = func() (string, error) { return home, nil }
	t.Cleanup(func() { homeDir = origHomeDir })

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvDatabasePath, "/from/env.db")
		got, err := ResolveDatabasePath("/from/flag.db", "/from/config.db")
		require.NoError(t, err)
		assert.Equal(t, "/from/flag.db", got)
	})

	t.Run("env beats config", func(t *testing.T) {
		t.Setenv(EnvDatabasePath, "/from/env.db")
		got, err := ResolveDatabasePath("", "/from/config.db")
		require.NoError(t, err)
		assert.Equal(t, "/from/env.db", got)
	})

	t.Run("config beats default", func(t *testing.T) {
		t.Setenv(EnvDatabasePath, "")
		got, err := ResolveDatabasePath("", "/from/config.db")
		require.NoError(t, err)
		assert.Equal(t, "/from/config.db", got)
	})

	t.Run("home default", func(t *testing.T) {
		t.Setenv(EnvDatabasePath, "")
		got, err := ResolveDatabasePath("", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, DefaultDatabaseName), got)
	})
}

func TestBackupPath(t *testing.T) {
	assert.Equal(t, "/data/.awtf.before-migration.db", BackupPath("/data/awtf.db"))
}
