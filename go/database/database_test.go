package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSteps = []MigrationStep{
	{
		Up:   []string{`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`},
		Down: []string{`DROP TABLE widgets`},
	},
	{
		Up:   []string{`ALTER TABLE widgets ADD COLUMN color TEXT NOT NULL DEFAULT ''`},
		Down: []string{`ALTER TABLE widgets DROP COLUMN color`},
	},
}

func open(t *testing.T, steps []MigrationStep) *VersionedDB {
	vdb, err := New(filepath.Join(t.TempDir(), "test.db"), steps)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, vdb.Close())
	})
	return vdb
}

func TestNewMigratesToLatest(t *testing.T) {
	vdb := open(t, testSteps)
	version, err := vdb.DBVersion()
	require.NoError(t, err)
	require.Equal(t, 2, version)

	_, err = vdb.DB.Exec(`INSERT INTO widgets (name, color) VALUES ('a', 'red')`)
	require.NoError(t, err)
}

func TestMigrateDown(t *testing.T) {
	vdb := open(t, testSteps)
	require.NoError(t, vdb.Migrate(1))
	version, err := vdb.DBVersion()
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// The color column is gone again.
	_, err = vdb.DB.Exec(`INSERT INTO widgets (name, color) VALUES ('a', 'red')`)
	require.Error(t, err)
	_, err = vdb.DB.Exec(`INSERT INTO widgets (name) VALUES ('a')`)
	require.NoError(t, err)
}

func TestMigrateRejectsBadTarget(t *testing.T) {
	vdb := open(t, testSteps)
	require.Error(t, vdb.Migrate(-1))
	require.Error(t, vdb.Migrate(3))
}

func TestReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	vdb, err := New(path, testSteps)
	require.NoError(t, err)
	_, err = vdb.DB.Exec(`INSERT INTO widgets (name) VALUES ('kept')`)
	require.NoError(t, err)
	require.NoError(t, vdb.Close())

	vdb, err = New(path, testSteps)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, vdb.Close())
	}()
	var n int
	require.NoError(t, vdb.DB.QueryRow(`SELECT COUNT(*) FROM widgets`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestFailedMigrationRollsBack(t *testing.T) {
	steps := []MigrationStep{
		{
			Up: []string{
				`CREATE TABLE ok (id INTEGER PRIMARY KEY)`,
				`THIS IS NOT SQL`,
			},
			Down: []string{`DROP TABLE ok`},
		},
	}
	_, err := New(filepath.Join(t.TempDir(), "test.db"), steps)
	require.Error(t, err)
}
