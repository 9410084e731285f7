// Package database manages the embedded SQLite database, including schema
// versioning: a list of MigrationSteps carries the SQL to move between
// consecutive schema versions, and New migrates a freshly opened database to
// the latest version.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
)

// MigrationStep is a single step to migrate from one database version to the
// next and back.
type MigrationStep struct {
	Up   []string
	Down []string
}

// VersionedDB is a database handle with schema version tracking.
type VersionedDB struct {
	DB *sql.DB

	migrationSteps []MigrationStep
}

// New opens the SQLite database at the given path and migrates it to the
// latest schema version. Use ":memory:" for tests.
func New(path string, migrationSteps []MigrationStep) (*VersionedDB, error) {
	// The busy timeout keeps concurrent readers from surfacing SQLITE_BUSY
	// during the redistribute transaction.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, skerr.Wrapf(err, "opening sqlite database %s", path)
	}
	// SQLite allows a single writer, and an in-memory database is scoped to
	// its connection, so the pool is pinned to one connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, skerr.Wrapf(err, "pinging sqlite database %s", path)
	}

	ret := &VersionedDB{
		DB:             db,
		migrationSteps: migrationSteps,
	}
	if err := ret.ensureVersionTable(); err != nil {
		_ = db.Close()
		return nil, skerr.Wrap(err)
	}
	if err := ret.Migrate(ret.MaxDBVersion()); err != nil {
		_ = db.Close()
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// Close the underlying database.
func (vdb *VersionedDB) Close() error {
	return vdb.DB.Close()
}

// MaxDBVersion returns the latest version this binary knows about.
func (vdb *VersionedDB) MaxDBVersion() int {
	return len(vdb.migrationSteps)
}

// DBVersion returns the current version of the database.
func (vdb *VersionedDB) DBVersion() (int, error) {
	var version int
	if err := vdb.DB.QueryRow("SELECT version FROM sk_db_version WHERE id = 1").Scan(&version); err != nil {
		return 0, skerr.Wrapf(err, "reading schema version")
	}
	return version, nil
}

// Migrate the database to the specified target version.
func (vdb *VersionedDB) Migrate(targetVersion int) error {
	if targetVersion < 0 || targetVersion > vdb.MaxDBVersion() {
		return skerr.Fmt("target db version must be in range [0 .. %d], got %d", vdb.MaxDBVersion(), targetVersion)
	}
	currentVersion, err := vdb.DBVersion()
	if err != nil {
		return skerr.Wrap(err)
	}
	for currentVersion < targetVersion {
		if err := vdb.runSteps(vdb.migrationSteps[currentVersion].Up, currentVersion+1); err != nil {
			return skerr.Wrap(err)
		}
		currentVersion++
	}
	for currentVersion > targetVersion {
		if err := vdb.runSteps(vdb.migrationSteps[currentVersion-1].Down, currentVersion-1); err != nil {
			return skerr.Wrap(err)
		}
		currentVersion--
	}
	return nil
}

// runSteps executes the given statements and records the new schema version
// inside a single transaction.
func (vdb *VersionedDB) runSteps(statements []string, newVersion int) error {
	sklog.Infof("Migrating db schema to version %d", newVersion)
	tx, err := vdb.DB.Begin()
	if err != nil {
		return skerr.Wrap(err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return skerr.Wrapf(err, "migration statement failed: %s", stmt)
		}
	}
	if _, err := tx.Exec("UPDATE sk_db_version SET version = ? WHERE id = 1", newVersion); err != nil {
		_ = tx.Rollback()
		return skerr.Wrap(err)
	}
	return skerr.Wrap(tx.Commit())
}

func (vdb *VersionedDB) ensureVersionTable() error {
	if _, err := vdb.DB.Exec(`CREATE TABLE IF NOT EXISTS sk_db_version (
		id      INTEGER NOT NULL PRIMARY KEY,
		version INTEGER NOT NULL,
		updated INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return skerr.Wrapf(err, "creating version table")
	}
	if _, err := vdb.DB.Exec("INSERT OR IGNORE INTO sk_db_version (id, version) VALUES (1, 0)"); err != nil {
		return skerr.Wrapf(err, "seeding version table")
	}
	return nil
}
