package store

import "go.pixelhawk.org/hawk/go/database"

// migrationSteps carries the schema history. The (heat, last_checked) index
// backs the scheduler's per-queue LRU queries.
var migrationSteps = []database.MigrationStep{
	// version 1: tile persistence, projects, relation, history.
	{
		Up: []string{
			`CREATE TABLE IF NOT EXISTS tile_info (
				id           INTEGER NOT NULL PRIMARY KEY,
				tile_x       INTEGER NOT NULL,
				tile_y       INTEGER NOT NULL,
				heat         INTEGER NOT NULL DEFAULT 999,
				last_checked INTEGER NOT NULL DEFAULT 0,
				last_update  INTEGER NOT NULL DEFAULT 0,
				http_etag    TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_tile_info_heat_checked
				ON tile_info (heat, last_checked)`,
			`CREATE TABLE IF NOT EXISTS project_info (
				id                     INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
				owner_id               INTEGER NOT NULL,
				name                   TEXT NOT NULL,
				state                  TEXT NOT NULL DEFAULT 'active',
				x                      INTEGER NOT NULL,
				y                      INTEGER NOT NULL,
				width                  INTEGER NOT NULL,
				height                 INTEGER NOT NULL,
				first_seen             INTEGER NOT NULL DEFAULT 0,
				last_check             INTEGER NOT NULL DEFAULT 0,
				max_completion_pixels  INTEGER NOT NULL DEFAULT 0,
				max_completion_percent REAL NOT NULL DEFAULT 0,
				max_completion_time    INTEGER NOT NULL DEFAULT 0,
				total_progress         INTEGER NOT NULL DEFAULT 0,
				total_regress          INTEGER NOT NULL DEFAULT 0,
				largest_regress_pixels INTEGER NOT NULL DEFAULT 0,
				has_missing_tiles      INTEGER NOT NULL DEFAULT 0,
				UNIQUE (owner_id, name)
			)`,
			`CREATE TABLE IF NOT EXISTS tile_project (
				id         INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
				project_id INTEGER NOT NULL REFERENCES project_info (id) ON DELETE CASCADE,
				tile_id    INTEGER NOT NULL REFERENCES tile_info (id) ON DELETE CASCADE,
				UNIQUE (tile_id, project_id)
			)`,
			`CREATE TABLE IF NOT EXISTS history_change (
				id                 INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
				project_id         INTEGER NOT NULL REFERENCES project_info (id) ON DELETE CASCADE,
				timestamp          INTEGER NOT NULL,
				status             TEXT NOT NULL,
				num_remaining      INTEGER NOT NULL,
				num_target         INTEGER NOT NULL,
				completion_percent REAL NOT NULL,
				progress_pixels    INTEGER NOT NULL,
				regress_pixels     INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_history_change_project_ts
				ON history_change (project_id, timestamp)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS history_change`,
			`DROP TABLE IF EXISTS tile_project`,
			`DROP TABLE IF EXISTS project_info`,
			`DROP INDEX IF EXISTS idx_tile_info_heat_checked`,
			`DROP TABLE IF EXISTS tile_info`,
		},
	},
}
