package store

import (
	"context"
	"database/sql"
	"errors"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/hawk/go/geom"
)

// ProjectState is the lifecycle state of a project.
type ProjectState string

const (
	ProjectActive   ProjectState = "active"
	ProjectInactive ProjectState = "inactive"
)

// DiffStatus is the status recorded with each history change.
type DiffStatus string

const (
	DiffInProgress DiffStatus = "in_progress"
	DiffComplete   DiffStatus = "complete"
)

// Project is a row of project_info: a target image placed somewhere on the
// canvas, plus the rolling aggregates maintained by the diff engine.
type Project struct {
	ID        int64
	Owner     int64
	Name      string
	State     ProjectState
	X         int
	Y         int
	Width     int
	Height    int
	FirstSeen int64
	LastCheck int64

	// Rolling aggregates, owned by the diff engine. MaxCompletionPixels is
	// the fewest remaining pixels ever observed; 0 doubles as "unset".
	MaxCompletionPixels  int64
	MaxCompletionPercent float64
	MaxCompletionTime    int64
	TotalProgress        int64
	TotalRegress         int64
	LargestRegressPixels int64
	HasMissingTiles      bool
}

// Rect returns the project's target rectangle on the canvas.
func (p *Project) Rect() geom.Rect {
	return geom.RectFromPointSize(geom.Point{X: p.X, Y: p.Y}, geom.Size{W: p.Width, H: p.Height})
}

// HistoryChange is a row of history_change: one appended record per
// non-trivial diff run.
type HistoryChange struct {
	ID                int64
	ProjectID         int64
	Timestamp         int64
	Status            DiffStatus
	NumRemaining      int64
	NumTarget         int64
	CompletionPercent float64
	ProgressPixels    int64
	RegressPixels     int64
}

const projectColumns = `id, owner_id, name, state, x, y, width, height, first_seen, last_check,
	max_completion_pixels, max_completion_percent, max_completion_time,
	total_progress, total_regress, largest_regress_pixels, has_missing_tiles`

// qualifiedProjectColumns is projectColumns with each column prefixed by the
// project_info table name, for queries that join against tables with
// overlapping column names.
const qualifiedProjectColumns = `project_info.id, project_info.owner_id, project_info.name,
	project_info.state, project_info.x, project_info.y, project_info.width, project_info.height,
	project_info.first_seen, project_info.last_check, project_info.max_completion_pixels,
	project_info.max_completion_percent, project_info.max_completion_time,
	project_info.total_progress, project_info.total_regress,
	project_info.largest_regress_pixels, project_info.has_missing_tiles`

func scanProject(row interface{ Scan(...interface{}) error }) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.State, &p.X, &p.Y, &p.Width, &p.Height,
		&p.FirstSeen, &p.LastCheck, &p.MaxCompletionPixels, &p.MaxCompletionPercent,
		&p.MaxCompletionTime, &p.TotalProgress, &p.TotalRegress, &p.LargestRegressPixels,
		&p.HasMissingTiles); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject returns the project identified by (owner, name), or nil if it
// does not exist.
func (s *Store) GetProject(ctx context.Context, owner int64, name string) (*Project, error) {
	row := s.vdb.DB.QueryRowContext(ctx,
		"SELECT "+projectColumns+" FROM project_info WHERE owner_id = ? AND name = ?", owner, name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "reading project %d/%s", owner, name)
	}
	return p, nil
}

// AddProject registers a project and, in the same transaction, inserts
// burning tile rows for every tile its rectangle overlaps (reactivating
// inactive ones) and the tile_project relation rows. If a row for
// (owner, name) already exists it is replaced, since a modified project file
// may have moved or been resized.
func (s *Store) AddProject(ctx context.Context, p *Project) error {
	tiles := p.Rect().Tiles()
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		// Drop any stale incarnation along with its relation rows.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM project_info WHERE owner_id = ? AND name = ?", p.Owner, p.Name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO project_info (owner_id, name, state, x, y, width, height, first_seen, last_check)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Owner, p.Name, ProjectActive, p.X, p.Y, p.Width, p.Height, p.FirstSeen, p.LastCheck)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = id
		p.State = ProjectActive
		for _, coord := range tiles {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tile_info (id, tile_x, tile_y, heat, last_checked, last_update, http_etag)
				VALUES (?, ?, ?, ?, 0, 0, '')
				ON CONFLICT (id) DO UPDATE SET heat = ?, last_update = 0
					WHERE tile_info.heat = ?`,
				coord.ID(), coord.X, coord.Y, HeatBurning, HeatBurning, HeatInactive); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO tile_project (project_id, tile_id) VALUES (?, ?)",
				id, coord.ID()); err != nil {
				return err
			}
		}
		return nil
	})
	return skerr.Wrapf(err, "adding project %d/%s", p.Owner, p.Name)
}

// DeactivateProject marks the project inactive, drops its relation rows, and
// deactivates any tiles left with no active project, all in one transaction.
func (s *Store) DeactivateProject(ctx context.Context, owner int64, name string) error {
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM project_info WHERE owner_id = ? AND name = ?", owner, name).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE project_info SET state = ? WHERE id = ?", ProjectInactive, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM tile_project WHERE project_id = ?", id); err != nil {
			return err
		}
		// Tiles that no longer back any active project fall out of
		// scheduling entirely.
		if _, err := tx.ExecContext(ctx, `
			UPDATE tile_info SET heat = ?
			WHERE id NOT IN (SELECT tile_id FROM tile_project)`, HeatInactive); err != nil {
			return err
		}
		return nil
	})
	return skerr.Wrapf(err, "deactivating project %d/%s", owner, name)
}

// ProjectsOverlapping returns the active projects whose rectangles overlap
// the given tile, via the tile_project index.
func (s *Store) ProjectsOverlapping(ctx context.Context, coord geom.Tile) ([]*Project, error) {
	rows, err := s.vdb.DB.QueryContext(ctx, `
		SELECT `+qualifiedProjectColumns+` FROM project_info
		JOIN tile_project ON tile_project.project_id = project_info.id
		WHERE tile_project.tile_id = ? AND project_info.state = ?
		ORDER BY project_info.id`, coord.ID(), ProjectActive)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing projects overlapping %s", coord)
	}
	defer rows.Close()
	var ret []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, p)
	}
	return ret, skerr.Wrap(rows.Err())
}

// UpdateProjectDiff persists the fields the diff engine owns.
func (s *Store) UpdateProjectDiff(ctx context.Context, p *Project) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.vdb.DB.ExecContext(ctx, `
			UPDATE project_info SET
				last_check = ?, max_completion_pixels = ?, max_completion_percent = ?,
				max_completion_time = ?, total_progress = ?, total_regress = ?,
				largest_regress_pixels = ?, has_missing_tiles = ?
			WHERE id = ?`,
			p.LastCheck, p.MaxCompletionPixels, p.MaxCompletionPercent, p.MaxCompletionTime,
			p.TotalProgress, p.TotalRegress, p.LargestRegressPixels, p.HasMissingTiles, p.ID)
		return err
	})
	return skerr.Wrapf(err, "updating project %d/%s", p.Owner, p.Name)
}

// AppendHistory appends a history record for the given project.
func (s *Store) AppendHistory(ctx context.Context, hc *HistoryChange) error {
	err := s.withRetry(ctx, func() error {
		res, err := s.vdb.DB.ExecContext(ctx, `
			INSERT INTO history_change (project_id, timestamp, status, num_remaining, num_target,
				completion_percent, progress_pixels, regress_pixels)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			hc.ProjectID, hc.Timestamp, hc.Status, hc.NumRemaining, hc.NumTarget,
			hc.CompletionPercent, hc.ProgressPixels, hc.RegressPixels)
		if err != nil {
			return err
		}
		hc.ID, err = res.LastInsertId()
		return err
	})
	return skerr.Wrapf(err, "appending history for project %d", hc.ProjectID)
}

// HistoryForProject returns the project's history ordered by timestamp, then
// insertion order.
func (s *Store) HistoryForProject(ctx context.Context, projectID int64) ([]*HistoryChange, error) {
	rows, err := s.vdb.DB.QueryContext(ctx, `
		SELECT id, project_id, timestamp, status, num_remaining, num_target,
			completion_percent, progress_pixels, regress_pixels
		FROM history_change WHERE project_id = ? ORDER BY timestamp, id`, projectID)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing history for project %d", projectID)
	}
	defer rows.Close()
	var ret []*HistoryChange
	for rows.Next() {
		hc := &HistoryChange{}
		if err := rows.Scan(&hc.ID, &hc.ProjectID, &hc.Timestamp, &hc.Status, &hc.NumRemaining,
			&hc.NumTarget, &hc.CompletionPercent, &hc.ProgressPixels, &hc.RegressPixels); err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, hc)
	}
	return ret, skerr.Wrap(rows.Err())
}

// ActiveProjects returns all active projects ordered by id.
func (s *Store) ActiveProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.vdb.DB.QueryContext(ctx,
		"SELECT "+projectColumns+" FROM project_info WHERE state = ? ORDER BY id", ProjectActive)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing active projects")
	}
	defer rows.Close()
	var ret []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, p)
	}
	return ret, skerr.Wrap(rows.Err())
}
