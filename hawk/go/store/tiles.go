package store

import (
	"context"
	"database/sql"
	"errors"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/hawk/go/geom"
)

// Tile is a row of tile_info: persistent metadata for a single canvas tile.
type Tile struct {
	ID          int64
	X           int
	Y           int
	Heat        int
	LastChecked int64
	LastUpdate  int64
	ETag        string
}

// Coord returns the tile's lattice coordinates.
func (t *Tile) Coord() geom.Tile {
	return geom.Tile{X: t.X, Y: t.Y}
}

const tileColumns = "id, tile_x, tile_y, heat, last_checked, last_update, http_etag"

func scanTile(row interface{ Scan(...interface{}) error }) (*Tile, error) {
	t := &Tile{}
	if err := row.Scan(&t.ID, &t.X, &t.Y, &t.Heat, &t.LastChecked, &t.LastUpdate, &t.ETag); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTile returns the tile row for the given coordinates, or nil if it has
// never been observed.
func (s *Store) GetTile(ctx context.Context, coord geom.Tile) (*Tile, error) {
	row := s.vdb.DB.QueryRowContext(ctx,
		"SELECT "+tileColumns+" FROM tile_info WHERE id = ?", coord.ID())
	t, err := scanTile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "reading tile %s", coord)
	}
	return t, nil
}

// UpsertTile inserts the tile as burning if it is absent. If it exists but is
// inactive (heat 0), it is reset to burning with a cleared last_update, since
// a project overlaps it again. Active rows are left untouched.
func (s *Store) UpsertTile(ctx context.Context, coord geom.Tile) error {
	err := s.withRetry(ctx, func() error {
		_, err := s.vdb.DB.ExecContext(ctx, `
			INSERT INTO tile_info (id, tile_x, tile_y, heat, last_checked, last_update, http_etag)
			VALUES (?, ?, ?, ?, 0, 0, '')
			ON CONFLICT (id) DO UPDATE SET heat = ?, last_update = 0
				WHERE tile_info.heat = ?`,
			coord.ID(), coord.X, coord.Y, HeatBurning, HeatBurning, HeatInactive)
		return err
	})
	return skerr.Wrapf(err, "upserting tile %s", coord)
}

// MarkChecked records the outcome of an ingest run: last_checked always
// advances, last_update is whatever the caller passes (the prior value on
// unchanged content, the current time on change), and the etag is stored for
// future conditional requests. Heat is deliberately untouched; graduation of
// burning tiles happens only at redistribute.
func (s *Store) MarkChecked(ctx context.Context, coord geom.Tile, now, lastUpdate int64, etag string) error {
	err := s.withRetry(ctx, func() error {
		res, err := s.vdb.DB.ExecContext(ctx,
			"UPDATE tile_info SET last_checked = ?, last_update = ?, http_etag = ? WHERE id = ?",
			now, lastUpdate, etag, coord.ID())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return skerr.Fmt("tile %s does not exist", coord)
		}
		return nil
	})
	return skerr.Wrapf(err, "marking tile %s checked", coord)
}

// NextUncheckedBurning returns the burning tile that has never been observed
// to change, lowest id first, or nil if the burning queue is empty.
func (s *Store) NextUncheckedBurning(ctx context.Context) (*Tile, error) {
	row := s.vdb.DB.QueryRowContext(ctx,
		"SELECT "+tileColumns+` FROM tile_info
		 WHERE heat = ? AND last_update = 0
		 ORDER BY id LIMIT 1`, HeatBurning)
	t, err := scanTile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "reading burning queue")
	}
	return t, nil
}

// NextTileInHeat returns the least recently checked tile at the given heat,
// ties broken by lowest id, or nil if the queue is empty.
func (s *Store) NextTileInHeat(ctx context.Context, heat int) (*Tile, error) {
	row := s.vdb.DB.QueryRowContext(ctx,
		"SELECT "+tileColumns+` FROM tile_info
		 WHERE heat = ?
		 ORDER BY last_checked, id LIMIT 1`, heat)
	t, err := scanTile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "reading queue %d", heat)
	}
	return t, nil
}

// TilesInHeat returns all tiles at the given heat ordered by last_checked
// ascending, then id.
func (s *Store) TilesInHeat(ctx context.Context, heat int) ([]*Tile, error) {
	rows, err := s.vdb.DB.QueryContext(ctx,
		"SELECT "+tileColumns+" FROM tile_info WHERE heat = ? ORDER BY last_checked, id", heat)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing heat %d", heat)
	}
	defer rows.Close()
	var ret []*Tile
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, t)
	}
	return ret, skerr.Wrap(rows.Err())
}

// TilesForRedistribution returns every tile eligible for temperature
// assignment: checked burning tiles and all current temperature tiles,
// most recently changed first.
func (s *Store) TilesForRedistribution(ctx context.Context) ([]*Tile, error) {
	rows, err := s.vdb.DB.QueryContext(ctx,
		"SELECT "+tileColumns+` FROM tile_info
		 WHERE (heat = ? AND last_update > 0) OR (heat BETWEEN 1 AND ?)
		 ORDER BY last_update DESC, id`, HeatBurning, MaxTemperature)
	if err != nil {
		return nil, skerr.Wrapf(err, "listing tiles for redistribution")
	}
	defer rows.Close()
	var ret []*Tile
	for rows.Next() {
		t, err := scanTile(rows)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, t)
	}
	return ret, skerr.Wrap(rows.Err())
}

// NumTemperatureQueues returns the highest heat with any temperature tile,
// or 0 if there are none.
func (s *Store) NumTemperatureQueues(ctx context.Context) (int, error) {
	var n sql.NullInt64
	err := s.vdb.DB.QueryRowContext(ctx,
		"SELECT MAX(heat) FROM tile_info WHERE heat BETWEEN 1 AND ?", MaxTemperature).Scan(&n)
	if err != nil {
		return 0, skerr.Wrapf(err, "counting temperature queues")
	}
	return int(n.Int64), nil
}

// SetHeats applies new heat values in a single transaction. The caller passes
// only the tiles whose heat actually changes, keeping the common
// nothing-moved redistribute a zero-write operation.
func (s *Store) SetHeats(ctx context.Context, heats map[int64]int) error {
	if len(heats) == 0 {
		return nil
	}
	err := s.inTransaction(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE tile_info SET heat = ? WHERE id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, heat := range heats {
			if _, err := stmt.ExecContext(ctx, heat, id); err != nil {
				return err
			}
		}
		return nil
	})
	return skerr.Wrapf(err, "writing %d heat changes", len(heats))
}
