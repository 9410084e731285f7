package monitor

import (
	"context"
	"os"
	"regexp"
	"strconv"

	"go.pixelhawk.org/hawk/go/now"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/palette"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

var tileFileRe = regexp.MustCompile(`^tile-(\d+)_(\d+)\.png$`)

// Rebuild reconstructs the database from the filesystem: a full project sync
// registers every target image and runs its initial diff, tile rows get their
// last_checked restored from the cache file mtimes, and projects that were
// already complete at registration receive the history record the baseline
// path does not emit. Idempotent.
func (m *Monitor) Rebuild(ctx context.Context) error {
	if err := m.SyncProjects(ctx); err != nil {
		return skerr.Wrap(err)
	}
	if err := m.restoreTileTimestamps(ctx); err != nil {
		return skerr.Wrap(err)
	}
	return skerr.Wrap(m.ensureBaselineHistory(ctx))
}

// restoreTileTimestamps sets each known tile's last_checked to the mtime of
// its cache file. Cache files for tiles no project overlaps are left alone.
func (m *Monitor) restoreTileTimestamps(ctx context.Context) error {
	entries, err := os.ReadDir(m.cfg.TilesDir)
	if err != nil {
		return skerr.Wrapf(err, "scanning %s", m.cfg.TilesDir)
	}
	for _, ent := range entries {
		match := tileFileRe.FindStringSubmatch(ent.Name())
		if match == nil {
			continue
		}
		x, _ := strconv.Atoi(match[1])
		y, _ := strconv.Atoi(match[2])
		coord := geom.Tile{X: x, Y: y}
		tile, err := m.store.GetTile(ctx, coord)
		if err != nil {
			return skerr.Wrap(err)
		}
		if tile == nil {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			return skerr.Wrap(err)
		}
		if err := m.store.MarkChecked(ctx, coord, info.ModTime().Unix(), tile.LastUpdate, tile.ETag); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}

// ensureBaselineHistory appends one inferred record for every active project
// that has none, which happens when the project was already complete when it
// was registered.
func (m *Monitor) ensureBaselineHistory(ctx context.Context) error {
	active, err := m.store.ActiveProjects(ctx)
	if err != nil {
		return skerr.Wrap(err)
	}
	ts := now.Now(ctx).Unix()
	for _, p := range active {
		history, err := m.store.HistoryForProject(ctx, p.ID)
		if err != nil {
			return skerr.Wrap(err)
		}
		if len(history) > 0 {
			continue
		}
		target, err := palette.OpenFile(m.targetPath(p))
		if err != nil {
			return skerr.Wrap(err)
		}
		var numTarget int64
		for _, idx := range palette.Bytes(target) {
			if idx != palette.Transparent {
				numTarget++
			}
		}
		if numTarget == 0 {
			numTarget = 1
		}
		if err := m.store.AppendHistory(ctx, &store.HistoryChange{
			ProjectID:         p.ID,
			Timestamp:         ts,
			Status:            store.DiffComplete,
			NumTarget:         numTarget,
			CompletionPercent: 100,
		}); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}
