// Package diff compares the observed canvas against each project's target
// image and maintains the project's history and rolling aggregates.
//
// Each run works on three images over the project rectangle: the target, the
// current canvas stitched from cached tiles, and the previous snapshot. The
// snapshot is the canvas as it looked after the last run, so progress and
// regress are attributed between consecutive observations.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"go.pixelhawk.org/hawk/go/metrics2"
	"go.pixelhawk.org/hawk/go/now"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/ingest"
	"go.pixelhawk.org/hawk/hawk/go/palette"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

// secondsPerPixel is the observed average pace of pixel placement, used only
// for the ETA log line.
const secondsPerPixel = 27

// Differ runs diffs for projects and owns the snapshot and metadata files.
type Differ struct {
	store        *store.Store
	tilesDir     string
	snapshotsDir string
	metadataDir  string

	runs     metrics2.Counter
	complete metrics2.Counter
}

// New returns a Differ configured from c.
func New(c *config.Config, st *store.Store) *Differ {
	return &Differ{
		store:        st,
		tilesDir:     c.TilesDir,
		snapshotsDir: c.SnapshotsDir,
		metadataDir:  c.MetadataDir,
		runs:         metrics2.GetCounter("diff_runs"),
		complete:     metrics2.GetCounter("diff_projects_complete"),
	}
}

// SnapshotPath returns the snapshot file for the given project.
func (d *Differ) SnapshotPath(p *store.Project) string {
	return filepath.Join(d.snapshotsDir, fmt.Sprintf("project-%d_%s.png", p.Owner, p.Name))
}

// MetadataPath returns the metadata sidecar for the given project.
func (d *Differ) MetadataPath(p *store.Project) string {
	return filepath.Join(d.metadataDir, fmt.Sprintf("project-%d_%s.yaml", p.Owner, p.Name))
}

// RemoveArtifacts deletes the project's snapshot and metadata, for project
// deactivation.
func (d *Differ) RemoveArtifacts(p *store.Project) {
	util.Remove(d.SnapshotPath(p))
	util.Remove(d.MetadataPath(p))
}

// RunDiff compares the current canvas against the project's target image and
// updates the snapshot, metadata, aggregates, and history. trigger, if
// non-nil, is the tile whose change prompted the run and is credited in the
// metadata. The project row is updated in place and persisted.
func (d *Differ) RunDiff(ctx context.Context, p *store.Project, targetPath string, trigger *geom.Tile) error {
	defer metrics2.NewTimer("diff_run").Stop()
	d.runs.Inc(1)
	ts := now.Now(ctx).Unix()

	target, err := palette.OpenFile(targetPath)
	if err != nil {
		return skerr.Wrapf(err, "loading target for project %d/%s", p.Owner, p.Name)
	}
	current, missing, err := ingest.Stitch(d.tilesDir, p.Rect())
	if err != nil {
		return skerr.Wrap(err)
	}
	prev := d.loadSnapshot(p)
	if prev != nil && len(palette.Bytes(prev)) != len(palette.Bytes(target)) {
		// Stale snapshot from before the project was resized or moved.
		sklog.Warningf("Discarding mis-sized snapshot for project %d/%s", p.Owner, p.Name)
		prev = nil
	}

	p.LastCheck = ts
	p.HasMissingTiles = missing

	cur := palette.Bytes(current)
	tgt := palette.Bytes(target)
	if len(cur) != len(tgt) {
		return skerr.Fmt("project %d/%s: target is %d pixels but rectangle covers %d", p.Owner, p.Name, len(tgt), len(cur))
	}

	// A snapshot-less project whose region already matches its target was
	// finished before monitoring began. Record the baseline but claim no
	// progress for it.
	if prev == nil && bytes.Equal(cur, tgt) {
		if err := palette.WriteFile(d.SnapshotPath(p), current); err != nil {
			return skerr.Wrap(err)
		}
		sklog.Infof("Project %d/%s was already complete, baseline recorded", p.Owner, p.Name)
		return skerr.Wrap(d.store.UpdateProjectDiff(ctx, p))
	}

	// Nothing moved since the last run.
	if prev != nil && bytes.Equal(palette.Bytes(prev), cur) {
		return skerr.Wrap(d.store.UpdateProjectDiff(ctx, p))
	}

	res := compare(tgt, cur, prev)

	status := store.DiffInProgress
	if res.numRemaining == 0 {
		status = store.DiffComplete
		d.complete.Inc(1)
	}
	completion := 100 * float64(res.numTarget-res.numRemaining) / float64(res.numTarget)

	p.TotalProgress += res.progress
	p.TotalRegress += res.regress
	if res.regress > p.LargestRegressPixels {
		p.LargestRegressPixels = res.regress
	}
	if p.MaxCompletionTime == 0 || res.numRemaining < p.MaxCompletionPixels {
		p.MaxCompletionPixels = res.numRemaining
		p.MaxCompletionPercent = completion
		p.MaxCompletionTime = ts
	}

	if err := d.store.AppendHistory(ctx, &store.HistoryChange{
		ProjectID:         p.ID,
		Timestamp:         ts,
		Status:            status,
		NumRemaining:      res.numRemaining,
		NumTarget:         res.numTarget,
		CompletionPercent: completion,
		ProgressPixels:    res.progress,
		RegressPixels:     res.regress,
	}); err != nil {
		return skerr.Wrap(err)
	}
	if err := d.store.UpdateProjectDiff(ctx, p); err != nil {
		return skerr.Wrap(err)
	}

	if err := palette.WriteFile(d.SnapshotPath(p), current); err != nil {
		return skerr.Wrap(err)
	}
	md, err := readMetadata(d.MetadataPath(p))
	if err != nil {
		sklog.Warningf("Discarding unreadable metadata for project %d/%s: %s", p.Owner, p.Name, err)
		md = &Metadata{}
	}
	md.EnsureTiles(p.Rect().Tiles())
	if trigger != nil {
		md.RecordUpdate(trigger.String(), ts)
	} else {
		// Runs without a triggering tile, like the registration diff, do not
		// count toward the 24h change window.
		md.Prune(ts)
	}
	if err := writeMetadata(d.MetadataPath(p), md); err != nil {
		return skerr.Wrap(err)
	}

	eta := time.Duration(res.numRemaining*secondsPerPixel) * time.Second
	sklog.Infof("Project %d/%s: %s of %s pixels remaining (%.1f%% done, +%s -%s), ETA %s",
		p.Owner, p.Name, humanize.Comma(res.numRemaining), humanize.Comma(res.numTarget),
		completion, humanize.Comma(res.progress), humanize.Comma(res.regress), eta)
	return nil
}

// loadSnapshot reads the previous snapshot, or nil if there is none. A
// corrupt snapshot is discarded with a warning; the run proceeds as if it
// were the first.
func (d *Differ) loadSnapshot(p *store.Project) *image.Paletted {
	path := d.SnapshotPath(p)
	img, err := palette.OpenFile(path)
	if err == nil {
		return img
	}
	if !errors.Is(err, os.ErrNotExist) {
		sklog.Warningf("Discarding corrupt snapshot %s: %s", path, err)
		util.Remove(path)
	}
	return nil
}

// compareResult carries the per-pixel counts of a single run.
type compareResult struct {
	numTarget    int64
	numRemaining int64
	progress     int64
	regress      int64
}

// compare counts the target pixels still wrong, and attributes progress and
// regress between the previous snapshot and the current canvas. Transparent
// target pixels are outside the project and ignored. With no previous
// snapshot every correct pixel counts as progress and nothing as regress.
// numTarget is floored to 1 so completion percentages stay defined.
func compare(tgt, cur []byte, prev *image.Paletted) compareResult {
	var prevBytes []byte
	if prev != nil {
		prevBytes = palette.Bytes(prev)
	}
	res := compareResult{}
	for i, want := range tgt {
		if want == palette.Transparent {
			continue
		}
		res.numTarget++
		curRight := cur[i] == want
		if !curRight {
			res.numRemaining++
		}
		prevRight := prevBytes != nil && prevBytes[i] == want
		if curRight && !prevRight {
			res.progress++
		}
		if !curRight && prevRight {
			res.regress++
		}
	}
	if res.numTarget == 0 {
		res.numTarget = 1
	}
	return res
}
