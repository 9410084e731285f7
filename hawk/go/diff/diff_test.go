package diff

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.pixelhawk.org/hawk/go/now"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/ingest"
	"go.pixelhawk.org/hawk/hawk/go/palette"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

// fixture keeps a project with a 2x2 target in tile (0, 0) plus the bits
// needed to fake canvas content underneath it.
type fixture struct {
	cfg        *config.Config
	st         *store.Store
	d          *Differ
	p          *store.Project
	targetPath string
	ctx        *now.TimeTravelCtx
}

var t0 = time.Unix(1700000000, 0)

func setup(t *testing.T) *fixture {
	cfg := config.New()
	cfg.DataDir = t.TempDir()
	cfg.TilesDir = filepath.Join(cfg.DataDir, "tiles")
	cfg.SnapshotsDir = filepath.Join(cfg.DataDir, "snapshots")
	cfg.MetadataDir = filepath.Join(cfg.DataDir, "metadata")
	cfg.ProjectsDir = filepath.Join(cfg.DataDir, "projects")
	cfg.RejectedDir = filepath.Join(cfg.DataDir, "rejected")
	cfg.Database = filepath.Join(cfg.DataDir, "hawk.db")
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.New(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	ctx := now.TimeTravelingContext(t0)
	f := &fixture{
		cfg:        cfg,
		st:         st,
		d:          New(cfg, st),
		ctx:        ctx,
		targetPath: filepath.Join(cfg.ProjectsDir, "target.png"),
	}

	// Target: all four pixels of a 2x2 square at (10, 10) want index 1.
	target := palette.New(geom.Size{W: 2, H: 2})
	for i := range target.Pix {
		target.Pix[i] = 1
	}
	require.NoError(t, palette.WriteFile(f.targetPath, target))

	f.p = &store.Project{
		Owner:     7,
		Name:      "target.png",
		X:         10,
		Y:         10,
		Width:     2,
		Height:    2,
		FirstSeen: t0.Unix(),
	}
	require.NoError(t, st.AddProject(ctx, f.p))
	return f
}

// setCanvas writes tile (0, 0) with the four project pixels set to the given
// indices, row by row.
func (f *fixture) setCanvas(t *testing.T, px [4]uint8) {
	img := palette.New(geom.Size{W: geom.TileSize, H: geom.TileSize})
	img.Pix[10*img.Stride+10] = px[0]
	img.Pix[10*img.Stride+11] = px[1]
	img.Pix[11*img.Stride+10] = px[2]
	img.Pix[11*img.Stride+11] = px[3]
	require.NoError(t, palette.WriteFile(ingest.TilePath(f.cfg.TilesDir, geom.Tile{X: 0, Y: 0}), img))
}

func (f *fixture) history(t *testing.T) []*store.HistoryChange {
	history, err := f.st.HistoryForProject(f.ctx, f.p.ID)
	require.NoError(t, err)
	return history
}

func TestRunDiffFirstObservation(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 1, 0, 0})

	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	history := f.history(t)
	require.Len(t, history, 1)
	hc := history[0]
	require.Equal(t, store.DiffInProgress, hc.Status)
	require.Equal(t, int64(4), hc.NumTarget)
	require.Equal(t, int64(2), hc.NumRemaining)
	require.Equal(t, int64(2), hc.ProgressPixels)
	require.Zero(t, hc.RegressPixels)
	require.InDelta(t, 50.0, hc.CompletionPercent, 0.01)

	require.Equal(t, int64(2), f.p.TotalProgress)
	require.Equal(t, int64(2), f.p.MaxCompletionPixels)
	require.Equal(t, t0.Unix(), f.p.MaxCompletionTime)
	require.FileExists(t, f.d.SnapshotPath(f.p))
}

func TestRunDiffComplete(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 1, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	f.ctx.SetTime(t0.Add(time.Minute))
	f.setCanvas(t, [4]uint8{1, 1, 1, 1})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	history := f.history(t)
	require.Len(t, history, 2)
	hc := history[1]
	require.Equal(t, store.DiffComplete, hc.Status)
	require.Zero(t, hc.NumRemaining)
	require.Equal(t, int64(2), hc.ProgressPixels)
	require.InDelta(t, 100.0, hc.CompletionPercent, 0.01)

	require.Equal(t, int64(4), f.p.TotalProgress)
	require.Zero(t, f.p.MaxCompletionPixels)
	require.InDelta(t, 100.0, f.p.MaxCompletionPercent, 0.01)
}

func TestRunDiffRegress(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 1, 1, 1})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	// Already complete at first sight: baseline only, no history.
	require.Empty(t, f.history(t))

	// Vandalism: three pixels overwritten.
	f.ctx.SetTime(t0.Add(time.Minute))
	f.setCanvas(t, [4]uint8{2, 2, 2, 1})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	history := f.history(t)
	require.Len(t, history, 1)
	hc := history[0]
	require.Equal(t, int64(3), hc.NumRemaining)
	require.Equal(t, int64(3), hc.RegressPixels)
	require.Zero(t, hc.ProgressPixels)

	require.Equal(t, int64(3), f.p.TotalRegress)
	require.Equal(t, int64(3), f.p.LargestRegressPixels)

	// Repair: regress attribution needs the snapshot taken at baseline time.
	f.ctx.SetTime(t0.Add(2 * time.Minute))
	f.setCanvas(t, [4]uint8{1, 1, 1, 1})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	history = f.history(t)
	require.Len(t, history, 2)
	require.Equal(t, int64(3), history[1].ProgressPixels)
	require.Equal(t, store.DiffComplete, history[1].Status)
	require.Equal(t, int64(3), f.p.TotalProgress)
	require.Equal(t, int64(3), f.p.TotalRegress)
}

func TestRunDiffNoOpWhenUnchanged(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.Len(t, f.history(t), 1)

	// Same canvas again: only last_check moves.
	later := t0.Add(time.Hour)
	f.ctx.SetTime(later)
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.Len(t, f.history(t), 1)

	got, err := f.st.GetProject(f.ctx, f.p.Owner, f.p.Name)
	require.NoError(t, err)
	require.Equal(t, later.Unix(), got.LastCheck)
}

func TestRunDiffMaxCompletionTracksFewestRemaining(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 1, 1, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.Equal(t, int64(1), f.p.MaxCompletionPixels)
	best := f.p.MaxCompletionTime

	// Losing ground must not move the high-water mark.
	f.ctx.SetTime(t0.Add(time.Minute))
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.Equal(t, int64(1), f.p.MaxCompletionPixels)
	require.Equal(t, best, f.p.MaxCompletionTime)
}

func TestRunDiffMissingTiles(t *testing.T) {
	f := setup(t)
	// No tile cached at all: the whole region reads as transparent.
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.True(t, f.p.HasMissingTiles)

	history := f.history(t)
	require.Len(t, history, 1)
	require.Equal(t, int64(4), history[0].NumRemaining)
}

func TestRunDiffMetadata(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	trigger := geom.Tile{X: 0, Y: 0}
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, &trigger))

	md, err := readMetadata(f.d.MetadataPath(f.p))
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"0_0": t0.Unix()}, md.TileLastUpdate)
	require.Equal(t, []int64{t0.Unix()}, md.TileUpdates24h)

	// A change past the window prunes the old timestamp.
	later := t0.Add(25 * time.Hour)
	f.ctx.SetTime(later)
	f.setCanvas(t, [4]uint8{1, 1, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, &trigger))

	md, err = readMetadata(f.d.MetadataPath(f.p))
	require.NoError(t, err)
	require.Equal(t, []int64{later.Unix()}, md.TileUpdates24h)
	require.Equal(t, later.Unix(), md.TileLastUpdate["0_0"])
}

func TestRunDiffMetadataWithoutTrigger(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))

	// A run without a triggering tile, like the registration diff, does not
	// count toward the 24h window, but the key set still covers every tile
	// under the project rectangle.
	md, err := readMetadata(f.d.MetadataPath(f.p))
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"0_0": 0}, md.TileLastUpdate)
	require.Empty(t, md.TileUpdates24h)
}

func TestMetadataEnsureTiles(t *testing.T) {
	md := &Metadata{TileLastUpdate: map[string]int64{"0_0": 5, "9_9": 7}}
	md.EnsureTiles([]geom.Tile{{X: 0, Y: 0}, {X: 1, Y: 0}})
	require.Equal(t, map[string]int64{"0_0": 5, "1_0": 0}, md.TileLastUpdate)
}

func TestRunDiffCorruptSnapshotDiscarded(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	require.NoError(t, os.WriteFile(f.d.SnapshotPath(f.p), []byte("garbage"), 0644))

	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	// Treated as a first observation.
	history := f.history(t)
	require.Len(t, history, 1)
	require.Equal(t, int64(1), history[0].ProgressPixels)
}

func TestRunDiffTargetSizeMismatch(t *testing.T) {
	f := setup(t)
	wrong := palette.New(geom.Size{W: 3, H: 3})
	require.NoError(t, palette.WriteFile(f.targetPath, wrong))
	require.Error(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
}

func TestMetadataPrune(t *testing.T) {
	md := &Metadata{TileUpdates24h: []int64{100, 200, 100000}}
	md.Prune(100000 + tileUpdateWindow - 50)
	require.Equal(t, []int64{100000}, md.TileUpdates24h)
}

func TestRemoveArtifacts(t *testing.T) {
	f := setup(t)
	f.setCanvas(t, [4]uint8{1, 0, 0, 0})
	require.NoError(t, f.d.RunDiff(f.ctx, f.p, f.targetPath, nil))
	require.FileExists(t, f.d.SnapshotPath(f.p))
	require.FileExists(t, f.d.MetadataPath(f.p))

	f.d.RemoveArtifacts(f.p)
	require.NoFileExists(t, f.d.SnapshotPath(f.p))
	require.NoFileExists(t, f.d.MetadataPath(f.p))
}
