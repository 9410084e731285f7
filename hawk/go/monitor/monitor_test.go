package monitor

import (
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/ingest"
	"go.pixelhawk.org/hawk/hawk/go/palette"
	"go.pixelhawk.org/hawk/hawk/go/store"
)

func setup(t *testing.T, tileURL string) (context.Context, *Monitor, *config.Config, *store.Store) {
	cfg := config.New()
	cfg.DataDir = t.TempDir()
	cfg.TilesDir = filepath.Join(cfg.DataDir, "tiles")
	cfg.ProjectsDir = filepath.Join(cfg.DataDir, "projects")
	cfg.SnapshotsDir = filepath.Join(cfg.DataDir, "snapshots")
	cfg.MetadataDir = filepath.Join(cfg.DataDir, "metadata")
	cfg.RejectedDir = filepath.Join(cfg.DataDir, "rejected")
	cfg.Database = filepath.Join(cfg.DataDir, "hawk.db")
	cfg.RequestsPerMinute = 60000
	if tileURL != "" {
		cfg.TileURLTemplate = tileURL + "/files/s0/tiles/%d/%d.png"
	}
	require.NoError(t, cfg.EnsureDirs())

	st, err := store.New(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	ctx := context.Background()
	m, err := New(ctx, cfg, st)
	require.NoError(t, err)
	return ctx, m, cfg, st
}

// writeProjectFile writes a 2x2 target wanting palette index 1 everywhere,
// anchored per the coordinates in the name.
func writeProjectFile(t *testing.T, cfg *config.Config, owner, name string) string {
	dir := filepath.Join(cfg.ProjectsDir, owner)
	require.NoError(t, os.MkdirAll(dir, 0755))
	img := palette.New(geom.Size{W: 2, H: 2})
	for i := range img.Pix {
		img.Pix[i] = 1
	}
	path := filepath.Join(dir, name)
	require.NoError(t, palette.WriteFile(path, img))
	return path
}

func TestParseAnchor(t *testing.T) {
	p, err := parseAnchor("my art 3 7 10 20.png")
	require.NoError(t, err)
	require.Equal(t, geom.Point{X: 3010, Y: 7020}, p)

	p, err = parseAnchor("art_0_0_0_0.png")
	require.NoError(t, err)
	require.Equal(t, geom.Point{}, p)

	_, err = parseAnchor("no-coords.png")
	require.Error(t, err)
	_, err = parseAnchor("art 1 2 3.png")
	require.Error(t, err)
	_, err = parseAnchor("art 0 0 1000 0.png")
	require.Error(t, err)
}

func TestSyncProjectsRegisters(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	writeProjectFile(t, cfg, "7", "art 0 0 10 10.png")

	require.NoError(t, m.SyncProjects(ctx))

	p, err := st.GetProject(ctx, 7, "art 0 0 10 10.png")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, store.ProjectActive, p.State)
	require.Equal(t, geom.Rect{Left: 10, Top: 10, Right: 12, Bottom: 12}, p.Rect())

	tile, err := st.GetTile(ctx, geom.Tile{X: 0, Y: 0})
	require.NoError(t, err)
	require.Equal(t, store.HeatBurning, tile.Heat)

	// The registration diff ran against an empty tile cache.
	history, err := st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int64(4), history[0].NumRemaining)

	// A second scan with nothing changed is a no-op.
	require.NoError(t, m.SyncProjects(ctx))
	history, err = st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSyncProjectsRejectsBadName(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	path := writeProjectFile(t, cfg, "7", "no-coords-here.png")

	require.NoError(t, m.SyncProjects(ctx))

	require.NoFileExists(t, path)
	require.FileExists(t, filepath.Join(cfg.RejectedDir, "7-no-coords-here.png"))
	p, err := st.GetProject(ctx, 7, "no-coords-here.png")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestSyncProjectsRejectsBadImage(t *testing.T) {
	ctx, m, cfg, _ := setup(t, "")
	dir := filepath.Join(cfg.ProjectsDir, "7")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "bad 0 0 0 0.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0644))

	require.NoError(t, m.SyncProjects(ctx))
	require.NoFileExists(t, path)
	require.FileExists(t, filepath.Join(cfg.RejectedDir, "7-bad 0 0 0 0.png"))
}

func TestSyncProjectsRejectsOutOfBounds(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	// Anchored at the far corner, the 2x2 target hangs off the canvas.
	path := writeProjectFile(t, cfg, "7", "edge 2047 2047 999 999.png")

	require.NoError(t, m.SyncProjects(ctx))
	require.NoFileExists(t, path)
	p, err := st.GetProject(ctx, 7, "edge 2047 2047 999 999.png")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestSyncProjectsDeactivatesRemoved(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	path := writeProjectFile(t, cfg, "7", "art 0 0 10 10.png")
	require.NoError(t, m.SyncProjects(ctx))

	require.NoError(t, os.Remove(path))
	require.NoError(t, m.SyncProjects(ctx))

	p, err := st.GetProject(ctx, 7, "art 0 0 10 10.png")
	require.NoError(t, err)
	require.Equal(t, store.ProjectInactive, p.State)

	tile, err := st.GetTile(ctx, geom.Tile{X: 0, Y: 0})
	require.NoError(t, err)
	require.Equal(t, store.HeatInactive, tile.Heat)
}

func TestPollOneTileEndToEnd(t *testing.T) {
	fill := uint8(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		img := palette.New(geom.Size{W: geom.TileSize, H: geom.TileSize})
		for i := range img.Pix {
			img.Pix[i] = fill
		}
		require.NoError(t, png.Encode(w, img))
	}))
	defer srv.Close()

	ctx, m, cfg, st := setup(t, srv.URL)
	writeProjectFile(t, cfg, "7", "art 0 0 10 10.png")
	require.NoError(t, m.SyncProjects(ctx))
	p, err := st.GetProject(ctx, 7, "art 0 0 10 10.png")
	require.NoError(t, err)

	// First poll: the burning tile downloads as all transparent.
	require.NoError(t, m.PollOneTile(ctx))
	tile, err := st.GetTile(ctx, geom.Tile{X: 0, Y: 0})
	require.NoError(t, err)
	require.NotZero(t, tile.LastChecked)
	require.NotZero(t, tile.LastUpdate)
	require.Equal(t, store.HeatBurning, tile.Heat)

	// The project's region flips to the target color; the next poll sees the
	// change and a new history record lands.
	before, err := st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	fill = 1
	require.NoError(t, m.PollOneTile(ctx))
	after, err := st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	last := after[len(after)-1]
	require.Equal(t, store.DiffComplete, last.Status)
	require.Zero(t, last.NumRemaining)
}

func TestPollOneTileUnavailableLeavesTileAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, m, cfg, st := setup(t, srv.URL)
	writeProjectFile(t, cfg, "7", "art 3 7 0 0.png")
	require.NoError(t, m.SyncProjects(ctx))

	require.NoError(t, m.PollOneTile(ctx))

	tile, err := st.GetTile(ctx, geom.Tile{X: 3, Y: 7})
	require.NoError(t, err)
	require.Zero(t, tile.LastChecked)
	require.Zero(t, tile.LastUpdate)
	require.Empty(t, tile.ETag)
	require.Equal(t, store.HeatBurning, tile.Heat)
}

func TestSyncProjectsTopLevelOwnerZero(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	img := palette.New(geom.Size{W: 2, H: 2})
	for i := range img.Pix {
		img.Pix[i] = 1
	}
	path := filepath.Join(cfg.ProjectsDir, "lobby 0 0 50 50.png")
	require.NoError(t, palette.WriteFile(path, img))

	require.NoError(t, m.SyncProjects(ctx))

	p, err := st.GetProject(ctx, 0, "lobby 0 0 50 50.png")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, store.ProjectActive, p.State)
	require.Equal(t, geom.Rect{Left: 50, Top: 50, Right: 52, Bottom: 52}, p.Rect())

	// Removal deactivates like any owner-directory project.
	require.NoError(t, os.Remove(path))
	require.NoError(t, m.SyncProjects(ctx))
	p, err = st.GetProject(ctx, 0, "lobby 0 0 50 50.png")
	require.NoError(t, err)
	require.Equal(t, store.ProjectInactive, p.State)
}

func TestRebuildRestoresTileStateAndBaselineHistory(t *testing.T) {
	ctx, m, cfg, st := setup(t, "")
	writeProjectFile(t, cfg, "7", "art 0 0 10 10.png")

	// The cached tile already matches the target, so the registration diff
	// takes the baseline path and emits no history of its own.
	img := palette.New(geom.Size{W: geom.TileSize, H: geom.TileSize})
	img.Pix[10*img.Stride+10] = 1
	img.Pix[10*img.Stride+11] = 1
	img.Pix[11*img.Stride+10] = 1
	img.Pix[11*img.Stride+11] = 1
	cachePath := ingest.TilePath(cfg.TilesDir, geom.Tile{X: 0, Y: 0})
	require.NoError(t, palette.WriteFile(cachePath, img))
	mtime := time.Unix(1700000000, 0)
	require.NoError(t, os.Chtimes(cachePath, mtime, mtime))

	require.NoError(t, m.Rebuild(ctx))

	tile, err := st.GetTile(ctx, geom.Tile{X: 0, Y: 0})
	require.NoError(t, err)
	require.Equal(t, mtime.Unix(), tile.LastChecked)

	p, err := st.GetProject(ctx, 7, "art 0 0 10 10.png")
	require.NoError(t, err)
	history, err := st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, store.DiffComplete, history[0].Status)
	require.Equal(t, int64(4), history[0].NumTarget)
	require.Zero(t, history[0].NumRemaining)

	// A second rebuild adds nothing.
	require.NoError(t, m.Rebuild(ctx))
	history, err = st.HistoryForProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestPollOneTileNothingScheduled(t *testing.T) {
	ctx, m, _, _ := setup(t, "")
	require.NoError(t, m.PollOneTile(ctx))
}
