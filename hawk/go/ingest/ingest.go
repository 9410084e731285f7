// Package ingest fetches canvas tiles over HTTP and maintains the local tile
// cache. A fetch never mutates state unless the tile decoded cleanly; an
// unavailable tile leaves the cached copy and the caller's bookkeeping alone.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"go.pixelhawk.org/hawk/go/httputils"
	"go.pixelhawk.org/hawk/go/metrics2"
	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/sklog"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/config"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/palette"
)

// Result classifies the outcome of a tile fetch.
type Result int

const (
	// Unavailable means the tile could not be fetched or decoded. Nothing
	// was written.
	Unavailable Result = iota

	// Unchanged means the tile content matches the cached copy.
	Unchanged

	// Changed means the tile content differs and the cache was rewritten.
	Changed
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	default:
		return "unavailable"
	}
}

// Ingester downloads tiles and keeps the on-disk cache current.
type Ingester struct {
	client      *http.Client
	urlTemplate string
	tilesDir    string
	limiter     *rate.Limiter

	// failures is a negative cache: a tile present here recently failed and
	// is skipped without a request until its entry expires.
	failures *cache.Cache

	fetchCounter   metrics2.Counter
	changedCounter metrics2.Counter
	failedCounter  metrics2.Counter
}

// New returns an Ingester configured from c.
func New(c *config.Config) *Ingester {
	return &Ingester{
		client:      httputils.NewConfiguredTimeoutClient(c.FetchTimeout(), c.FetchTimeout()),
		urlTemplate: c.TileURLTemplate,
		tilesDir:    c.TilesDir,
		limiter:     rate.NewLimiter(rate.Limit(float64(c.RequestsPerMinute)/60.0), 1),
		failures:    cache.New(c.FailureBackoff(), time.Minute),

		fetchCounter:   metrics2.GetCounter("ingest_fetches"),
		changedCounter: metrics2.GetCounter("ingest_tiles_changed"),
		failedCounter:  metrics2.GetCounter("ingest_fetch_failures"),
	}
}

// TilePath returns the cache file for the given tile.
func (i *Ingester) TilePath(coord geom.Tile) string {
	return TilePath(i.tilesDir, coord)
}

// TilePath returns the cache file for the given tile under tilesDir.
func TilePath(tilesDir string, coord geom.Tile) string {
	return filepath.Join(tilesDir, fmt.Sprintf("tile-%d_%d.png", coord.X, coord.Y))
}

// URL returns the remote endpoint for the given tile.
func (i *Ingester) URL(coord geom.Tile) string {
	return fmt.Sprintf(i.urlTemplate, coord.X, coord.Y)
}

// FetchTile downloads the tile, compares it against the cached copy, and
// rewrites the cache if the content changed. The returned etag is the
// response's ETag header; it is stored for later use but not yet sent back as
// a conditional request. Unavailable outcomes are returned with a nil error;
// the error return is for failures of the ingester itself, like a canceled
// context.
func (i *Ingester) FetchTile(ctx context.Context, coord geom.Tile) (Result, string, error) {
	if _, backoff := i.failures.Get(coord.String()); backoff {
		return Unavailable, "", nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return Unavailable, "", skerr.Wrap(err)
	}
	i.fetchCounter.Inc(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.URL(coord), nil)
	if err != nil {
		return Unavailable, "", skerr.Wrap(err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Unavailable, "", skerr.Wrap(ctx.Err())
		}
		return i.failed(coord, "fetching tile %s: %s", coord, err)
	}
	defer util.Close(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return i.failed(coord, "fetching tile %s: status %d", coord, resp.StatusCode)
	}

	img, err := palette.Decode(resp.Body)
	if err != nil {
		return i.failed(coord, "decoding tile %s: %s", coord, err)
	}
	if img.Rect.Dx() != geom.TileSize || img.Rect.Dy() != geom.TileSize {
		return i.failed(coord, "tile %s: body is %dx%d, want %dx%d",
			coord, img.Rect.Dx(), img.Rect.Dy(), geom.TileSize, geom.TileSize)
	}
	etag := resp.Header.Get("ETag")

	path := i.TilePath(coord)
	if cached, err := palette.OpenFile(path); err == nil {
		if bytes.Equal(palette.Bytes(cached), palette.Bytes(img)) {
			return Unchanged, etag, nil
		}
	}
	if err := palette.WriteFile(path, img); err != nil {
		return Unavailable, "", skerr.Wrapf(err, "caching tile %s", coord)
	}
	i.changedCounter.Inc(1)
	return Changed, etag, nil
}

// failed records a fetch failure: log it, bump the counter, and keep the tile
// out of the request stream until the backoff expires.
func (i *Ingester) failed(coord geom.Tile, format string, args ...interface{}) (Result, string, error) {
	sklog.Warningf(format, args...)
	i.failedCounter.Inc(1)
	i.failures.SetDefault(coord.String(), true)
	return Unavailable, "", nil
}
