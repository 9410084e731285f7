package ingest

import (
	"errors"
	"image"
	"os"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/hawk/go/geom"
	"go.pixelhawk.org/hawk/hawk/go/palette"
)

// Stitch composes the current canvas content over the given rectangle from
// the cached tiles under tilesDir. Tiles not yet in the cache leave their
// region transparent; the second return is true if any were missing.
func Stitch(tilesDir string, r geom.Rect) (*image.Paletted, bool, error) {
	ret := palette.New(r.Size())
	missing := false
	for _, coord := range r.Tiles() {
		path := TilePath(tilesDir, coord)
		img, err := palette.OpenFile(path)
		if errors.Is(err, os.ErrNotExist) {
			missing = true
			continue
		}
		if err != nil {
			return nil, false, skerr.Wrapf(err, "stitching tile %s", coord)
		}
		// The copy extent is clamped to the cached image, so a file smaller
		// than a full tile contributes only the pixels it has.
		origin := coord.Origin()
		x0 := max(r.Left, origin.X)
		x1 := min(r.Right, origin.X+min(img.Rect.Dx(), geom.TileSize))
		y0 := max(r.Top, origin.Y)
		y1 := min(r.Bottom, origin.Y+min(img.Rect.Dy(), geom.TileSize))
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		for y := y0; y < y1; y++ {
			src := (y-origin.Y)*img.Stride + (x0 - origin.X)
			dst := (y-r.Top)*ret.Stride + (x0 - r.Left)
			copy(ret.Pix[dst:dst+x1-x0], img.Pix[src:src+x1-x0])
		}
	}
	return ret, missing, nil
}
