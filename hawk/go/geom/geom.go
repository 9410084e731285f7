// Package geom holds the geometric primitives for tile math and coordinate
// conversion: the canvas is a 2048x2048 lattice of 1000x1000-pixel tiles, and
// pixels project onto geographic coordinates via Web Mercator.
package geom

import (
	"fmt"
	"math"

	"go.pixelhawk.org/hawk/go/skerr"
)

const (
	// TileSize is the width and height of a tile in pixels.
	TileSize = 1000

	// LatticeSize is the width and height of the canvas in tiles.
	LatticeSize = 2048

	// CanvasSize is the width and height of the canvas in pixels.
	CanvasSize = LatticeSize * TileSize
)

// Tile is a cell in the 2D tile lattice.
type Tile struct {
	X int
	Y int
}

// TileFromID is the inverse of Tile.ID.
func TileFromID(id int64) Tile {
	return Tile{X: int(id % LatticeSize), Y: int(id / LatticeSize)}
}

// ID returns the canonical tile id, ty*2048 + tx.
func (t Tile) ID() int64 {
	return int64(t.Y)*LatticeSize + int64(t.X)
}

// Valid returns true if the tile lies on the lattice.
func (t Tile) Valid() bool {
	return t.X >= 0 && t.X < LatticeSize && t.Y >= 0 && t.Y < LatticeSize
}

// Origin returns the top-left pixel of the tile.
func (t Tile) Origin() Point {
	return Point{X: t.X * TileSize, Y: t.Y * TileSize}
}

// String matches the form used in tile cache filenames, e.g. "3_7".
func (t Tile) String() string {
	return fmt.Sprintf("%d_%d", t.X, t.Y)
}

// Point is a pixel point on the canvas. Tile information is implicit in the
// coordinates; every 1000 pixels corresponds to a tile.
type Point struct {
	X int
	Y int
}

// PointFrom4 creates a Point from the (tx, ty, px, py) quadruple used in
// project file names.
func PointFrom4(tx, ty, px, py int) (Point, error) {
	if tx < 0 || ty < 0 || px < 0 || py < 0 {
		return Point{}, skerr.Fmt("tile and pixel coordinates must be non-negative: (%d, %d, %d, %d)", tx, ty, px, py)
	}
	if px >= TileSize || py >= TileSize {
		return Point{}, skerr.Fmt("pixel coordinates must be less than %d: (%d, %d)", TileSize, px, py)
	}
	if tx >= LatticeSize || ty >= LatticeSize {
		return Point{}, skerr.Fmt("tile coordinates must be less than %d: (%d, %d)", LatticeSize, tx, ty)
	}
	return Point{X: tx*TileSize + px, Y: ty*TileSize + py}, nil
}

// To4 converts to the (tx, ty, px, py) quadruple used in project file names.
func (p Point) To4() (tx, ty, px, py int) {
	return p.X / TileSize, p.Y / TileSize, p.X % TileSize, p.Y % TileSize
}

// Sub returns the component-wise difference p - o.
func (p Point) Sub(o Point) Point {
	return Point{X: p.X - o.X, Y: p.Y - o.Y}
}

// ToGeo is the inverse Web Mercator projection over the canvas.
func (p Point) ToGeo() GeoPoint {
	lon := float64(p.X)/CanvasSize*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*float64(p.Y)/CanvasSize))) * 180 / math.Pi
	return GeoPoint{Latitude: lat, Longitude: lon}
}

func (p Point) String() string {
	tx, ty, px, py := p.To4()
	return fmt.Sprintf("%d_%d_%d_%d", tx, ty, px, py)
}

// Size is a pixel size.
type Size struct {
	W int
	H int
}

// Empty returns true if the size has no area.
func (s Size) Empty() bool {
	return s.W == 0 || s.H == 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.W, s.H)
}

// Rect is a pixel rectangle on the canvas, half-open: [Left, Right) x
// [Top, Bottom).
type Rect struct {
	Left   int
	Top    int
	Right  int
	Bottom int
}

// RectFromPointSize creates a Rect from a top-left point and size.
func RectFromPointSize(p Point, s Size) Rect {
	return Rect{Left: p.X, Top: p.Y, Right: p.X + s.W, Bottom: p.Y + s.H}
}

// Origin returns the top-left point of the rectangle.
func (r Rect) Origin() Point {
	return Point{X: r.Left, Y: r.Top}
}

// Size returns the size of the rectangle.
func (r Rect) Size() Size {
	return Size{W: r.Right - r.Left, H: r.Bottom - r.Top}
}

// Empty returns true if the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Sub offsets the rectangle by a point.
func (r Rect) Sub(p Point) Rect {
	return Rect{Left: r.Left - p.X, Top: r.Top - p.Y, Right: r.Right - p.X, Bottom: r.Bottom - p.Y}
}

// InBounds returns true if the rectangle lies entirely within the canvas.
func (r Rect) InBounds() bool {
	return r.Left >= 0 && r.Top >= 0 && r.Right <= CanvasSize && r.Bottom <= CanvasSize
}

// Tiles enumerates the tiles covered by the rectangle, ordered by (ty, tx).
func (r Rect) Tiles() []Tile {
	if r.Empty() {
		return nil
	}
	left := r.Left / TileSize
	top := r.Top / TileSize
	right := (r.Right + TileSize - 1) / TileSize
	bottom := (r.Bottom + TileSize - 1) / TileSize
	ret := make([]Tile, 0, (right-left)*(bottom-top))
	for ty := top; ty < bottom; ty++ {
		for tx := left; tx < right; tx++ {
			ret = append(ret, Tile{X: tx, Y: ty})
		}
	}
	return ret
}

func (r Rect) String() string {
	return fmt.Sprintf("%s-%s", r.Size(), r.Origin())
}

// GeoPoint is a geographic coordinate pair.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// ToPixel is the forward Web Mercator projection onto the canvas.
func (g GeoPoint) ToPixel() Point {
	x := (g.Longitude + 180) / 360 * CanvasSize
	latRad := g.Latitude * math.Pi / 180
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * CanvasSize
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}
