package geom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPointFrom4AndTo4(t *testing.T) {
	p, err := PointFrom4(1, 2, 3, 4)
	require.NoError(t, err)
	require.Equal(t, Point{X: 1003, Y: 2004}, p)
	tx, ty, px, py := p.To4()
	require.Equal(t, [4]int{1, 2, 3, 4}, [4]int{tx, ty, px, py})
}

func TestPointFrom4Rejects(t *testing.T) {
	for _, quad := range [][4]int{
		{-1, 0, 0, 0},
		{0, -1, 0, 0},
		{0, 0, 1000, 0},
		{0, 0, 0, 1000},
		{2048, 0, 0, 0},
		{0, 2048, 0, 0},
	} {
		_, err := PointFrom4(quad[0], quad[1], quad[2], quad[3])
		require.Error(t, err, "quad %v", quad)
	}
}

func TestPointString(t *testing.T) {
	p, err := PointFrom4(2, 3, 10, 20)
	require.NoError(t, err)
	require.Equal(t, "2_3_10_20", p.String())
	require.Equal(t, "2_3", Tile{X: 2, Y: 3}.String())
}

func TestPointSub(t *testing.T) {
	require.Equal(t, Point{X: 1000, Y: 1500}, Point{X: 1500, Y: 2500}.Sub(Point{X: 500, Y: 1000}))
}

func TestTileID(t *testing.T) {
	tile := Tile{X: 3, Y: 7}
	require.Equal(t, int64(7*2048+3), tile.ID())
	require.Equal(t, tile, TileFromID(tile.ID()))
	require.True(t, tile.Valid())
	require.False(t, Tile{X: 2048, Y: 0}.Valid())
	require.False(t, Tile{X: 0, Y: -1}.Valid())
	require.Equal(t, Point{X: 3000, Y: 7000}, tile.Origin())
}

func TestRectTiles(t *testing.T) {
	r := RectFromPointSize(Point{X: 500, Y: 500}, Size{W: 1500, H: 2000})
	tiles := r.Tiles()
	require.Len(t, tiles, 6)
	require.Contains(t, tiles, Tile{X: 0, Y: 0})
	require.Contains(t, tiles, Tile{X: 1, Y: 2})
}

func TestRectProperties(t *testing.T) {
	r := RectFromPointSize(Point{X: 0, Y: 0}, Size{W: 100, H: 200})
	require.Equal(t, Point{}, r.Origin())
	require.Equal(t, Size{W: 100, H: 200}, r.Size())
	require.Contains(t, r.String(), "100x200")
	require.False(t, r.Empty())

	r2 := r.Sub(Point{X: 10, Y: 20})
	require.Equal(t, -10, r2.Left)
	require.Equal(t, -20, r2.Top)

	require.True(t, Rect{}.Empty())
	require.Nil(t, Rect{}.Tiles())
}

func TestRectInBounds(t *testing.T) {
	require.True(t, RectFromPointSize(Point{}, Size{W: CanvasSize, H: CanvasSize}).InBounds())
	require.False(t, RectFromPointSize(Point{X: CanvasSize - 1, Y: 0}, Size{W: 2, H: 2}).InBounds())
	require.False(t, Rect{Left: -1, Top: 0, Right: 10, Bottom: 10}.InBounds())
}

// geoExamples pairs canvas points with their geographic locations: the canvas
// center, then spot-checked landmarks.
var geoExamples = []struct {
	pixel Point
	geo   GeoPoint
}{
	{Point{X: 1024000, Y: 1024000}, GeoPoint{Latitude: 0.0, Longitude: 0.0}},
	{Point{X: 573355, Y: 747984}, GeoPoint{Latitude: 43.582364791630496, Longitude: -79.21485384697264}},
	{Point{X: 733393, Y: 1023987}, GeoPoint{Latitude: 0.0021975969721476077, Longitude: -51.08317415947268}},
	{Point{X: 2006342, Y: 1299716}, GeoPoint{Latitude: -43.54427966409443, Longitude: 172.67739224677734}},
	{Point{X: 558527, Y: 2047999}, GeoPoint{Latitude: -85.05112116917313, Longitude: -81.82133822197264}},
}

func TestPointToGeo(t *testing.T) {
	for _, ex := range geoExamples {
		got := ex.pixel.ToGeo()
		require.InDelta(t, ex.geo.Latitude, got.Latitude, 0.001, "pixel %v", ex.pixel)
		require.InDelta(t, ex.geo.Longitude, got.Longitude, 0.001, "pixel %v", ex.pixel)
	}
}

func TestGeoPointToPixel(t *testing.T) {
	for _, ex := range geoExamples {
		got := ex.geo.ToPixel()
		require.LessOrEqual(t, math.Abs(float64(got.X-ex.pixel.X)), 1.0, "geo %v", ex.geo)
		require.LessOrEqual(t, math.Abs(float64(got.Y-ex.pixel.Y)), 1.0, "geo %v", ex.geo)
	}
}

func TestGeoRoundTrip(t *testing.T) {
	for _, ex := range geoExamples {
		recovered := ex.pixel.ToGeo().ToPixel()
		require.LessOrEqual(t, math.Abs(float64(recovered.X-ex.pixel.X)), 1.0)
		require.LessOrEqual(t, math.Abs(float64(recovered.Y-ex.pixel.Y)), 1.0)

		back := ex.geo.ToPixel().ToGeo()
		require.InDelta(t, ex.geo.Latitude, back.Latitude, 0.0001)
		require.InDelta(t, ex.geo.Longitude, back.Longitude, 0.0001)
	}
}
