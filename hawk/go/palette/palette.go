// Package palette pins the canonical 8-bit paletted representation of canvas
// pixels. Index 0 is reserved for transparency; every other index maps to one
// of the fixed site colors. Two images over the same rectangle are equal iff
// their canonical index bytes are equal, which is the comparison the ingest
// and diff code rely on.
package palette

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/util"
	"go.pixelhawk.org/hawk/hawk/go/geom"
)

// Transparent is the reserved palette index.
const Transparent = uint8(0)

// order lists the palette colors as 0xRRGGBB, in palette order starting at
// index 1. The first 31 are the free colors, the rest are paid.
var order = []uint32{
	0x000000, 0x3C3C3C, 0x787878, 0xD2D2D2, 0xFFFFFF,
	0x600018, 0xED1C24, 0xFF7F27, 0xF6AA09, 0xF9DD3B,
	0xFFFABC, 0x0EB968, 0x13E67B, 0x87FF5E, 0x0C816E,
	0x10AEA6, 0x13E1BE, 0x28509E, 0x4093E4, 0x60F7F2,
	0x6B50F6, 0x99B1FB, 0x780C99, 0xAA38B9, 0xE09FF9,
	0xCB007A, 0xEC1F80, 0xF38DA9, 0x684634, 0x95682A,
	0xF8B277,
	0xAAAAAA, 0xA50E1E, 0xFA8072, 0xE45C1A, 0x9C8431,
	0xC5AD31, 0xE8D45F, 0x4A6B3A, 0x5A944A, 0x84C573,
	0x0F799F, 0xBBFAF2, 0x7DC7FF, 0x4D31B8, 0x4A4284,
	0x7A71C4, 0xB5AEF1, 0xDBA463, 0xD18051, 0xFFC5A5,
	0x9B5249, 0xD18078, 0xFAB6A4, 0x7B6352, 0x9C846B,
	0xD6B594, 0x333941, 0x6D758D, 0xB3B9D1, 0x6D643F,
	0x948C6B, 0xCDC59E,
}

// aliases maps off-palette RGB values that the site is known to serve to the
// index they stand in for. 0x10AE82 shows up in tiles where teal was placed.
var aliases = map[uint32]uint32{
	0x10AE82: 0x10AEA6,
}

// Colors is the canonical color.Palette. Index 0 is fully transparent.
var Colors color.Palette

// byRGB maps 0xRRGGBB to the palette index.
var byRGB map[uint32]uint8

func init() {
	Colors = make(color.Palette, len(order)+1)
	Colors[0] = color.NRGBA{}
	byRGB = make(map[uint32]uint8, len(order)+len(aliases))
	for i, rgb := range order {
		Colors[i+1] = color.NRGBA{
			R: uint8(rgb >> 16),
			G: uint8(rgb >> 8),
			B: uint8(rgb),
			A: 0xFF,
		}
		byRGB[rgb] = uint8(i + 1)
	}
	for from, to := range aliases {
		byRGB[from] = byRGB[to]
	}
}

// Report accumulates the colors, keyed as 0xRRGGBB, that failed to map to a
// palette index, with occurrence counts.
type Report map[uint32]int

// ColorNotInPaletteError is returned when an image contains opaque pixels
// with no palette entry.
type ColorNotInPaletteError struct {
	Report Report
}

// Error implements error, listing the unmappable colors.
func (e *ColorNotInPaletteError) Error() string {
	colors := make([]uint32, 0, len(e.Report))
	for c := range e.Report {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })
	msg := "color not in palette:"
	for _, c := range colors {
		msg += fmt.Sprintf(" #%06X(x%d)", c, e.Report[c])
	}
	return msg
}

// Lookup maps a color to its palette index. Fully transparent pixels map to
// Transparent. Opaque colors with no palette entry map to Transparent and are
// recorded in the report.
func Lookup(report Report, c color.Color) uint8 {
	nrgba := color.NRGBAModel.Convert(c).(color.NRGBA)
	if nrgba.A == 0 {
		return Transparent
	}
	rgb := uint32(nrgba.R)<<16 | uint32(nrgba.G)<<8 | uint32(nrgba.B)
	if idx, ok := byRGB[rgb]; ok {
		return idx
	}
	if report != nil {
		report[rgb]++
	}
	return Transparent
}

// New creates a paletted image of the given size with every pixel
// transparent.
func New(s geom.Size) *image.Paletted {
	return image.NewPaletted(image.Rect(0, 0, s.W, s.H), Colors)
}

// Ensure converts any image to the canonical paletted form. It returns a
// *ColorNotInPaletteError listing the unmappable colors if any opaque pixel
// has no palette entry.
func Ensure(img image.Image) (*image.Paletted, error) {
	if p, ok := img.(*image.Paletted); ok && samePalette(p.Palette) {
		return p, nil
	}
	b := img.Bounds()
	ret := New(geom.Size{W: b.Dx(), H: b.Dy()})
	report := Report{}
	for y := 0; y < b.Dy(); y++ {
		row := ret.Pix[y*ret.Stride : y*ret.Stride+b.Dx()]
		for x := 0; x < b.Dx(); x++ {
			row[x] = Lookup(report, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	if len(report) > 0 {
		return nil, &ColorNotInPaletteError{Report: report}
	}
	return ret, nil
}

// samePalette returns true if the given palette is index-for-index identical
// to Colors.
func samePalette(p color.Palette) bool {
	if len(p) != len(Colors) {
		return false
	}
	for i, c := range p {
		r1, g1, b1, a1 := c.RGBA()
		r2, g2, b2, a2 := Colors[i].RGBA()
		if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
			return false
		}
	}
	return true
}

// Bytes returns the canonical byte form: width*height palette indices in row
// order.
func Bytes(p *image.Paletted) []byte {
	w, h := p.Rect.Dx(), p.Rect.Dy()
	if p.Stride == w {
		return p.Pix[:w*h]
	}
	ret := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		ret = append(ret, p.Pix[y*p.Stride:y*p.Stride+w]...)
	}
	return ret
}

// Decode reads a PNG and canonicalizes it.
func Decode(r io.Reader) (*image.Paletted, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, skerr.Wrapf(err, "decoding png")
	}
	return Ensure(img)
}

// OpenFile loads a paletted image from disk, canonicalizing on the way in.
func OpenFile(path string) (*image.Paletted, error) {
	var ret *image.Paletted
	err := util.WithReadFile(path, func(f io.Reader) error {
		var err error
		ret, err = Decode(f)
		return err
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "opening paletted image %s", path)
	}
	return ret, nil
}

// WriteFile atomically writes the image to path as a PNG.
func WriteFile(path string, p *image.Paletted) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		return png.Encode(w, p)
	})
}

var _ error = (*ColorNotInPaletteError)(nil)
