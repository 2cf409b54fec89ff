// Package raster implements the pipeline's raster capabilities: decoding
// single-band brightness grids, polygon-masked zonal statistics, and
// slippy-map tile rendering.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// Magic identifies the single-band grid container produced by the imagery
// export path.
const Magic = "NLG1"

// maxGridPixels bounds decode allocations against corrupt headers.
const maxGridPixels = 64 << 20

// Grid is a north-up, single-band raster in WGS84. Pixels are stored
// row-major from the top-left corner.
type Grid struct {
	Width  int
	Height int
	Bounds nightlight.BoundingBox
	NoData float64
	Pixels []float32
}

// At returns the pixel value at column x, row y.
func (g *Grid) At(x, y int) float64 {
	return float64(g.Pixels[y*g.Width+x])
}

// PixelCenter returns the WGS84 coordinate at the center of pixel (x, y).
func (g *Grid) PixelCenter(x, y int) (lon, lat float64) {
	dx := (g.Bounds.MaxX - g.Bounds.MinX) / float64(g.Width)
	dy := (g.Bounds.MaxY - g.Bounds.MinY) / float64(g.Height)
	lon = g.Bounds.MinX + (float64(x)+0.5)*dx
	lat = g.Bounds.MaxY - (float64(y)+0.5)*dy
	return lon, lat
}

// Sample returns the value at the given coordinate using nearest-neighbor
// lookup. ok is false outside the grid or on a nodata pixel.
func (g *Grid) Sample(lon, lat float64) (float64, bool) {
	if lon < g.Bounds.MinX || lon > g.Bounds.MaxX || lat < g.Bounds.MinY || lat > g.Bounds.MaxY {
		return 0, false
	}
	fx := (lon - g.Bounds.MinX) / (g.Bounds.MaxX - g.Bounds.MinX) * float64(g.Width)
	fy := (g.Bounds.MaxY - lat) / (g.Bounds.MaxY - g.Bounds.MinY) * float64(g.Height)
	x := int(fx)
	y := int(fy)
	if x >= g.Width {
		x = g.Width - 1
	}
	if y >= g.Height {
		y = g.Height - 1
	}
	v := g.At(x, y)
	if math.IsNaN(v) || v == g.NoData {
		return 0, false
	}
	return v, true
}

// Decode parses a grid container. Malformed payloads return a
// DataQualityError so callers can distinguish bad data from outages.
func Decode(data []byte) (*Grid, error) {
	r := bytes.NewReader(data)
	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil || string(magic) != Magic {
		return nil, &nightlight.DataQualityError{Reason: "raster decoding failed: unrecognized container header"}
	}
	var hdr struct {
		Width, Height          uint32
		MinX, MinY, MaxX, MaxY float64
		NoData                 float64
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, &nightlight.DataQualityError{Reason: "raster decoding failed: truncated header", Err: err}
	}
	if hdr.Width == 0 || hdr.Height == 0 {
		return nil, &nightlight.DataQualityError{Reason: "raster decoding failed: zero-sized grid"}
	}
	if hdr.MaxX <= hdr.MinX || hdr.MaxY <= hdr.MinY {
		return nil, &nightlight.DataQualityError{Reason: "raster decoding failed: inverted bounds"}
	}
	n := int(hdr.Width) * int(hdr.Height)
	if n > maxGridPixels {
		return nil, &nightlight.DataQualityError{
			Reason: fmt.Sprintf("raster decoding failed: grid of %d pixels exceeds limit", n),
		}
	}
	pixels := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, pixels); err != nil {
		return nil, &nightlight.DataQualityError{Reason: "raster decoding failed: truncated pixel data", Err: err}
	}
	return &Grid{
		Width:  int(hdr.Width),
		Height: int(hdr.Height),
		Bounds: nightlight.BoundingBox{MinX: hdr.MinX, MinY: hdr.MinY, MaxX: hdr.MaxX, MaxY: hdr.MaxY},
		NoData: hdr.NoData,
		Pixels: pixels,
	}, nil
}

// DecodeFile reads a grid container from disk. A missing or unreadable file
// is an I/O error; malformed contents surface as a DataQualityError, same
// as Decode.
func DecodeFile(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raster file: %w", err)
	}
	return Decode(data)
}

// Encode serializes a grid into the container format Decode understands.
func Encode(g *Grid) ([]byte, error) {
	if g.Width <= 0 || g.Height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive")
	}
	if len(g.Pixels) != g.Width*g.Height {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d", len(g.Pixels), g.Width, g.Height)
	}
	var buf bytes.Buffer
	buf.WriteString(Magic)
	hdr := struct {
		Width, Height          uint32
		MinX, MinY, MaxX, MaxY float64
		NoData                 float64
	}{
		Width: uint32(g.Width), Height: uint32(g.Height),
		MinX: g.Bounds.MinX, MinY: g.Bounds.MinY, MaxX: g.Bounds.MaxX, MaxY: g.Bounds.MaxY,
		NoData: g.NoData,
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("write grid header: %w", err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, g.Pixels); err != nil {
		return nil, fmt.Errorf("write grid pixels: %w", err)
	}
	return buf.Bytes(), nil
}
