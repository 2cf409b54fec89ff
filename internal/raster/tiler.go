package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
)

// TileSize is the edge length of a rendered slippy-map tile in pixels.
const TileSize = 256

// webMercatorMaxLat is the latitude limit of the XYZ tiling scheme.
const webMercatorMaxLat = 85.05112878

// Tile is one rendered pyramid tile addressed by the standard {z}/{x}/{y}
// scheme.
type Tile struct {
	Z, X, Y int
	PNG     []byte
}

// tileCoord maps a WGS84 coordinate to fractional tile coordinates at zoom z.
func tileCoord(lon, lat float64, z int) (x, y float64) {
	lat = math.Max(-webMercatorMaxLat, math.Min(webMercatorMaxLat, lat))
	n := math.Exp2(float64(z))
	x = (lon + 180) / 360 * n
	latRad := lat * math.Pi / 180
	y = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n
	return x, y
}

// tileBounds returns the WGS84 extent of tile (z, x, y).
func tileBounds(z, x, y int) (minLon, minLat, maxLon, maxLat float64) {
	n := math.Exp2(float64(z))
	minLon = float64(x)/n*360 - 180
	maxLon = float64(x+1)/n*360 - 180
	maxLat = tileLat(float64(y), n)
	minLat = tileLat(float64(y+1), n)
	return minLon, minLat, maxLon, maxLat
}

func tileLat(y, n float64) float64 {
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	return latRad * 180 / math.Pi
}

// Pyramid renders the tile set covering the grid's extent for every zoom
// level in [minZoom, maxZoom]. Tiles that do not intersect the grid are
// skipped; pixels outside the grid or on nodata render transparent.
func Pyramid(g *Grid, minZoom, maxZoom int) ([]Tile, error) {
	if minZoom < 0 || maxZoom < minZoom {
		return nil, fmt.Errorf("invalid zoom range %d-%d", minZoom, maxZoom)
	}
	maxVal := g.maxValue()
	var tiles []Tile
	for z := minZoom; z <= maxZoom; z++ {
		x0, y0 := tileCoord(g.Bounds.MinX, g.Bounds.MaxY, z)
		x1, y1 := tileCoord(g.Bounds.MaxX, g.Bounds.MinY, z)
		n := int(math.Exp2(float64(z)))
		for ty := clamp(int(y0), 0, n-1); ty <= clamp(int(y1), 0, n-1); ty++ {
			for tx := clamp(int(x0), 0, n-1); tx <= clamp(int(x1), 0, n-1); tx++ {
				img, hasData := renderTile(g, z, tx, ty, maxVal)
				if !hasData {
					continue
				}
				var buf bytes.Buffer
				if err := png.Encode(&buf, img); err != nil {
					return nil, fmt.Errorf("encode tile %d/%d/%d: %w", z, tx, ty, err)
				}
				tiles = append(tiles, Tile{Z: z, X: tx, Y: ty, PNG: buf.Bytes()})
			}
		}
	}
	return tiles, nil
}

func renderTile(g *Grid, z, tx, ty int, maxVal float64) (*image.NRGBA, bool) {
	minLon, minLat, maxLon, maxLat := tileBounds(z, tx, ty)
	img := image.NewNRGBA(image.Rect(0, 0, TileSize, TileSize))
	hasData := false
	for py := 0; py < TileSize; py++ {
		// Pixel rows interpolate linearly in tile-space latitude; the
		// projection distortion inside one tile is below a pixel at the
		// zoom levels used here.
		lat := maxLat + (minLat-maxLat)*(float64(py)+0.5)/TileSize
		for px := 0; px < TileSize; px++ {
			lon := minLon + (maxLon-minLon)*(float64(px)+0.5)/TileSize
			v, ok := g.Sample(lon, lat)
			if !ok {
				continue
			}
			hasData = true
			img.SetNRGBA(px, py, brightnessColor(v, maxVal))
		}
	}
	return img, hasData
}

// brightnessColor maps a radiance value onto a black-to-yellow ramp.
func brightnessColor(v, maxVal float64) color.NRGBA {
	if maxVal <= 0 {
		maxVal = 1
	}
	t := math.Sqrt(math.Max(0, math.Min(1, v/maxVal)))
	return color.NRGBA{
		R: uint8(255 * t),
		G: uint8(240 * t),
		B: uint8(80 * t),
		A: 255,
	}
}

func (g *Grid) maxValue() float64 {
	maxVal := 0.0
	for _, p := range g.Pixels {
		v := float64(p)
		if math.IsNaN(v) || v == g.NoData {
			continue
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
