package raster

import (
	"math"
	"sort"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// ZonalStats summarizes the brightness band over pixels whose centers fall
// inside the polygon. Nodata and NaN pixels are excluded. A raster with zero
// valid pixels is a DataQualityError, never a zero-valued result.
func ZonalStats(g *Grid, geom nightlight.Polygon, litThreshold float64) (nightlight.ZonalStats, error) {
	values := make([]float64, 0, g.Width*g.Height/4)
	lit := 0
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.At(x, y)
			if math.IsNaN(v) || v == g.NoData {
				continue
			}
			lon, lat := g.PixelCenter(x, y)
			if !geom.Contains(lon, lat) {
				continue
			}
			values = append(values, v)
			if v >= litThreshold {
				lit++
			}
		}
	}
	if len(values) == 0 {
		return nightlight.ZonalStats{}, &nightlight.DataQualityError{
			Reason: "no valid pixels inside area polygon",
		}
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	return nightlight.ZonalStats{
		MeanBrightness:   sum / float64(len(values)),
		MedianBrightness: median,
		SumBrightness:    sum,
		LitPixelCount:    lit,
		TotalPixelCount:  len(values),
		LitPercentage:    float64(lit) / float64(len(values)) * 100,
	}, nil
}
