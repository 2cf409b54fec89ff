package nightlight

import "fmt"

// Object keys are deterministic so re-runs overwrite rather than duplicate.

// RasterKey returns the rasters-bucket key for one exported monthly
// composite, e.g. "a1b2/rasters/viirs/2023_01.tif".
func RasterKey(areaID, source string, month Month) string {
	return fmt.Sprintf("%s/rasters/%s/%s.tif", areaID, source, month.Key())
}

// TileKey returns the tiles-bucket key for one rendered tile.
func TileKey(areaID string, month Month, z, x, y int) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d.png", areaID, month.Key(), z, x, y)
}

// TilePathPattern returns the templated tile address stored on timeseries
// rows, e.g. "tiles/a1b2/2023_01/{z}/{x}/{y}.png".
func TilePathPattern(areaID string, month Month) string {
	return fmt.Sprintf("%s/%s/%s/{z}/{x}/{y}.png", BucketTiles, areaID, month.Key())
}
