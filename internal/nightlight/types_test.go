package nightlight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonthKeyAndString(t *testing.T) {
	t.Parallel()

	m := Month{Year: 2023, Month: time.January}
	require.Equal(t, "2023_01", m.Key())
	require.Equal(t, "2023-01", m.String())
}

func TestMonthNextWrapsYear(t *testing.T) {
	t.Parallel()

	m := Month{Year: 2022, Month: time.December}
	require.Equal(t, Month{Year: 2023, Month: time.January}, m.Next())
}

func TestMonthsInRange(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC)
	months := MonthsInRange(start, end)
	require.Equal(t, []Month{
		{Year: 2023, Month: time.January},
		{Year: 2023, Month: time.February},
		{Year: 2023, Month: time.March},
	}, months)
}

func TestMonthsInRangeSingleMonth(t *testing.T) {
	t.Parallel()

	day := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)
	months := MonthsInRange(day, day)
	require.Equal(t, []Month{{Year: 2023, Month: time.June}}, months)
}

func TestMonthsInRangeInvertedIsEmpty(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.Empty(t, MonthsInRange(start, end))
}

func TestMonthsInRangeCrossesYear(t *testing.T) {
	t.Parallel()

	start := time.Date(2022, time.November, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, time.February, 5, 0, 0, 0, 0, time.UTC)
	require.Len(t, MonthsInRange(start, end), 4)
}

func TestPolygonContains(t *testing.T) {
	t.Parallel()

	square := Polygon{
		{Lon: 0, Lat: 0},
		{Lon: 10, Lat: 0},
		{Lon: 10, Lat: 10},
		{Lon: 0, Lat: 10},
		{Lon: 0, Lat: 0},
	}
	require.True(t, square.Contains(5, 5))
	require.False(t, square.Contains(15, 5))
	require.False(t, square.Contains(-1, -1))
}

func TestPolygonContainsConcave(t *testing.T) {
	t.Parallel()

	// L-shape: the notch in the upper right is outside.
	shape := Polygon{
		{Lon: 0, Lat: 0},
		{Lon: 10, Lat: 0},
		{Lon: 10, Lat: 5},
		{Lon: 5, Lat: 5},
		{Lon: 5, Lat: 10},
		{Lon: 0, Lat: 10},
		{Lon: 0, Lat: 0},
	}
	require.True(t, shape.Contains(2, 8))
	require.True(t, shape.Contains(8, 2))
	require.False(t, shape.Contains(8, 8))
}

func TestPolygonDegenerateNeverContains(t *testing.T) {
	t.Parallel()

	require.False(t, Polygon{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 1}}.Contains(0.5, 0.5))
}

func TestPolygonBounds(t *testing.T) {
	t.Parallel()

	p := Polygon{
		{Lon: -3, Lat: 7},
		{Lon: 4, Lat: -2},
		{Lon: 1, Lat: 9},
	}
	require.Equal(t, BoundingBox{MinX: -3, MinY: -2, MaxX: 4, MaxY: 9}, p.Bounds())
}

func TestJobStatusIsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, JobStatusPending.IsTerminal())
	require.False(t, JobStatusRunning.IsTerminal())
	require.True(t, JobStatusCompleted.IsTerminal())
	require.True(t, JobStatusFailed.IsTerminal())
}

func TestJobMetadataValidateExport(t *testing.T) {
	t.Parallel()

	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, JobMetadata{Export: &ExportParams{StartDate: start}}.Validate(JobTypeExport))

	err := JobMetadata{}.Validate(JobTypeExport)
	require.Error(t, err)
	require.True(t, IsValidation(err))

	err = JobMetadata{Export: &ExportParams{}}.Validate(JobTypeExport)
	require.Error(t, err)

	err = JobMetadata{Export: &ExportParams{
		StartDate: start,
		EndDate:   start.AddDate(0, -1, 0),
	}}.Validate(JobTypeExport)
	require.Error(t, err)
}

func TestJobMetadataValidateETL(t *testing.T) {
	t.Parallel()

	valid := JobMetadata{ETL: &ETLParams{
		RasterKey: "area/rasters/viirs/2023_01.tif",
		Month:     Month{Year: 2023, Month: time.January},
	}}
	require.NoError(t, valid.Validate(JobTypeETL))

	err := JobMetadata{Export: &ExportParams{StartDate: time.Now()}}.Validate(JobTypeETL)
	require.Error(t, err)
	require.True(t, IsValidation(err))

	err = JobMetadata{ETL: &ETLParams{Month: Month{Year: 2023, Month: time.January}}}.Validate(JobTypeETL)
	require.Error(t, err)
}

func TestJobMetadataValidateUnknownType(t *testing.T) {
	t.Parallel()

	err := JobMetadata{}.Validate(JobType("mystery"))
	require.Error(t, err)
	require.True(t, IsValidation(err))
}

func TestKeysAreDeterministic(t *testing.T) {
	t.Parallel()

	m := Month{Year: 2023, Month: time.February}
	require.Equal(t, "a1/rasters/viirs/2023_02.tif", RasterKey("a1", "viirs", m))
	require.Equal(t, "a1/2023_02/8/37/61.png", TileKey("a1", m, 8, 37, 61))
	require.Equal(t, "tiles/a1/2023_02/{z}/{x}/{y}.png", TilePathPattern("a1", m))
}
