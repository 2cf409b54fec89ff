package earthengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
	"github.com/energyprogress/nightlight-etl/internal/raster"
)

func validRaster(t *testing.T) []byte {
	t.Helper()
	data, err := raster.Encode(&raster.Grid{
		Width:  2,
		Height: 2,
		Bounds: nightlight.BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1},
		NoData: -9999,
		Pixels: []float32{1, 2, 3, 4},
	})
	require.NoError(t, err)
	return data
}

func testPolygon() nightlight.Polygon {
	return nightlight.Polygon{
		{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 1, Lat: 1}, {Lon: 0, Lat: 1}, {Lon: 0, Lat: 0},
	}
}

func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestMonthlyCompositeDownloadsRaster(t *testing.T) {
	t.Parallel()

	payload := validRaster(t)
	var gotReq compositeRequest

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/composites", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(t, w, compositeResponse{DownloadURL: srv.URL + "/download/abc", ImageCount: 4})
	})
	mux.HandleFunc("/download/abc", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	})

	client, err := New(fastConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	month := nightlight.Month{Year: 2023, Month: time.January}
	data, err := client.MonthlyComposite(context.Background(), testPolygon(), month)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	// The request carries the month window and the configured defaults.
	require.Equal(t, "2023-01-01", gotReq.StartDate)
	require.Equal(t, "2023-02-01", gotReq.EndDate)
	require.Equal(t, "NOAA/VIIRS/DNB/MONTHLY_V1/VCMSLCFG", gotReq.Collection)
	require.Equal(t, "avg_rad", gotReq.Band)
	require.Equal(t, "mean", gotReq.Reducer)
	require.Equal(t, 500, gotReq.Scale)
	require.Len(t, gotReq.Region, 5)
}

func TestMonthlyCompositeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	payload := validRaster(t)
	var attempts atomic.Int32

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/composites", func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(t, w, compositeResponse{DownloadURL: srv.URL + "/download", ImageCount: 1})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	})

	client, err := New(fastConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.MonthlyComposite(context.Background(), testPolygon(), nightlight.Month{Year: 2023, Month: time.June})
	require.NoError(t, err)
	require.Equal(t, int32(3), attempts.Load())
}

func TestMonthlyCompositeGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := New(fastConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.MonthlyComposite(context.Background(), testPolygon(), nightlight.Month{Year: 2023, Month: time.June})
	require.Error(t, err)
	require.True(t, nightlight.IsExternal(err))
}

func TestMonthlyCompositeEmptyCollection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, compositeResponse{DownloadURL: "http://unused.invalid", ImageCount: 0})
	}))
	defer srv.Close()

	client, err := New(fastConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.MonthlyComposite(context.Background(), testPolygon(), nightlight.Month{Year: 2023, Month: time.June})
	require.Error(t, err)
	require.True(t, nightlight.IsExternal(err))
	require.Contains(t, err.Error(), "no images")
}

func TestMonthlyCompositeRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v1/composites", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, compositeResponse{DownloadURL: srv.URL + "/download", ImageCount: 1})
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>definitely not a raster</html>"))
	})

	client, err := New(fastConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = client.MonthlyComposite(context.Background(), testPolygon(), nightlight.Month{Year: 2023, Month: time.June})
	require.Error(t, err)
	require.True(t, nightlight.IsExternal(err))
	require.Contains(t, err.Error(), "not a valid raster")
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}

func writeJSON(t *testing.T, w http.ResponseWriter, payload any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(payload))
}
