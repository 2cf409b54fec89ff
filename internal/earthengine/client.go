// Package earthengine implements the imagery provider client. It requests a
// monthly mean composite of the nightlight band clipped to an area polygon
// and downloads the resulting raster.
package earthengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
	"github.com/energyprogress/nightlight-etl/internal/raster"
)

// Config captures the parameters of the imagery export service.
type Config struct {
	BaseURL        string
	Collection     string
	Band           string
	ScaleMeters    int
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client talks to the export service over HTTP.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Client. Missing knobs fall back to the service defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "NOAA/VIIRS/DNB/MONTHLY_V1/VCMSLCFG"
	}
	if cfg.Band == "" {
		cfg.Band = "avg_rad"
	}
	if cfg.ScaleMeters <= 0 {
		cfg.ScaleMeters = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}, nil
}

type compositeRequest struct {
	Collection string       `json:"collection"`
	Band       string       `json:"band"`
	Reducer    string       `json:"reducer"`
	Region     [][2]float64 `json:"region"`
	StartDate  string       `json:"start_date"`
	EndDate    string       `json:"end_date"`
	Scale      int          `json:"scale"`
	CRS        string       `json:"crs"`
}

type compositeResponse struct {
	DownloadURL string `json:"download_url"`
	ImageCount  int    `json:"image_count"`
}

// MonthlyComposite builds the monthly mean of the configured band over
// [month start, next month start), clipped to geom, and downloads it.
// The downloaded payload is validated as a decodable raster before it is
// handed back.
func (c *Client) MonthlyComposite(ctx context.Context, geom nightlight.Polygon, month nightlight.Month) ([]byte, error) {
	region := make([][2]float64, len(geom))
	for i, p := range geom {
		region[i] = [2]float64{p.Lon, p.Lat}
	}
	req := compositeRequest{
		Collection: c.cfg.Collection,
		Band:       c.cfg.Band,
		Reducer:    "mean",
		Region:     region,
		StartDate:  month.Start().Format("2006-01-02"),
		EndDate:    month.Next().Start().Format("2006-01-02"),
		Scale:      c.cfg.ScaleMeters,
		CRS:        "EPSG:4326",
	}

	resp, err := c.requestComposite(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.ImageCount == 0 {
		return nil, &nightlight.ExternalServiceError{
			Service: "earth engine",
			Err:     fmt.Errorf("no images in collection for %s", month),
		}
	}

	data, err := c.download(ctx, resp.DownloadURL)
	if err != nil {
		return nil, err
	}
	if _, err := raster.Decode(data); err != nil {
		return nil, &nightlight.ExternalServiceError{
			Service: "earth engine",
			Err:     fmt.Errorf("downloaded payload for %s is not a valid raster: %w", month, err),
		}
	}
	c.logger.Debug("monthly composite downloaded",
		zap.String("month", month.String()),
		zap.Int("bytes", len(data)),
	)
	return data, nil
}

func (c *Client) requestComposite(ctx context.Context, req compositeRequest) (compositeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return compositeResponse{}, fmt.Errorf("marshal composite request: %w", err)
	}

	var out compositeResponse
	err = c.withRetry(ctx, "composite", func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/composites", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build composite request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("composite request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("composite request returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode composite response: %w", err)
		}
		if out.DownloadURL == "" {
			return fmt.Errorf("composite response missing download url")
		}
		return nil
	})
	if err != nil {
		return compositeResponse{}, &nightlight.ExternalServiceError{Service: "earth engine", Err: err}
	}
	return out, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, "download", func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build download request: %w", err)
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("download request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download returned status %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read download body: %w", err)
		}
		if len(data) == 0 {
			return fmt.Errorf("download body is empty")
		}
		return nil
	})
	if err != nil {
		return nil, &nightlight.ExternalServiceError{Service: "earth engine", Err: err}
	}
	return data, nil
}

// withRetry runs op up to MaxRetries times with exponential backoff.
func (c *Client) withRetry(ctx context.Context, name string, op func() error) error {
	backoff := c.cfg.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		c.logger.Warn("earth engine call failed, retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, c.cfg.MaxRetries, lastErr)
}
