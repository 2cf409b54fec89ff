package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

// AreaStore reads and writes registered areas. The scheduler core only uses
// the read side; Create/List serve the API layer.
type AreaStore struct {
	db querier
}

// NewAreaStore wraps a pool (or pgxmock pool in tests).
func NewAreaStore(db querier) (*AreaStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AreaStore{db: db}, nil
}

// Create inserts an area row. The unique index on name surfaces duplicate
// names as an insert error.
func (s *AreaStore) Create(ctx context.Context, area nightlight.Area) error {
	if area.ID == "" {
		return fmt.Errorf("area id is required")
	}
	geom, err := json.Marshal(area.Geometry)
	if err != nil {
		return fmt.Errorf("marshal area geometry: %w", err)
	}
	meta, err := json.Marshal(area.Metadata)
	if err != nil {
		return fmt.Errorf("marshal area metadata: %w", err)
	}
	query := `
		INSERT INTO areas (id, name, geometry, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	if _, err := s.db.Exec(ctx, query, area.ID, area.Name, geom, meta, area.CreatedAt); err != nil {
		return fmt.Errorf("insert area: %w", err)
	}
	return nil
}

// Get retrieves an area by ID.
func (s *AreaStore) Get(ctx context.Context, areaID string) (nightlight.Area, error) {
	query := `
		SELECT id, name, geometry, metadata, created_at
		FROM areas
		WHERE id = $1;
	`
	area, err := scanArea(s.db.QueryRow(ctx, query, areaID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nightlight.Area{}, fmt.Errorf("area %s: %w", areaID, nightlight.ErrNotFound)
		}
		return nightlight.Area{}, fmt.Errorf("get area: %w", err)
	}
	return area, nil
}

// List returns all areas ordered by creation time.
func (s *AreaStore) List(ctx context.Context) ([]nightlight.Area, error) {
	query := `
		SELECT id, name, geometry, metadata, created_at
		FROM areas
		ORDER BY created_at ASC;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	defer rows.Close()

	var areas []nightlight.Area
	for rows.Next() {
		area, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("scan area row: %w", err)
		}
		areas = append(areas, area)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate area rows: %w", err)
	}
	return areas, nil
}

func scanArea(row pgx.Row) (nightlight.Area, error) {
	var (
		area nightlight.Area
		geom []byte
		meta []byte
	)
	if err := row.Scan(&area.ID, &area.Name, &geom, &meta, &area.CreatedAt); err != nil {
		return nightlight.Area{}, err
	}
	if len(geom) > 0 {
		if err := json.Unmarshal(geom, &area.Geometry); err != nil {
			return nightlight.Area{}, fmt.Errorf("unmarshal area geometry: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &area.Metadata); err != nil {
			return nightlight.Area{}, fmt.Errorf("unmarshal area metadata: %w", err)
		}
	}
	return area, nil
}
