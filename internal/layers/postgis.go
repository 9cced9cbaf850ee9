package layers

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nycbuildings/lotline/internal/models"
)

// PostGISIndex answers the same spatial queries as MemoryIndex against a
// PostGIS table, for deployments whose reference layers live in the
// database instead of on disk. Geometries are stored in state plane
// (SRID 2263), so distances come back in feet.
type PostGISIndex struct {
	pool *pgxpool.Pool

	name         string
	table        string
	idColumn     string
	secondaryCol string
	geomColumn   string
}

// PostGISSpec configures a PostGISIndex. SecondaryColumn is optional.
type PostGISSpec struct {
	Name            string
	Table           string
	IDColumn        string
	SecondaryColumn string
	GeometryColumn  string
}

// NewPostGISIndex validates the spec and wraps the pool. It does not
// touch the database; the first query does.
func NewPostGISIndex(pool *pgxpool.Pool, spec PostGISSpec) (*PostGISIndex, error) {
	if pool == nil {
		return nil, errors.New("nil connection pool")
	}
	if spec.Table == "" || spec.IDColumn == "" || spec.GeometryColumn == "" {
		return nil, fmt.Errorf("layer %s: table, id column and geometry column are required", spec.Name)
	}
	return &PostGISIndex{
		pool:         pool,
		name:         spec.Name,
		table:        spec.Table,
		idColumn:     spec.IDColumn,
		secondaryCol: spec.SecondaryColumn,
		geomColumn:   spec.GeometryColumn,
	}, nil
}

// Name implements Index.
func (p *PostGISIndex) Name() string { return p.name }

func (p *PostGISIndex) secondaryExpr() string {
	if p.secondaryCol == "" {
		return "''"
	}
	return fmt.Sprintf("COALESCE(%s::text, '')", p.secondaryCol)
}

// Containing implements Index with ST_Contains. LIMIT 1 mirrors the
// in-memory index's first-match tie policy.
func (p *PostGISIndex) Containing(ctx context.Context, pt models.Point) (Match, bool, error) {
	query := fmt.Sprintf(`
		SELECT %s::text, %s
		FROM %s
		WHERE ST_Contains(%s, ST_SetSRID(ST_MakePoint($1, $2), 2263))
		LIMIT 1`,
		p.idColumn, p.secondaryExpr(), p.table, p.geomColumn,
	)

	var m Match
	err := p.pool.QueryRow(ctx, query, pt.X, pt.Y).Scan(&m.ID, &m.Secondary)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, fmt.Errorf("layer %s: containment query: %w", p.name, err)
	}
	return m, true, nil
}

// Nearest implements Index with ST_DWithin plus an ordered ST_Distance.
func (p *PostGISIndex) Nearest(ctx context.Context, pt models.Point, maxDist float64) (Match, bool, error) {
	if maxDist < 0 {
		return Match{}, false, nil
	}
	query := fmt.Sprintf(`
		SELECT %s::text, %s,
		       ST_Distance(%s, ST_SetSRID(ST_MakePoint($1, $2), 2263)) AS dist
		FROM %s
		WHERE ST_DWithin(%s, ST_SetSRID(ST_MakePoint($1, $2), 2263), $3)
		ORDER BY dist
		LIMIT 1`,
		p.idColumn, p.secondaryExpr(), p.geomColumn, p.table, p.geomColumn,
	)

	var m Match
	err := p.pool.QueryRow(ctx, query, pt.X, pt.Y, maxDist).Scan(&m.ID, &m.Secondary, &m.Distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, fmt.Errorf("layer %s: nearest query: %w", p.name, err)
	}
	return m, true, nil
}

// SecondaryFor implements SecondaryLookup.
func (p *PostGISIndex) SecondaryFor(ctx context.Context, id string) (string, bool, error) {
	if p.secondaryCol == "" {
		return "", false, nil
	}
	query := fmt.Sprintf(`
		SELECT %s::text
		FROM %s
		WHERE %s::text = $1 AND %s IS NOT NULL
		LIMIT 1`,
		p.secondaryCol, p.table, p.idColumn, p.secondaryCol,
	)

	var s string
	err := p.pool.QueryRow(ctx, query, id).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("layer %s: secondary lookup: %w", p.name, err)
	}
	return s, s != "", nil
}
