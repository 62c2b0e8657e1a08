package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mineguard/internal/db"
	"github.com/sells-group/mineguard/internal/model"
)

// PostgresStore implements Store on Postgres with PostGIS. Boundaries are
// stored as MultiPolygon geometries in SRID 4326.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS inspections (
	id              BIGSERIAL PRIMARY KEY,
	job_id          TEXT NOT NULL UNIQUE,
	filename        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	boundary_source TEXT NOT NULL,
	metrics         JSONB NOT NULL,
	artifacts       JSONB NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	boundary        geometry(MultiPolygon, 4326),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_inspections_created_at ON inspections(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status);
CREATE INDEX IF NOT EXISTS idx_inspections_boundary ON inspections USING GIST (boundary);
`

const postgresColumns = `id, job_id, filename, status, start_date, end_date, boundary_source, metrics, artifacts, error, ST_AsEWKB(boundary), created_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: migrate: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: migrate: commit tx")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateInspection(ctx context.Context, insp *model.Inspection) error {
	metricsJSON, err := json.Marshal(insp.Metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}
	artifactsJSON, err := json.Marshal(insp.Artifacts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifacts")
	}
	boundary, err := encodeEWKB(insp.Boundary)
	if err != nil {
		return err
	}

	// Parts of a collection boundary may overlap; the column holds their union.
	err = s.pool.QueryRow(ctx,
		`INSERT INTO inspections (job_id, filename, status, start_date, end_date, boundary_source, metrics, artifacts, error, boundary)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, ST_Multi(ST_UnaryUnion(ST_GeomFromEWKB($10))))
		 RETURNING id, created_at`,
		insp.JobID, insp.Filename, string(insp.Status), insp.StartDate, insp.EndDate,
		string(insp.BoundarySource), metricsJSON, artifactsJSON, insp.Error, boundary,
	).Scan(&insp.ID, &insp.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert inspection %s", insp.JobID)
	}
	return nil
}

func (s *PostgresStore) GetInspection(ctx context.Context, jobID string) (*model.Inspection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresColumns+` FROM inspections WHERE job_id = $1`,
		jobID,
	)
	insp, err := scanPostgresInspection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: get inspection %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get inspection %s", jobID)
	}
	return insp, nil
}

func (s *PostgresStore) ListInspections(ctx context.Context, filter InspectionFilter) ([]model.Inspection, error) {
	query := `SELECT ` + postgresColumns + ` FROM inspections WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list inspections")
	}
	defer rows.Close()

	var out []model.Inspection
	for rows.Next() {
		insp, err := scanPostgresInspection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan inspection")
		}
		out = append(out, *insp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list inspections iterate")
}

func scanPostgresInspection(row scannable) (*model.Inspection, error) {
	var insp model.Inspection
	var metricsJSON, artifactsJSON, boundary []byte
	var status, source string

	if err := row.Scan(&insp.ID, &insp.JobID, &insp.Filename, &status, &insp.StartDate, &insp.EndDate,
		&source, &metricsJSON, &artifactsJSON, &insp.Error, &boundary, &insp.CreatedAt); err != nil {
		return nil, err
	}
	insp.Status = model.InspectionStatus(status)
	insp.BoundarySource = model.BoundarySource(source)

	if err := json.Unmarshal(metricsJSON, &insp.Metrics); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal metrics")
	}
	if err := json.Unmarshal(artifactsJSON, &insp.Artifacts); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifacts")
	}
	g, err := decodeEWKB(boundary)
	if err != nil {
		return nil, err
	}
	insp.Boundary = g
	return &insp, nil
}
