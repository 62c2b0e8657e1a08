package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/mineguard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Boundaries are
// stored as GeoJSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS inspections (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id          TEXT NOT NULL UNIQUE,
	filename        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	boundary_source TEXT NOT NULL,
	metrics         TEXT NOT NULL,
	artifacts       TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	boundary        TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_inspections_created_at ON inspections(created_at);
CREATE INDEX IF NOT EXISTS idx_inspections_status ON inspections(status);
`

const sqliteColumns = `id, job_id, filename, status, start_date, end_date, boundary_source, metrics, artifacts, error, boundary, created_at`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateInspection(ctx context.Context, insp *model.Inspection) error {
	metricsJSON, err := json.Marshal(insp.Metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}
	artifactsJSON, err := json.Marshal(insp.Artifacts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifacts")
	}
	boundary, err := encodeGeoJSON(insp.Boundary)
	if err != nil {
		return err
	}

	now := nowUTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inspections (job_id, filename, status, start_date, end_date, boundary_source, metrics, artifacts, error, boundary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insp.JobID, insp.Filename, string(insp.Status), insp.StartDate, insp.EndDate,
		string(insp.BoundarySource), string(metricsJSON), string(artifactsJSON), insp.Error, boundary, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert inspection %s", insp.JobID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	insp.ID = id
	insp.CreatedAt = now
	return nil
}

func (s *SQLiteStore) GetInspection(ctx context.Context, jobID string) (*model.Inspection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM inspections WHERE job_id = ?`,
		jobID,
	)
	insp, err := scanSQLiteInspection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "sqlite: get inspection %s", jobID)
		}
		return nil, eris.Wrapf(err, "sqlite: get inspection %s", jobID)
	}
	return insp, nil
}

func (s *SQLiteStore) ListInspections(ctx context.Context, filter InspectionFilter) ([]model.Inspection, error) {
	query := `SELECT ` + sqliteColumns + ` FROM inspections WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list inspections")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Inspection
	for rows.Next() {
		insp, err := scanSQLiteInspection(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inspection")
		}
		out = append(out, *insp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list inspections iterate")
}

func scanSQLiteInspection(row scannable) (*model.Inspection, error) {
	var insp model.Inspection
	var metricsJSON, artifactsJSON, boundary, status, source string

	if err := row.Scan(&insp.ID, &insp.JobID, &insp.Filename, &status, &insp.StartDate, &insp.EndDate,
		&source, &metricsJSON, &artifactsJSON, &insp.Error, &boundary, &insp.CreatedAt); err != nil {
		return nil, err
	}
	insp.Status = model.InspectionStatus(status)
	insp.BoundarySource = model.BoundarySource(source)

	if err := json.Unmarshal([]byte(metricsJSON), &insp.Metrics); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal metrics")
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &insp.Artifacts); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifacts")
	}
	g, err := decodeGeoJSON(boundary)
	if err != nil {
		return nil, err
	}
	insp.Boundary = g
	return &insp, nil
}
