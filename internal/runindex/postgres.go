package runindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
)

// DB is the minimal database/sql surface the Postgres store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresStore persists run records in a run_index table. It shares the
// Store contract with FileStore so deployments pick one by configuration.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, pipeline string, rec domain.RunIndexRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run index store not initialized")
	}
	pipeline = strings.TrimSpace(pipeline)
	if err := validatePipeline(pipeline); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("run index record: %w", err)
	}
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_index (pipeline, manifest_hash, run_id, ts, metrics, artifact_location)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		pipeline,
		rec.ManifestHash,
		rec.RunID,
		rec.Timestamp.UTC(),
		metrics,
		rec.ArtifactLocation,
	)
	if err != nil {
		return fmt.Errorf("insert run index record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, pipeline, manifestHash string) ([]domain.RunIndexRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run index store not initialized")
	}
	pipeline = strings.TrimSpace(pipeline)
	if err := validatePipeline(pipeline); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT manifest_hash, run_id, ts, metrics, artifact_location
		 FROM run_index
		 WHERE pipeline = $1 AND manifest_hash = $2
		 ORDER BY ts DESC`,
		pipeline,
		manifestHash,
	)
	if err != nil {
		return nil, fmt.Errorf("select run index records: %w", err)
	}
	defer rows.Close()

	var out []domain.RunIndexRecord
	for rows.Next() {
		var (
			rec     domain.RunIndexRecord
			ts      time.Time
			metrics []byte
		)
		if err := rows.Scan(&rec.ManifestHash, &rec.RunID, &ts, &metrics, &rec.ArtifactLocation); err != nil {
			return nil, fmt.Errorf("scan run index record: %w", err)
		}
		rec.Timestamp = ts
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &rec.Metrics); err != nil {
				return nil, &domain.IndexCorruptionError{Source: "run_index", Line: len(out) + 1, Err: err}
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run index records: %w", err)
	}
	return out, nil
}
