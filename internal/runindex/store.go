// Package runindex records completed runs grouped by manifest hash and
// derives metric deltas against the most recent prior run of the same
// manifest.
package runindex

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
)

// Store is the append-only run index. Query returns every recorded run of
// one pipeline and manifest hash, in no guaranteed order.
type Store interface {
	Append(ctx context.Context, pipeline string, rec domain.RunIndexRecord) error
	Query(ctx context.Context, pipeline, manifestHash string) ([]domain.RunIndexRecord, error)
}

// legacyIndexFile is the shared single-file layout written before the index
// was split per pipeline. It is read, never written.
const legacyIndexFile = "index.jsonl"

// FileStore keeps one JSONL file per pipeline under a directory supplied by
// external configuration. Appends are single O_APPEND writes.
type FileStore struct {
	dir         string
	logger      *slog.Logger
	legacyUntil time.Time
}

// FileStoreOption adjusts optional FileStore behavior.
type FileStoreOption func(*FileStore)

// WithLegacyFallbackUntil enables reading the old shared index file for
// pipelines that have no per-pipeline file yet. The fallback stops working
// after the deadline so the migration cannot linger.
func WithLegacyFallbackUntil(deadline time.Time) FileStoreOption {
	return func(s *FileStore) { s.legacyUntil = deadline }
}

func NewFileStore(dir string, logger *slog.Logger, opts ...FileStoreOption) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("run index directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run index directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{dir: dir, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) Append(_ context.Context, pipeline string, rec domain.RunIndexRecord) error {
	if s == nil {
		return errors.New("run index store not initialized")
	}
	pipeline = strings.TrimSpace(pipeline)
	if err := validatePipeline(pipeline); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("run index record: %w", err)
	}
	line, err := json.Marshal(recordPayload{
		ManifestHash:     rec.ManifestHash,
		RunID:            rec.RunID,
		Timestamp:        rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Metrics:          rec.Metrics,
		ArtifactLocation: rec.ArtifactLocation,
	})
	if err != nil {
		return fmt.Errorf("encode run index record: %w", err)
	}
	f, err := os.OpenFile(s.path(pipeline), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run index: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append run index record: %w", err)
	}
	return nil
}

func (s *FileStore) Query(_ context.Context, pipeline, manifestHash string) ([]domain.RunIndexRecord, error) {
	if s == nil {
		return nil, errors.New("run index store not initialized")
	}
	pipeline = strings.TrimSpace(pipeline)
	if err := validatePipeline(pipeline); err != nil {
		return nil, err
	}
	path := s.path(pipeline)
	records, err := readRecords(path, manifestHash)
	if err == nil {
		return records, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if time.Now().After(s.legacyUntil) {
		return nil, nil
	}
	legacy := filepath.Join(s.dir, legacyIndexFile)
	records, lerr := readRecords(legacy, manifestHash)
	if errors.Is(lerr, fs.ErrNotExist) {
		return nil, nil
	}
	if lerr != nil {
		return nil, lerr
	}
	s.logger.Warn("run index served from legacy shared file",
		"pipeline", pipeline,
		"legacy_path", legacy,
		"fallback_deadline", s.legacyUntil.Format(time.RFC3339),
	)
	return records, nil
}

func (s *FileStore) path(pipeline string) string {
	return filepath.Join(s.dir, pipeline+".runs.jsonl")
}

type recordPayload struct {
	ManifestHash     string             `json:"manifest_hash"`
	RunID            string             `json:"run_id"`
	Timestamp        string             `json:"timestamp"`
	Metrics          map[string]float64 `json:"metrics,omitempty"`
	ArtifactLocation string             `json:"artifact_location,omitempty"`
}

func readRecords(path, manifestHash string) ([]domain.RunIndexRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.RunIndexRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var payload recordPayload
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			return nil, &domain.IndexCorruptionError{Source: path, Line: lineNo, Err: err}
		}
		ts, err := time.Parse(time.RFC3339Nano, payload.Timestamp)
		if err != nil {
			return nil, &domain.IndexCorruptionError{Source: path, Line: lineNo, Err: fmt.Errorf("timestamp: %w", err)}
		}
		rec := domain.RunIndexRecord{
			ManifestHash:     payload.ManifestHash,
			RunID:            payload.RunID,
			Timestamp:        ts,
			Metrics:          payload.Metrics,
			ArtifactLocation: payload.ArtifactLocation,
		}
		if err := rec.Validate(); err != nil {
			return nil, &domain.IndexCorruptionError{Source: path, Line: lineNo, Err: err}
		}
		if rec.ManifestHash != manifestHash {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan run index: %w", err)
	}
	return out, nil
}

func validatePipeline(pipeline string) error {
	if pipeline == "" {
		return errors.New("pipeline name is required")
	}
	if strings.ContainsAny(pipeline, "/\\") {
		return fmt.Errorf("pipeline name %q must not contain path separators", pipeline)
	}
	return nil
}
