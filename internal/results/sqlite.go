package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ColonelBlimp/apmetric/internal/algo"
	"github.com/ColonelBlimp/apmetric/internal/phase"
	"github.com/ColonelBlimp/apmetric/internal/spike"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores runs, per-buffer rows and spikes in a SQLite database.
// NaN values are stored as NULL.
type SQLiteSink struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteSink creates a sink writing to the database at path
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{path: path}
}

// Init opens the database and creates the tables.
func (s *SQLiteSink) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Write stores res under run in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, run RunInfo, res *algo.Result) error {
	// SQLite has a single writer
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errors.New("sink is not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, started, correlation_threshold)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Started.UTC().Format(time.RFC3339Nano), run.CorrelationThreshold); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	var ampStd, freqStd sql.NullFloat64
	if res.Baseline != nil {
		ampStd = nullable(res.Baseline.AmplitudeStd)
		freqStd = nullable(res.Baseline.FrequencyStd)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO subjects (run_id, subject, processed, complete, templates, curation_idx, amplitude_std, frequency_std)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, subject) DO UPDATE SET
			processed = excluded.processed,
			complete = excluded.complete,
			templates = excluded.templates,
			curation_idx = excluded.curation_idx,
			amplitude_std = excluded.amplitude_std,
			frequency_std = excluded.frequency_std
	`, run.ID, res.Subject, res.Processed, res.Complete, res.Templates, res.CurationIndex, ampStd, freqStd); err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}

	for _, table := range []string{"buffers", "spikes"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ? AND subject = ?`, run.ID, res.Subject); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	bufStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO buffers (run_id, subject, idx, phase, amplitude, frequency, amplitude_slope, frequency_slope, metric)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer bufStmt.Close()

	for i := 0; i < res.Processed; i++ {
		var ph int
		if i < len(res.Phases) {
			ph = int(res.Phases[i])
		}
		if _, err = bufStmt.ExecContext(ctx, run.ID, res.Subject, i, ph,
			nullable(res.Amplitude[i]), nullable(res.Frequency[i]),
			nullable(res.AmplitudeSlope[i]), nullable(res.FrequencySlope[i]),
			nullable(res.Metric[i])); err != nil {
			return fmt.Errorf("insert buffer %d: %w", i, err)
		}
	}

	spikeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spikes (run_id, subject, seq, location, amplitude)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer spikeStmt.Close()

	for i, e := range res.Spikes {
		if _, err = spikeStmt.ExecContext(ctx, run.ID, res.Subject, i, e.Location, e.Amplitude); err != nil {
			return fmt.Errorf("insert spike %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadSummary returns the per-buffer outputs of subject in run.
func (s *SQLiteSink) LoadSummary(ctx context.Context, runID, subject string) (Summary, []phase.Phase, error) {
	db, err := s.getDB()
	if err != nil {
		return Summary{}, nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT phase, amplitude, frequency, metric FROM buffers
		WHERE run_id = ? AND subject = ?
		ORDER BY idx
	`, runID, subject)
	if err != nil {
		return Summary{}, nil, err
	}
	defer rows.Close()

	var sum Summary
	var phases []phase.Phase
	for rows.Next() {
		var ph int
		var amp, freq, m sql.NullFloat64
		if err := rows.Scan(&ph, &amp, &freq, &m); err != nil {
			return Summary{}, nil, err
		}
		phases = append(phases, phase.Phase(ph))
		sum.Amplitude = append(sum.Amplitude, value(amp))
		sum.Frequency = append(sum.Frequency, value(freq))
		sum.Metric = append(sum.Metric, value(m))
	}
	return sum, phases, rows.Err()
}

// LoadSpikes returns the spike log of subject in run.
func (s *SQLiteSink) LoadSpikes(ctx context.Context, runID, subject string) ([]spike.Event, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT location, amplitude FROM spikes
		WHERE run_id = ? AND subject = ?
		ORDER BY seq
	`, runID, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []spike.Event
	for rows.Next() {
		var e spike.Event
		if err := rows.Scan(&e.Location, &e.Amplitude); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteSink) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("sink is not initialized")
	}
	return s.db, nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func value(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started TEXT NOT NULL,
			correlation_threshold REAL NOT NULL
		);
		CREATE TABLE IF NOT EXISTS subjects (
			run_id TEXT NOT NULL REFERENCES runs(id),
			subject TEXT NOT NULL,
			processed INTEGER NOT NULL,
			complete INTEGER NOT NULL,
			templates INTEGER NOT NULL,
			curation_idx INTEGER NOT NULL,
			amplitude_std REAL,
			frequency_std REAL,
			PRIMARY KEY (run_id, subject)
		);
		CREATE TABLE IF NOT EXISTS buffers (
			run_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			idx INTEGER NOT NULL,
			phase INTEGER NOT NULL,
			amplitude REAL,
			frequency REAL,
			amplitude_slope REAL,
			frequency_slope REAL,
			metric REAL,
			PRIMARY KEY (run_id, subject, idx)
		);
		CREATE TABLE IF NOT EXISTS spikes (
			run_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			seq INTEGER NOT NULL,
			location INTEGER NOT NULL,
			amplitude REAL NOT NULL,
			PRIMARY KEY (run_id, subject, seq)
		);
	`)
	return err
}
