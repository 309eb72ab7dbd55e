// Package history keeps an audit log of OTA update attempts in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/CK6170/wifiserial-web/internal/ota"
)

// InMemory keeps the log for the life of the process only.
const InMemory = ":memory:"

// Store is a SQLite-backed list of ota.Result records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, or an in-process one for
// InMemory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if path != InMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	schema := `
	CREATE TABLE IF NOT EXISTS ota_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		filename TEXT,
		size INTEGER NOT NULL,
		declared_digest TEXT,
		digest TEXT,
		verdict TEXT NOT NULL,
		reason TEXT,
		started_ms INTEGER NOT NULL,
		finished_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ota_history_finished ON ota_history(finished_ms);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record appends one finished upload.
func (s *Store) Record(ctx context.Context, r ota.Result) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO ota_history (
		session_id, kind, filename, size, declared_digest, digest, verdict, reason, started_ms, finished_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, string(r.Kind), r.Filename, r.Size, r.Declared, r.Digest,
		string(r.Verdict), r.Reason, r.Started.UnixMilli(), r.Finished.UnixMilli(),
	)
	return err
}

// List returns the most recent records first, at most limit (<= 0 means 50).
func (s *Store) List(ctx context.Context, limit int) ([]ota.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT session_id, kind, filename, size, declared_digest, digest, verdict, reason, started_ms, finished_ms
	FROM ota_history
	ORDER BY finished_ms DESC, id DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ota.Result, 0, limit)
	for rows.Next() {
		var (
			r                  ota.Result
			kind, verdict      string
			startMS, finishMS  int64
			filename, declared sql.NullString
			digest, reason     sql.NullString
		)
		if err := rows.Scan(&r.SessionID, &kind, &filename, &r.Size, &declared, &digest, &verdict, &reason, &startMS, &finishMS); err != nil {
			return nil, err
		}
		r.Kind = ota.Kind(kind)
		r.Verdict = ota.Verdict(verdict)
		r.Filename = filename.String
		r.Declared = declared.String
		r.Digest = digest.String
		r.Reason = reason.String
		r.Started = time.UnixMilli(startMS)
		r.Finished = time.UnixMilli(finishMS)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats summarizes committed updates of one kind.
type Stats struct {
	Kind              ota.Kind `json:"kind"`
	Attempts          int      `json:"attempts"`
	Committed         int      `json:"committed"`
	Rejected          int      `json:"rejected"`
	Failed            int      `json:"failed"`
	MeanDurationMS    float64  `json:"meanDurationMs"`
	StdDevDurationMS  float64  `json:"stdDevDurationMs"`
	MeanThroughputBps float64  `json:"meanThroughputBps"`
	MeanSize          float64  `json:"meanSize"`
}

// Summarize computes per-kind statistics over every recorded attempt.
func (s *Store) Summarize(ctx context.Context) ([]Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, verdict, size, started_ms, finished_ms FROM ota_history`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type sample struct {
		durations, throughput, sizes []float64
		st                           Stats
	}
	byKind := map[ota.Kind]*sample{
		ota.Firmware:   {st: Stats{Kind: ota.Firmware}},
		ota.Filesystem: {st: Stats{Kind: ota.Filesystem}},
	}
	for rows.Next() {
		var (
			kind, verdict     string
			size              int64
			startMS, finishMS int64
		)
		if err := rows.Scan(&kind, &verdict, &size, &startMS, &finishMS); err != nil {
			return nil, err
		}
		smp, ok := byKind[ota.Kind(kind)]
		if !ok {
			continue
		}
		smp.st.Attempts++
		switch ota.Verdict(verdict) {
		case ota.Committed:
			smp.st.Committed++
			d := float64(finishMS - startMS)
			smp.durations = append(smp.durations, d)
			smp.sizes = append(smp.sizes, float64(size))
			if d > 0 {
				smp.throughput = append(smp.throughput, float64(size)/(d/1000))
			}
		case ota.Rejected:
			smp.st.Rejected++
		default:
			smp.st.Failed++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Stats, 0, len(byKind))
	for _, k := range []ota.Kind{ota.Firmware, ota.Filesystem} {
		smp := byKind[k]
		switch {
		case len(smp.durations) > 1:
			smp.st.MeanDurationMS, smp.st.StdDevDurationMS = stat.MeanStdDev(smp.durations, nil)
			smp.st.MeanSize = stat.Mean(smp.sizes, nil)
		case len(smp.durations) == 1:
			// The sample deviation of one value is NaN, which JSON cannot carry.
			smp.st.MeanDurationMS = smp.durations[0]
			smp.st.MeanSize = smp.sizes[0]
		}
		if len(smp.throughput) > 0 {
			smp.st.MeanThroughputBps = stat.Mean(smp.throughput, nil)
		}
		out = append(out, smp.st)
	}
	return out, nil
}
